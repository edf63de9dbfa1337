package ib

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crm-backend/internal/commission"
	"crm-backend/internal/events"
	"crm-backend/internal/types"
)

var ErrSyncInProgress = errors.New("sync already in progress")

const (
	DefaultSyncInterval      = time.Minute
	DefaultReconcileInterval = 10 * time.Minute
	DefaultReconcileAfter    = 5 * time.Minute
	retentionInterval        = time.Hour
)

type Config struct {
	Lookbacks         Lookbacks
	Interval          time.Duration
	SkipInitial       bool
	ReconcileInterval time.Duration
	ReconcileAfter    time.Duration
	// Retention drops unprocessed trades older than this; 0 disables it.
	Retention time.Duration
}

type CycleResult struct {
	BatchID     string            `json:"batch_id"`
	Mode        types.SyncMode    `json:"mode"`
	Window      Window            `json:"window"`
	Ingest      IngestResult      `json:"ingest"`
	Attribution AttributionResult `json:"attribution"`
	Settlement  SettlementResult  `json:"settlement"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

type Status struct {
	IsProcessing bool           `json:"is_processing"`
	LastSyncTime *time.Time     `json:"last_sync_time"`
	Mode         types.SyncMode `json:"mode,omitempty"`
	LastResult   *CycleResult   `json:"last_result,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
}

// Service runs sync cycles: ingest, attribute, settle. At most one cycle
// runs at a time per process, and per database when a Locker is set.
type Service struct {
	poller      *Poller
	engine      *Engine
	settler     *Settler
	trades      TradeLedger
	commissions CommissionLedger
	locker      Locker
	publisher   Publisher
	metrics     *Metrics
	logger      *zap.Logger
	cfg         Config
	now         func() time.Time

	running atomic.Bool
	mu      sync.RWMutex
	status  Status
}

func NewService(poller *Poller, engine *Engine, settler *Settler, ledger TradeLedger, comms CommissionLedger, locker Locker, publisher Publisher, metrics *Metrics, cfg Config, logger *zap.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSyncInterval
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	if cfg.ReconcileAfter <= 0 {
		cfg.ReconcileAfter = DefaultReconcileAfter
	}
	cfg.Lookbacks = cfg.Lookbacks.withDefaults()
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		poller:      poller,
		engine:      engine,
		settler:     settler,
		trades:      ledger,
		commissions: comms,
		locker:      locker,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger.With(zap.String("component", "ib_sync")),
		cfg:         cfg,
		now:         time.Now,
	}
}

// SyncOnce runs one initial or regular cycle over the mode's lookback window.
func (s *Service) SyncOnce(ctx context.Context, mode types.SyncMode) (CycleResult, error) {
	w, err := WindowFor(mode, s.now(), s.cfg.Lookbacks)
	if err != nil {
		return CycleResult{Mode: mode}, err
	}
	return s.run(ctx, mode, w)
}

// TriggerManualSync re-fetches an operator chosen window. It obeys the same
// single-flight rule as scheduled cycles.
func (s *Service) TriggerManualSync(ctx context.Context, start, end time.Time) (CycleResult, error) {
	w, err := ManualWindow(start, end, s.now())
	if err != nil {
		return CycleResult{Mode: types.SyncModeManual}, err
	}
	return s.run(ctx, types.SyncModeManual, w)
}

func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	out.IsProcessing = s.running.Load()
	return out
}

func (s *Service) run(ctx context.Context, mode types.SyncMode, w Window) (CycleResult, error) {
	res := CycleResult{Mode: mode, Window: w}
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.cycle(string(mode), "skipped")
		return res, ErrSyncInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx)
		if err != nil {
			return res, s.fail(res, fmt.Errorf("acquire sync lock: %w", err))
		}
		if !ok {
			s.metrics.cycle(string(mode), "skipped")
			return res, ErrSyncInProgress
		}
		defer release()
	}

	res.BatchID = uuid.NewString()
	res.StartedAt = s.now().UTC()
	s.mu.Lock()
	s.status.Mode = mode
	s.mu.Unlock()
	s.publisher.Publish(events.New(events.TypeSyncStarted, map[string]any{
		"batch_id": res.BatchID,
		"mode":     mode,
		"window":   w,
	}))

	var err error
	if res.Ingest, err = s.poller.Ingest(ctx, w); err != nil {
		return res, s.fail(res, err)
	}
	if res.Attribution, err = s.engine.AttributeAll(ctx, res.BatchID); err != nil {
		return res, s.fail(res, err)
	}
	if res.Settlement, err = s.settler.SettleBatch(ctx, res.BatchID); err != nil {
		return res, s.fail(res, err)
	}
	res.FinishedAt = s.now().UTC()

	s.mu.Lock()
	finished := res.FinishedAt
	result := res
	s.status.LastSyncTime = &finished
	s.status.LastResult = &result
	s.status.LastError = ""
	s.mu.Unlock()

	s.metrics.cycle(string(mode), "ok")
	s.publisher.Publish(events.New(events.TypeSyncCompleted, res))
	s.logger.Info("sync cycle complete",
		zap.String("mode", string(mode)),
		zap.String("batch_id", res.BatchID),
		zap.Int("fetched", res.Ingest.Fetched),
		zap.Int("inserted", res.Ingest.Inserted),
		zap.Strings("failed_managers", res.Ingest.FailedManagers),
		zap.Int("trades_processed", res.Attribution.Processed),
		zap.Int("trades_failed", res.Attribution.Failed),
		zap.Int("commissions_created", res.Attribution.Created),
		zap.Int("settled", res.Settlement.Settled),
		zap.String("credited", res.Settlement.Credited.String()),
		zap.Duration("took", res.FinishedAt.Sub(res.StartedAt)))
	return res, nil
}

func (s *Service) fail(res CycleResult, err error) error {
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.mu.Unlock()
	s.metrics.cycle(string(res.Mode), "error")
	s.publisher.Publish(events.New(events.TypeSyncFailed, map[string]any{
		"batch_id": res.BatchID,
		"mode":     res.Mode,
		"error":    err.Error(),
	}))
	s.logger.Error("sync cycle failed",
		zap.String("mode", string(res.Mode)),
		zap.String("batch_id", res.BatchID),
		zap.Error(err))
	return err
}

func (s *Service) ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]commission.Commission, error) {
	return s.commissions.ListPending(ctx, olderThan, limit)
}

func (s *Service) SetCommissionStatus(ctx context.Context, ids []string, to types.CommissionStatus) (StatusChangeResult, error) {
	return s.settler.SetStatus(ctx, ids, to)
}

// Reconcile settles leftover pending batches and refreshes the pending age gauge.
func (s *Service) Reconcile(ctx context.Context) (SettlementResult, error) {
	res, err := s.settler.Reconcile(ctx, s.cfg.ReconcileAfter)
	if age, ageErr := s.commissions.OldestPendingAge(ctx); ageErr == nil {
		s.metrics.pendingAge(age.Seconds())
		if age > 4*s.cfg.ReconcileAfter {
			s.logger.Warn("commissions stuck in pending", zap.Duration("oldest_age", age))
		}
	} else {
		s.logger.Warn("read oldest pending age", zap.Error(ageErr))
	}
	return res, err
}

// Cleanup applies trade retention. It is a no-op when retention is disabled.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	if s.cfg.Retention <= 0 {
		return 0, nil
	}
	n, err := s.trades.DeleteUnprocessedBefore(ctx, s.now().Add(-s.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("retention removed unprocessed trades", zap.Int64("deleted", n))
	}
	return n, nil
}

// Run drives the scheduled cycles until ctx is done. The initial backfill
// window is retried on every tick until one initial cycle succeeds; only then
// do ticks switch to the regular window. Reconciliation and retention run on
// their own tickers.
func (s *Service) Run(ctx context.Context) error {
	initialDone := s.cfg.SkipInitial
	if !initialDone {
		initialDone = s.scheduled(ctx, types.SyncModeInitial)
	}
	syncTicker := time.NewTicker(s.cfg.Interval)
	defer syncTicker.Stop()
	reconcileTicker := time.NewTicker(s.cfg.ReconcileInterval)
	defer reconcileTicker.Stop()
	retentionTicker := time.NewTicker(retentionInterval)
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-syncTicker.C:
			if initialDone {
				s.scheduled(ctx, types.SyncModeRegular)
				continue
			}
			initialDone = s.scheduled(ctx, types.SyncModeInitial)
		case <-reconcileTicker.C:
			if _, err := s.Reconcile(ctx); err != nil {
				s.logger.Error("reconcile", zap.Error(err))
			}
		case <-retentionTicker.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Error("retention cleanup", zap.Error(err))
			}
		}
	}
}

// scheduled runs one cycle and reports whether it completed.
func (s *Service) scheduled(ctx context.Context, mode types.SyncMode) bool {
	_, err := s.SyncOnce(ctx, mode)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrSyncInProgress):
		s.logger.Debug("sync skipped, previous cycle still running", zap.String("mode", string(mode)))
	case mode == types.SyncModeInitial:
		s.logger.Warn("initial backfill failed, retrying on next tick", zap.Error(err))
	}
	return false
}

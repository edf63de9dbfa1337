package ib

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crm-backend/internal/accounts"
	"crm-backend/internal/cache"
	"crm-backend/internal/commission"
	"crm-backend/internal/db"
	"crm-backend/internal/rates"
	"crm-backend/internal/referral"
	"crm-backend/internal/trades"
)

const (
	DefaultAttributionConcurrency = 4
	DefaultAttributionBatch       = 500
	DefaultLookupTTL              = 5 * time.Minute

	// stuckAttempts is the failure count at which a trade is reported as stuck.
	stuckAttempts = 5
)

// SkipReason explains a trade that was closed out without commissions.
type SkipReason string

const (
	SkipNoAccount    SkipReason = "no_account"
	SkipNoReferral   SkipReason = "no_referral_node"
	SkipNoUpline     SkipReason = "no_upline"
	SkipNoGroup      SkipReason = "no_group"
	SkipAlreadyFinal SkipReason = "already_processed"
)

type TradeOutcome struct {
	PositionID string              `json:"position_id"`
	Created    int                 `json:"created"`
	Duplicates int                 `json:"duplicates"`
	NoRate     int                 `json:"no_rate"`
	Reason     SkipReason          `json:"reason,omitempty"`
	Walk       referral.StopReason `json:"walk,omitempty"`
}

type AttributionResult struct {
	Trades     int `json:"trades"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

type EngineConfig struct {
	Concurrency int
	BatchLimit  int
	LookupTTL   time.Duration
}

// Engine turns unprocessed ledger trades into commission rows.
type Engine struct {
	accounts    AccountDirectory
	referrals   ReferralDirectory
	rates       RateDirectory
	trades      TradeLedger
	commissions CommissionLedger
	cfg         EngineConfig
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

func NewEngine(accts AccountDirectory, refs ReferralDirectory, rateDir RateDirectory, ledger TradeLedger, comms CommissionLedger, cfg EngineConfig, metrics *Metrics, logger *zap.Logger) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultAttributionConcurrency
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultAttributionBatch
	}
	if cfg.LookupTTL <= 0 {
		cfg.LookupTTL = DefaultLookupTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		accounts:    accts,
		referrals:   refs,
		rates:       rateDir,
		trades:      ledger,
		commissions: comms,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger.With(zap.String("component", "ib_engine")),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// AttributeAll processes every unprocessed trade up to the batch limit.
// Commissions created here carry batchID. A failing trade is logged and
// left unprocessed with its attempt counter bumped, so it queues behind
// fresh trades next cycle. Only the listing itself can fail the call.
func (e *Engine) AttributeAll(ctx context.Context, batchID string) (AttributionResult, error) {
	var res AttributionResult
	pending, err := e.trades.ListUnprocessed(ctx, e.cfg.BatchLimit)
	if err != nil {
		return res, fmt.Errorf("list unprocessed trades: %w", err)
	}
	res.Trades = len(pending)
	if len(pending) == 0 {
		return res, nil
	}

	lookup := cache.New(e.cfg.LookupTTL)
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, t := range pending {
		t := t
		g.Go(func() error {
			out, err := e.attribute(ctx, lookup, batchID, t)
			if err != nil && ctx.Err() == nil {
				e.recordFailure(ctx, t, err)
			}
			mu.Lock()
			defer mu.Unlock()
			res.Created += out.Created
			res.Duplicates += out.Duplicates
			res.Skipped += out.NoRate
			if err != nil {
				res.Failed++
				e.logger.Error("attribute trade",
					zap.String("position_id", t.PositionID),
					zap.String("mt5_account", t.Account),
					zap.String("batch_id", batchID),
					zap.Error(err))
				return nil
			}
			res.Processed++
			return nil
		})
	}
	_ = g.Wait()
	e.metrics.created(res.Created)
	return res, nil
}

func (e *Engine) recordFailure(ctx context.Context, t trades.ClosedTrade, cause error) {
	attempts, err := e.trades.RecordFailure(ctx, t.PositionID, cause.Error())
	if err != nil {
		e.logger.Warn("record attribution failure", zap.String("position_id", t.PositionID), zap.Error(err))
		return
	}
	if attempts >= stuckAttempts {
		e.logger.Warn("trade stuck in attribution",
			zap.String("position_id", t.PositionID),
			zap.String("mt5_account", t.Account),
			zap.Int("attempts", attempts),
			zap.Error(cause))
	}
}

// AttributeTrade runs attribution for one trade with its own lookup cache.
func (e *Engine) AttributeTrade(ctx context.Context, batchID string, t trades.ClosedTrade) (TradeOutcome, error) {
	out, err := e.attribute(ctx, cache.New(e.cfg.LookupTTL), batchID, t)
	e.metrics.created(out.Created)
	return out, err
}

func (e *Engine) attribute(ctx context.Context, lookup *cache.Lookup, batchID string, t trades.ClosedTrade) (TradeOutcome, error) {
	out := TradeOutcome{PositionID: t.PositionID}
	if t.Processed {
		out.Reason = SkipAlreadyFinal
		return out, nil
	}

	acct, err := cache.Remember(lookup, "account:"+t.Account, func() (accounts.TradingAccount, error) {
		return e.accounts.GetTradingAccount(ctx, t.Account)
	}, accounts.ErrNotFound)
	if errors.Is(err, accounts.ErrNotFound) {
		out.Reason = SkipNoAccount
		return out, e.finish(ctx, t)
	}
	if err != nil {
		return out, fmt.Errorf("resolve account %s: %w", t.Account, err)
	}

	node, err := cache.Remember(lookup, "user:"+acct.UserID, func() (referral.Node, error) {
		return e.referrals.GetByUserID(ctx, acct.UserID)
	}, referral.ErrNotFound)
	if errors.Is(err, referral.ErrNotFound) {
		out.Reason = SkipNoReferral
		return out, e.finish(ctx, t)
	}
	if err != nil {
		return out, fmt.Errorf("resolve referral node for user %s: %w", acct.UserID, err)
	}

	walk, err := referral.Ancestors(ctx, cachedGetter{lookup: lookup, g: e.referrals}, node, referral.MaxDepth)
	if err != nil {
		return out, fmt.Errorf("walk upline of %s: %w", node.ID, err)
	}
	out.Walk = walk.Stop
	switch walk.Stop {
	case referral.StopCycle:
		e.logger.Error("referral cycle detected, upline truncated",
			zap.String("position_id", t.PositionID),
			zap.String("node_id", node.ID),
			zap.String("revisited_id", walk.StoppedAt),
			zap.Int("ancestors", len(walk.Chain)))
	case referral.StopMaxDepth:
		e.logger.Error("referral upline exceeds max depth, truncated",
			zap.String("position_id", t.PositionID),
			zap.String("node_id", node.ID),
			zap.String("next_id", walk.StoppedAt),
			zap.Int("max_depth", referral.MaxDepth))
	case referral.StopMissingParent:
		e.logger.Warn("referral parent missing, upline truncated",
			zap.String("node_id", node.ID),
			zap.String("parent_id", walk.StoppedAt))
	}
	if len(walk.Chain) == 0 {
		out.Reason = SkipNoUpline
		return out, e.finish(ctx, t)
	}

	groupID, err := cache.Remember(lookup, "group:"+acct.GroupName, func() (string, error) {
		return e.rates.ResolveGroup(ctx, acct.GroupName)
	}, rates.ErrNotFound)
	if errors.Is(err, rates.ErrNotFound) {
		out.Reason = SkipNoGroup
		out.NoRate = len(walk.Chain)
		return out, e.finish(ctx, t)
	}
	if err != nil {
		return out, fmt.Errorf("resolve group %q: %w", acct.GroupName, err)
	}

	for i, ancestor := range walk.Chain {
		level := i + 1
		bonus, err := cache.Remember(lookup, fmt.Sprintf("rate:%s:%d", groupID, level), func() (decimal.Decimal, error) {
			return e.rates.GetRate(ctx, groupID, level)
		}, rates.ErrNotFound)
		if errors.Is(err, rates.ErrNotFound) {
			out.NoRate++
			continue
		}
		if err != nil {
			return out, fmt.Errorf("rate for group %s level %d: %w", groupID, level, err)
		}
		c := commission.New(e.newID(), t.PositionID, ancestor.ID, acct.UserID, level, bonus, t.Volume, batchID)
		created, err := e.commissions.CreateIfAbsent(ctx, c)
		if err != nil && !db.IsUniqueViolation(err) {
			return out, fmt.Errorf("create commission level %d for %s: %w", level, ancestor.ID, err)
		}
		if created {
			out.Created++
		} else {
			out.Duplicates++
		}
	}
	return out, e.finish(ctx, t)
}

func (e *Engine) finish(ctx context.Context, t trades.ClosedTrade) error {
	if _, err := e.trades.MarkProcessed(ctx, t.PositionID, e.now().UTC()); err != nil {
		return fmt.Errorf("mark %s processed: %w", t.PositionID, err)
	}
	return nil
}

// cachedGetter memoizes node reads for one cycle.
type cachedGetter struct {
	lookup *cache.Lookup
	g      referral.Getter
}

func (c cachedGetter) GetByID(ctx context.Context, id string) (referral.Node, error) {
	return cache.Remember(c.lookup, "node:"+id, func() (referral.Node, error) {
		return c.g.GetByID(ctx, id)
	}, referral.ErrNotFound)
}

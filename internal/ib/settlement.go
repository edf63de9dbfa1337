package ib

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crm-backend/internal/commission"
	"crm-backend/internal/events"
	"crm-backend/internal/types"
)

type SettlementResult struct {
	Beneficiaries int             `json:"beneficiaries"`
	Settled       int             `json:"settled"`
	Failed        int             `json:"failed"`
	Credited      decimal.Decimal `json:"credited"`
}

func (r *SettlementResult) add(o SettlementResult) {
	r.Beneficiaries += o.Beneficiaries
	r.Settled += o.Settled
	r.Failed += o.Failed
	r.Credited = r.Credited.Add(o.Credited)
}

// beneficiaryTotal is one beneficiary's share of a batch.
type beneficiaryTotal struct {
	BeneficiaryID string
	IDs           []string
	Amount        decimal.Decimal
}

// aggregateByBeneficiary groups pending rows by beneficiary, sorted by id.
func aggregateByBeneficiary(rows []commission.Commission) []beneficiaryTotal {
	idx := make(map[string]int, len(rows))
	out := make([]beneficiaryTotal, 0, len(rows))
	for _, c := range rows {
		if c.Status != types.CommissionStatusPending {
			continue
		}
		i, ok := idx[c.BeneficiaryID]
		if !ok {
			i = len(out)
			idx[c.BeneficiaryID] = i
			out = append(out, beneficiaryTotal{BeneficiaryID: c.BeneficiaryID, Amount: decimal.Zero})
		}
		out[i].IDs = append(out[i].IDs, c.ID)
		out[i].Amount = out[i].Amount.Add(c.Amount)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].BeneficiaryID < out[b].BeneficiaryID })
	return out
}

// Settler credits beneficiary balances for pending commissions.
type Settler struct {
	commissions CommissionLedger
	publisher   Publisher
	metrics     *Metrics
	logger      *zap.Logger
}

func NewSettler(comms CommissionLedger, publisher Publisher, metrics *Metrics, logger *zap.Logger) *Settler {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Settler{
		commissions: comms,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger.With(zap.String("component", "ib_settler")),
	}
}

// SettleBatch confirms the batch's pending rows one beneficiary at a time.
// A beneficiary whose transaction fails keeps its rows pending; the others
// still settle. Reconcile picks the leftovers up later.
func (s *Settler) SettleBatch(ctx context.Context, batchID string) (SettlementResult, error) {
	res := SettlementResult{Credited: decimal.Zero}
	rows, err := s.commissions.PendingByBatch(ctx, batchID)
	if err != nil {
		return res, fmt.Errorf("load batch %s: %w", batchID, err)
	}
	for _, b := range aggregateByBeneficiary(rows) {
		res.add(s.settleBeneficiary(ctx, batchID, b))
	}
	return res, nil
}

func (s *Settler) settleBeneficiary(ctx context.Context, batchID string, b beneficiaryTotal) SettlementResult {
	res := SettlementResult{Beneficiaries: 1, Credited: decimal.Zero}
	credited, n, err := s.commissions.SettleBeneficiary(ctx, b.BeneficiaryID, b.IDs)
	if err != nil {
		res.Failed = len(b.IDs)
		s.metrics.settlementFailed()
		s.logger.Error("settle beneficiary, commissions stay pending",
			zap.String("batch_id", batchID),
			zap.String("beneficiary_id", b.BeneficiaryID),
			zap.Int("commissions", len(b.IDs)),
			zap.String("amount", b.Amount.String()),
			zap.Error(err))
		s.publisher.Publish(events.New(events.TypeSettlementFailure, map[string]any{
			"batch_id":       batchID,
			"beneficiary_id": b.BeneficiaryID,
			"commissions":    len(b.IDs),
			"error":          err.Error(),
		}))
		return res
	}
	res.Settled = n
	res.Credited = credited
	return res
}

// Reconcile settles every batch that still has pending rows older than olderThan.
func (s *Settler) Reconcile(ctx context.Context, olderThan time.Duration) (SettlementResult, error) {
	res := SettlementResult{Credited: decimal.Zero}
	batches, err := s.commissions.PendingBatches(ctx, olderThan)
	if err != nil {
		return res, fmt.Errorf("list pending batches: %w", err)
	}
	for _, batchID := range batches {
		r, err := s.SettleBatch(ctx, batchID)
		if err != nil {
			s.logger.Error("reconcile batch", zap.String("batch_id", batchID), zap.Error(err))
			continue
		}
		res.add(r)
	}
	if len(batches) > 0 {
		s.logger.Info("reconcile complete",
			zap.Int("batches", len(batches)),
			zap.Int("settled", res.Settled),
			zap.Int("failed", res.Failed),
			zap.String("credited", res.Credited.String()))
	}
	return res, nil
}

type StatusChangeResult struct {
	Requested int             `json:"requested"`
	Changed   int             `json:"changed"`
	Rejected  []string        `json:"rejected,omitempty"`
	Credited  decimal.Decimal `json:"credited"`
}

// SetStatus applies an operator decision to the listed commissions. Confirming
// credits the beneficiary exactly like batch settlement; cancelling and paying
// out leave balances alone. Rows not in a state that allows the move are
// reported in Rejected and left unchanged.
func (s *Settler) SetStatus(ctx context.Context, ids []string, to types.CommissionStatus) (StatusChangeResult, error) {
	res := StatusChangeResult{Credited: decimal.Zero}
	if !to.Valid() || to == types.CommissionStatusPending {
		return res, commission.ErrInvalidStatus
	}
	ids = uniqueIDs(ids)
	res.Requested = len(ids)
	if len(ids) == 0 {
		return res, nil
	}
	rows, err := s.commissions.GetByIDs(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("load commissions: %w", err)
	}
	found := make(map[string]struct{}, len(rows))
	var eligible []commission.Commission
	for _, c := range rows {
		found[c.ID] = struct{}{}
		if commission.CanTransition(c.Status, to) {
			eligible = append(eligible, c)
		} else {
			res.Rejected = append(res.Rejected, c.ID)
		}
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			res.Rejected = append(res.Rejected, id)
		}
	}

	if commission.Credits(to) {
		for _, b := range aggregateByBeneficiary(eligible) {
			r := s.settleBeneficiary(ctx, "manual", b)
			res.Changed += r.Settled
			res.Credited = res.Credited.Add(r.Credited)
		}
	} else if len(eligible) > 0 {
		from := eligible[0].Status
		eligibleIDs := make([]string, 0, len(eligible))
		for _, c := range eligible {
			eligibleIDs = append(eligibleIDs, c.ID)
		}
		n, err := s.commissions.Transition(ctx, eligibleIDs, from, to)
		if err != nil {
			return res, fmt.Errorf("transition to %s: %w", to, err)
		}
		res.Changed = int(n)
	}
	s.publisher.Publish(events.New(events.TypeCommissionStatus, map[string]any{
		"status":  to,
		"changed": res.Changed,
		"ids":     ids,
	}))
	return res, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package ib

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crm-backend/internal/accounts"
	"crm-backend/internal/broker"
	"crm-backend/internal/commission"
	"crm-backend/internal/events"
	"crm-backend/internal/rates"
	"crm-backend/internal/referral"
	"crm-backend/internal/trades"
	"crm-backend/internal/types"
)

// memStore backs every directory and ledger the pipeline touches.
type memStore struct {
	mu sync.Mutex

	accounts map[string]accounts.TradingAccount
	listErr  error

	nodes    map[string]referral.Node
	balances map[string]decimal.Decimal

	groups map[string]string
	rates  map[string]decimal.Decimal

	trades      map[string]trades.ClosedTrade
	insertCalls int

	commissions map[string]commission.Commission
	slots       map[commission.Key]string

	failCreate map[string]int
	failSettle map[string]bool
	rateLookup int
}

func newMemStore() *memStore {
	return &memStore{
		accounts:    map[string]accounts.TradingAccount{},
		nodes:       map[string]referral.Node{},
		balances:    map[string]decimal.Decimal{},
		groups:      map[string]string{},
		rates:       map[string]decimal.Decimal{},
		trades:      map[string]trades.ClosedTrade{},
		commissions: map[string]commission.Commission{},
		slots:       map[commission.Key]string{},
		failCreate:  map[string]int{},
		failSettle:  map[string]bool{},
	}
}

func rateKey(groupID string, level int) string {
	return fmt.Sprintf("%s/%d", groupID, level)
}

func (m *memStore) addAccount(mt5, userID, group, manager string) {
	m.accounts[mt5] = accounts.TradingAccount{MT5Account: mt5, UserID: userID, GroupName: group, ManagerIndex: manager}
}

func (m *memStore) addNode(id, userID, parentID string) {
	m.nodes[id] = referral.Node{ID: id, UserID: userID, ParentID: parentID, Status: types.ReferralStatusActive}
}

func (m *memStore) setRate(group string, level int, bonus string) {
	id, ok := m.groups[group]
	if !ok {
		id = "grp-" + group
		m.groups[group] = id
	}
	m.rates[rateKey(id, level)] = decimal.RequireFromString(bonus)
}

func (m *memStore) deleteRate(group string, level int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rates, rateKey(m.groups[group], level))
}

func (m *memStore) balance(id string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[id]
	if !ok {
		return decimal.Zero
	}
	return b
}

func (m *memStore) commissionsFor(positionID string) []commission.Commission {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []commission.Commission
	for _, c := range m.commissions {
		if c.PositionID == positionID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

func (m *memStore) trade(positionID string) trades.ClosedTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trades[positionID]
}

// AccountDirectory

func (m *memStore) ListTradingAccounts(ctx context.Context) ([]accounts.TradingAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]accounts.TradingAccount, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MT5Account < out[j].MT5Account })
	return out, nil
}

func (m *memStore) GetTradingAccount(ctx context.Context, mt5 string) (accounts.TradingAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[mt5]
	if !ok {
		return accounts.TradingAccount{}, accounts.ErrNotFound
	}
	return a, nil
}

// ReferralDirectory

func (m *memStore) GetByID(ctx context.Context, id string) (referral.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return referral.Node{}, referral.ErrNotFound
	}
	return n, nil
}

func (m *memStore) GetByUserID(ctx context.Context, userID string) (referral.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.nodes {
		if n.UserID == userID {
			return n, nil
		}
	}
	return referral.Node{}, referral.ErrNotFound
}

// RateDirectory

func (m *memStore) ResolveGroup(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.groups[name]
	if !ok {
		return "", rates.ErrNotFound
	}
	return id, nil
}

func (m *memStore) GetRate(ctx context.Context, groupID string, level int) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLookup++
	r, ok := m.rates[rateKey(groupID, level)]
	if !ok {
		return decimal.Zero, rates.ErrNotFound
	}
	return r, nil
}

// TradeLedger

func (m *memStore) InsertIfAbsent(ctx context.Context, t trades.ClosedTrade) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if _, ok := m.trades[t.PositionID]; ok {
		return false, nil
	}
	t.CreatedAt = time.Now().UTC()
	m.trades[t.PositionID] = t
	return true, nil
}

func (m *memStore) ListUnprocessed(ctx context.Context, limit int) ([]trades.ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []trades.ClosedTrade
	for _, t := range m.trades {
		if !t.Processed {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempts != out[j].Attempts {
			return out[i].Attempts < out[j].Attempts
		}
		return out[i].PositionID < out[j].PositionID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkProcessed(ctx context.Context, positionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[positionID]
	if !ok || t.Processed {
		return false, nil
	}
	t.Processed = true
	t.ProcessedAt = &at
	m.trades[positionID] = t
	return true, nil
}

func (m *memStore) RecordFailure(ctx context.Context, positionID, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[positionID]
	if !ok || t.Processed {
		return 0, nil
	}
	t.Attempts++
	t.LastError = reason
	m.trades[positionID] = t
	return t.Attempts, nil
}

func (m *memStore) DeleteUnprocessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.trades {
		if !t.Processed && t.CreatedAt.Before(cutoff) {
			delete(m.trades, id)
			n++
		}
	}
	return n, nil
}

// CommissionLedger

func (m *memStore) CreateIfAbsent(ctx context.Context, c commission.Commission) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.failCreate[c.BeneficiaryID]; n > 0 {
		m.failCreate[c.BeneficiaryID] = n - 1
		return false, errors.New("write timeout")
	}
	if _, ok := m.slots[c.Key()]; ok {
		return false, nil
	}
	c.CreatedAt = time.Now().UTC()
	m.commissions[c.ID] = c
	m.slots[c.Key()] = c.ID
	return true, nil
}

func (m *memStore) filter(keep func(commission.Commission) bool) []commission.Commission {
	var out []commission.Commission
	for _, c := range m.commissions {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) PendingByBatch(ctx context.Context, batchID string) ([]commission.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(c commission.Commission) bool {
		return c.BatchID == batchID && c.Status == types.CommissionStatusPending
	}), nil
}

func (m *memStore) PendingBatches(ctx context.Context, olderThan time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	seen := map[string]bool{}
	var out []string
	for _, c := range m.filter(func(c commission.Commission) bool {
		return c.Status == types.CommissionStatusPending && !c.CreatedAt.After(cutoff)
	}) {
		if !seen[c.BatchID] {
			seen[c.BatchID] = true
			out = append(out, c.BatchID)
		}
	}
	return out, nil
}

func (m *memStore) ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]commission.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	out := m.filter(func(c commission.Commission) bool {
		return c.Status == types.CommissionStatusPending && !c.CreatedAt.After(cutoff)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetByIDs(ctx context.Context, ids []string) ([]commission.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	return m.filter(func(c commission.Commission) bool { return want[c.ID] }), nil
}

func (m *memStore) SettleBeneficiary(ctx context.Context, beneficiaryID string, ids []string) (decimal.Decimal, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSettle[beneficiaryID] {
		return decimal.Zero, 0, errors.New("balance update failed")
	}
	total := decimal.Zero
	n := 0
	now := time.Now().UTC()
	for _, id := range ids {
		c, ok := m.commissions[id]
		if !ok || c.BeneficiaryID != beneficiaryID || c.Status != types.CommissionStatusPending {
			continue
		}
		c.Status = types.CommissionStatusConfirmed
		c.SettledAt = &now
		m.commissions[id] = c
		total = total.Add(c.Amount)
		n++
	}
	if n > 0 {
		b, ok := m.balances[beneficiaryID]
		if !ok {
			b = decimal.Zero
		}
		m.balances[beneficiaryID] = b.Add(total)
	}
	return total, n, nil
}

func (m *memStore) Transition(ctx context.Context, ids []string, from, to types.CommissionStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !commission.CanTransition(from, to) || commission.Credits(to) {
		return 0, commission.ErrInvalidTransition
	}
	var n int64
	for _, id := range ids {
		c, ok := m.commissions[id]
		if !ok || c.Status != from {
			continue
		}
		c.Status = to
		m.commissions[id] = c
		n++
	}
	return n, nil
}

func (m *memStore) OldestPendingAge(ctx context.Context) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest time.Time
	for _, c := range m.commissions {
		if c.Status == types.CommissionStatusPending && (oldest.IsZero() || c.CreatedAt.Before(oldest)) {
			oldest = c.CreatedAt
		}
	}
	if oldest.IsZero() {
		return 0, nil
	}
	return time.Since(oldest), nil
}

// fakePlatform serves canned trades per manager index.
type fakePlatform struct {
	mu     sync.Mutex
	trades map[string][]broker.ClosedTrade
	errs   map[string]error
	block  map[string]chan struct{}
	calls  map[string]int
	spans  []time.Duration
	onCall func(managerIndex string)
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		trades: map[string][]broker.ClosedTrade{},
		errs:   map[string]error{},
		block:  map[string]chan struct{}{},
		calls:  map[string]int{},
	}
}

func (p *fakePlatform) GetCloseTradeAllUsers(ctx context.Context, managerIndex string, start, end time.Time) ([]broker.ClosedTrade, error) {
	p.mu.Lock()
	p.calls[managerIndex]++
	p.spans = append(p.spans, end.Sub(start))
	list := p.trades[managerIndex]
	err := p.errs[managerIndex]
	block := p.block[managerIndex]
	onCall := p.onCall
	p.mu.Unlock()
	if onCall != nil {
		onCall(managerIndex)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return list, err
}

func (p *fakePlatform) requestedSpans() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.spans...)
}

func platformTrade(account, positionID, volume string) broker.ClosedTrade {
	return broker.ClosedTrade{
		Account:    account,
		PositionID: positionID,
		Symbol:     "EURUSD",
		Volume:     decimal.RequireFromString(volume),
		CloseTime:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(evt events.Event) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeLocker struct {
	ok       bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(ctx context.Context) (func(), bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func() { l.released++ }, true, nil
}

// pipeline wires the real poller, engine and settler over memStore.
type pipeline struct {
	store    *memStore
	platform *fakePlatform
	pub      *recordingPublisher
	poller   *Poller
	engine   *Engine
	settler  *Settler
	svc      *Service
}

func newPipeline(locker Locker) *pipeline {
	store := newMemStore()
	platform := newFakePlatform()
	pub := &recordingPublisher{}
	poller := NewPoller(store, platform, store, time.Second, nil, nil)
	engine := NewEngine(store, store, store, store, store, EngineConfig{Concurrency: 4}, nil, nil)
	settler := NewSettler(store, pub, nil, nil)
	svc := NewService(poller, engine, settler, store, store, locker, pub, nil, Config{ReconcileAfter: time.Minute}, nil)
	return &pipeline{store: store, platform: platform, pub: pub, poller: poller, engine: engine, settler: settler, svc: svc}
}

// seedScenario builds U -> P1 -> P2 with $5 and $3 per lot on group "std".
func (p *pipeline) seedScenario() {
	p.store.addAccount("ACC1", "U", "std", "1")
	p.store.addNode("NU", "U", "P1")
	p.store.addNode("P1", "user-p1", "P2")
	p.store.addNode("P2", "user-p2", "")
	p.store.setRate("std", 1, "5")
	p.store.setRate("std", 2, "3")
}

package ib

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"crm-backend/internal/accounts"
	"crm-backend/internal/commission"
	"crm-backend/internal/events"
	"crm-backend/internal/referral"
	"crm-backend/internal/trades"
	"crm-backend/internal/types"
)

type AccountDirectory interface {
	ListTradingAccounts(ctx context.Context) ([]accounts.TradingAccount, error)
	GetTradingAccount(ctx context.Context, mt5Account string) (accounts.TradingAccount, error)
}

type RateDirectory interface {
	ResolveGroup(ctx context.Context, groupName string) (string, error)
	GetRate(ctx context.Context, groupID string, level int) (decimal.Decimal, error)
}

type ReferralDirectory interface {
	referral.Getter
	GetByUserID(ctx context.Context, userID string) (referral.Node, error)
}

type TradeLedger interface {
	InsertIfAbsent(ctx context.Context, t trades.ClosedTrade) (bool, error)
	ListUnprocessed(ctx context.Context, limit int) ([]trades.ClosedTrade, error)
	MarkProcessed(ctx context.Context, positionID string, at time.Time) (bool, error)
	RecordFailure(ctx context.Context, positionID, reason string) (int, error)
	DeleteUnprocessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type CommissionLedger interface {
	CreateIfAbsent(ctx context.Context, c commission.Commission) (bool, error)
	PendingByBatch(ctx context.Context, batchID string) ([]commission.Commission, error)
	PendingBatches(ctx context.Context, olderThan time.Duration) ([]string, error)
	ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]commission.Commission, error)
	GetByIDs(ctx context.Context, ids []string) ([]commission.Commission, error)
	SettleBeneficiary(ctx context.Context, beneficiaryID string, ids []string) (decimal.Decimal, int, error)
	Transition(ctx context.Context, ids []string, from, to types.CommissionStatus) (int64, error)
	OldestPendingAge(ctx context.Context) (time.Duration, error)
}

type Publisher interface {
	Publish(evt events.Event)
}

// Locker guards a sync cycle across processes.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

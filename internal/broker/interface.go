package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ClosedTrade is one closed position as reported by the trading platform,
// normalized to canonical types.
type ClosedTrade struct {
	Account    string
	PositionID string
	Ticket     string
	Symbol     string
	OpenTime   time.Time
	CloseTime  time.Time
	OpenPrice  decimal.Decimal
	ClosePrice decimal.Decimal
	Profit     decimal.Decimal
	Volume     decimal.Decimal
	Commission decimal.Decimal
	Swap       decimal.Decimal
	Comment    string
	Reason     int
	Entry      int
}

// Platform is the slice of the MT5 manager API the IB core consumes.
type Platform interface {
	GetCloseTradeAllUsers(ctx context.Context, managerIndex string, start, end time.Time) ([]ClosedTrade, error)
}

package trades

import (
	"time"

	"github.com/shopspring/decimal"

	"crm-backend/internal/broker"
)

// ClosedTrade is one ledger row. PositionID is the dedup key; Processed flips
// false to true exactly once, when commission attribution completes.
type ClosedTrade struct {
	PositionID  string          `json:"position_id"`
	Ticket      string          `json:"ticket"`
	Account     string          `json:"mt5_account"`
	Symbol      string          `json:"symbol"`
	OpenTime    time.Time       `json:"open_time"`
	CloseTime   time.Time       `json:"close_time"`
	OpenPrice   decimal.Decimal `json:"open_price"`
	ClosePrice  decimal.Decimal `json:"close_price"`
	Profit      decimal.Decimal `json:"profit"`
	Volume      decimal.Decimal `json:"volume"`
	Commission  decimal.Decimal `json:"commission"`
	Swap        decimal.Decimal `json:"swap"`
	Comment     string          `json:"comment"`
	Reason      int             `json:"reason"`
	Entry       int             `json:"entry"`
	Processed   bool            `json:"processed"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func FromPlatform(t broker.ClosedTrade) ClosedTrade {
	return ClosedTrade{
		PositionID: t.PositionID,
		Ticket:     t.Ticket,
		Account:    t.Account,
		Symbol:     t.Symbol,
		OpenTime:   t.OpenTime,
		CloseTime:  t.CloseTime,
		OpenPrice:  t.OpenPrice,
		ClosePrice: t.ClosePrice,
		Profit:     t.Profit,
		Volume:     t.Volume,
		Commission: t.Commission,
		Swap:       t.Swap,
		Comment:    t.Comment,
		Reason:     t.Reason,
		Entry:      t.Entry,
	}
}

package commission

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"crm-backend/internal/types"
)

var (
	ErrNotFound          = errors.New("commission not found")
	ErrInvalidStatus     = errors.New("invalid commission status")
	ErrInvalidTransition = errors.New("commission status transition not allowed")
	ErrBeneficiaryGone   = errors.New("beneficiary referral node not found")
)

// Commission is one attribution of a trade to one ancestor. Amount is fixed
// at creation and never recomputed.
type Commission struct {
	ID            string                 `json:"id"`
	PositionID    string                 `json:"position_id"`
	BeneficiaryID string                 `json:"beneficiary_id"`
	ClientUserID  string                 `json:"client_user_id"`
	Level         int                    `json:"level"`
	BonusPerLot   decimal.Decimal        `json:"bonus_per_lot"`
	Volume        decimal.Decimal        `json:"volume"`
	Amount        decimal.Decimal        `json:"commission_amount"`
	Status        types.CommissionStatus `json:"status"`
	BatchID       string                 `json:"batch_id"`
	CreatedAt     time.Time              `json:"created_at"`
	SettledAt     *time.Time             `json:"settled_at,omitempty"`
}

// New builds a pending commission with amount = bonusPerLot * volume.
func New(id, positionID, beneficiaryID, clientUserID string, level int, bonusPerLot, volume decimal.Decimal, batchID string) Commission {
	return Commission{
		ID:            id,
		PositionID:    positionID,
		BeneficiaryID: beneficiaryID,
		ClientUserID:  clientUserID,
		Level:         level,
		BonusPerLot:   bonusPerLot,
		Volume:        volume,
		Amount:        bonusPerLot.Mul(volume),
		Status:        types.CommissionStatusPending,
		BatchID:       batchID,
	}
}

// Key identifies the unique (trade, beneficiary, level) slot.
type Key struct {
	PositionID    string
	BeneficiaryID string
	Level         int
}

func (c Commission) Key() Key {
	return Key{PositionID: c.PositionID, BeneficiaryID: c.BeneficiaryID, Level: c.Level}
}

// CanTransition reports whether an operator may move a commission from one
// status to another. Only pending rows move to confirmed or cancelled, and
// only confirmed rows are paid out.
func CanTransition(from, to types.CommissionStatus) bool {
	switch from {
	case types.CommissionStatusPending:
		return to == types.CommissionStatusConfirmed || to == types.CommissionStatusCancelled
	case types.CommissionStatusConfirmed:
		return to == types.CommissionStatusPaid
	}
	return false
}

// Credits reports whether moving into to changes the beneficiary balance.
func Credits(to types.CommissionStatus) bool {
	return to == types.CommissionStatusConfirmed
}

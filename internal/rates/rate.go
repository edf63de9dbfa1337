package rates

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinLevel = 1
	MaxLevel = 10
)

var (
	ErrNotFound     = errors.New("rate not found")
	ErrInvalidLevel = errors.New("level must be between 1 and 10")
	ErrInvalidBonus = errors.New("bonus_per_lot must be >= 0")
	ErrInvalidGroup = errors.New("group name is required")
)

// Rate is the bonus paid per lot to the ancestor at Level for trades on
// accounts in the group.
type Rate struct {
	GroupID           string          `json:"group_id"`
	GroupName         string          `json:"group_name"`
	Level             int             `json:"level"`
	BonusPerLot       decimal.Decimal `json:"bonus_per_lot"`
	PropagationWindow *time.Duration  `json:"propagation_window,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type UpsertInput struct {
	GroupName         string
	Level             int
	BonusPerLot       decimal.Decimal
	PropagationWindow *time.Duration
}

func (in UpsertInput) Validate() (UpsertInput, error) {
	in.GroupName = strings.TrimSpace(in.GroupName)
	if in.GroupName == "" {
		return in, ErrInvalidGroup
	}
	if in.Level < MinLevel || in.Level > MaxLevel {
		return in, ErrInvalidLevel
	}
	if in.BonusPerLot.IsNegative() {
		return in, ErrInvalidBonus
	}
	if in.PropagationWindow != nil && *in.PropagationWindow <= 0 {
		in.PropagationWindow = nil
	}
	return in, nil
}

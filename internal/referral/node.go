package referral

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crm-backend/internal/types"
)

var (
	ErrNotFound        = errors.New("referral node not found")
	ErrAlreadyEnrolled = errors.New("user already has a referral configuration")
	ErrInvalidCode     = errors.New("referral code is invalid or inactive")
	ErrInactive        = errors.New("referral configuration is inactive")
	ErrUserIDRequired  = errors.New("user_id is required")
)

// Node is one IB configuration. Nodes form a forest through ParentID.
type Node struct {
	ID           string               `json:"id"`
	UserID       string               `json:"user_id"`
	ReferralCode string               `json:"referral_code,omitempty"`
	Status       types.ReferralStatus `json:"status"`
	Level        int                  `json:"level"`
	ParentID     string               `json:"parent_id,omitempty"`
	Balance      decimal.Decimal      `json:"balance"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func (n Node) IsRoot() bool {
	return n.ParentID == ""
}

func codeFromUserID(userID string) string {
	trimmed := strings.TrimSpace(strings.ToLower(userID))
	if trimmed == "" {
		return ""
	}
	return "ib" + strings.ReplaceAll(trimmed, "-", "")
}

func normalizeCode(code string) string {
	value := strings.ToLower(strings.TrimSpace(code))
	if strings.HasPrefix(value, "ref_") {
		value = strings.TrimSpace(strings.TrimPrefix(value, "ref_"))
	}
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "ib") {
		return value
	}
	return "ib" + value
}

package broker

import (
	"context"
	"errors"
	"time"
)

var ErrNotConfigured = errors.New("trading platform not configured")

type DisabledPlatform struct{}

func NewDisabledPlatform() *DisabledPlatform {
	return &DisabledPlatform{}
}

func (p *DisabledPlatform) GetCloseTradeAllUsers(ctx context.Context, managerIndex string, start, end time.Time) ([]ClosedTrade, error) {
	return nil, ErrNotConfigured
}

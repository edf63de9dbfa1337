package ib

import (
	"errors"
	"fmt"
	"time"

	"crm-backend/internal/types"
)

var ErrInvalidWindow = errors.New("invalid sync window")

const (
	DefaultInitialLookback = 365 * 24 * time.Hour
	DefaultRegularLookback = 24 * time.Hour
	maxManualSpan          = 366 * 24 * time.Hour
)

type Window struct {
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
}

type Lookbacks struct {
	Initial time.Duration
	Regular time.Duration
}

func (l Lookbacks) withDefaults() Lookbacks {
	if l.Initial <= 0 {
		l.Initial = DefaultInitialLookback
	}
	if l.Regular <= 0 {
		l.Regular = DefaultRegularLookback
	}
	return l
}

// WindowFor returns the lookback window ending at now. Manual windows are
// operator supplied and go through ManualWindow instead.
func WindowFor(mode types.SyncMode, now time.Time, lb Lookbacks) (Window, error) {
	lb = lb.withDefaults()
	now = now.UTC()
	switch mode {
	case types.SyncModeInitial:
		return Window{Start: now.Add(-lb.Initial), End: now}, nil
	case types.SyncModeRegular:
		return Window{Start: now.Add(-lb.Regular), End: now}, nil
	}
	return Window{}, fmt.Errorf("%w: mode %q has no default window", ErrInvalidWindow, mode)
}

// ManualWindow validates an operator window. An end in the future is clamped to now.
func ManualWindow(start, end, now time.Time) (Window, error) {
	if start.IsZero() || end.IsZero() {
		return Window{}, fmt.Errorf("%w: start_time and end_time are required", ErrInvalidWindow)
	}
	start, end, now = start.UTC(), end.UTC(), now.UTC()
	if end.After(now) {
		end = now
	}
	if !start.Before(end) {
		return Window{}, fmt.Errorf("%w: start_time must be before end_time", ErrInvalidWindow)
	}
	if end.Sub(start) > maxManualSpan {
		return Window{}, fmt.Errorf("%w: window longer than %d days", ErrInvalidWindow, int(maxManualSpan.Hours()/24))
	}
	return Window{Start: start, End: end}, nil
}

package events

import (
	"sync"
	"time"
)

const (
	TypeSyncStarted       = "sync.started"
	TypeSyncCompleted     = "sync.completed"
	TypeSyncFailed        = "sync.failed"
	TypeSettlementFailure = "settlement.failed"
	TypeCommissionStatus  = "commission.status"
)

type Event struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
	Data any    `json:"data"`
}

func New(typ string, data any) Event {
	return Event{Type: typ, TS: time.Now().UTC().UnixMilli(), Data: data}
}

// Bus fans events out to subscribers. Slow subscribers drop events rather
// than block the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Package notify broadcasts service events (new conversation, escalation,
// failed work) to operator-facing rooms. Delivery is strictly best-effort:
// failures are logged and never retried by the core.
package notify

import (
	"context"
	"log"
	"sync"
)

// Event is one broadcast payload.
type Event struct {
	Room     string // target room/channel; adapters fall back to a default
	Kind     string // e.g. "new_conversation", "escalation", "work_failed"
	TenantID string
	Title    string
	Body     string
}

// Broadcaster delivers events to one destination platform.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev Event) error
}

// Multi fans an event out to several broadcasters, logging failures.
type Multi struct {
	broadcasters []Broadcaster
}

// NewMulti creates a Multi. Nil entries are skipped.
func NewMulti(bs ...Broadcaster) *Multi {
	m := &Multi{}
	for _, b := range bs {
		if b != nil {
			m.broadcasters = append(m.broadcasters, b)
		}
	}
	return m
}

// Broadcast delivers to every adapter. Always returns nil; per-adapter
// failures are logged only.
func (m *Multi) Broadcast(ctx context.Context, ev Event) error {
	for _, b := range m.broadcasters {
		if err := b.Broadcast(ctx, ev); err != nil {
			log.Printf("notify: broadcast %s [%s]: %v", ev.Kind, ev.Room, err)
		}
	}
	return nil
}

// Mock implements Broadcaster for testing, recording every event.
type Mock struct {
	mu     sync.Mutex
	events []Event
}

// NewMock creates a Mock broadcaster.
func NewMock() *Mock {
	return &Mock{}
}

// Broadcast records the event.
func (m *Mock) Broadcast(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (m *Mock) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Event, len(m.events))
	copy(cp, m.events)
	return cp
}

// EventsOfKind returns recorded events of one kind.
func (m *Mock) EventsOfKind(kind string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

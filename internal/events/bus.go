// Package events is the outbound notification boundary: the memory core
// publishes transition facts here and never calls consuming subsystems
// directly.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiy/lore-mcp/pkg/types"
)

// Type names an event on the boundary.
type Type string

const (
	// TypeCompressed is emitted after a lossy compression completes.
	TypeCompressed Type = "memory.compressed"
	// TypeTemperatureChanged is emitted on every tier transition, in
	// either direction.
	TypeTemperatureChanged Type = "memory.temperature_changed"
)

// Event is one boundary notification. Result is populated only for
// compression events.
type Event struct {
	ID        string                   `json:"id"`
	Type      Type                     `json:"type"`
	Timestamp time.Time                `json:"timestamp"`
	EntityID  string                   `json:"entity_id"`
	Kind      types.EntityKind         `json:"kind"`
	OldTier   types.Tier               `json:"old_tier,omitempty"`
	NewTier   types.Tier               `json:"new_tier,omitempty"`
	Result    *types.CompressionResult `json:"result,omitempty"`
}

// Handler consumes events. Handlers run synchronously on the publishing
// goroutine and must not block for long.
type Handler func(Event)

// Publisher is the narrow interface the memory core depends on.
type Publisher interface {
	Publish(Event)
}

// Bus is an in-process publish/subscribe fan-out.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[Type][]Handler
	allHandlers []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, h)
}

// Publish delivers the event to all matching handlers. Delivery is
// best-effort: a panicking handler is contained so the triggering operation
// is never failed by a subscriber.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.handlers[ev.Type] {
		deliver(h, ev)
	}
	for _, h := range b.allHandlers {
		deliver(h, ev)
	}
}

func deliver(h Handler, ev Event) {
	defer func() {
		_ = recover()
	}()
	h(ev)
}

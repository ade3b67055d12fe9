// Package eventbus fans committed contract events out to in-process
// subscribers such as the gateway and the reconciler.
package eventbus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"croncat/internal/domain"
)

const defaultHistory = 256

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus delivers each event to its subscribers on separate goroutines and keeps
// a bounded history of recent events for status queries.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool

	histMu  sync.Mutex
	history []domain.Event
	histCap int
}

// New creates an event bus that remembers the last defaultHistory events.
func New(logger *slog.Logger) *Bus {
	return NewWithHistory(logger, defaultHistory)
}

// NewWithHistory creates an event bus with a custom history size. Zero
// disables history.
func NewWithHistory(logger *slog.Logger, size int) *Bus {
	return &Bus{
		typed:   make(map[domain.EventType][]subscription),
		logger:  logger,
		histCap: max(size, 0),
	}
}

// Publish records the event and hands it to typed then catch-all
// subscribers. Handler panics are recovered and logged.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	b.remember(event)

	b.mu.RLock()
	targets := slices.Concat(b.typed[event.Type], b.allSubs)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.dispatch(ctx, event, sub)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"event_id", event.ID,
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

func (b *Bus) remember(event domain.Event) {
	if b.histCap == 0 {
		return
	}
	b.histMu.Lock()
	defer b.histMu.Unlock()
	if len(b.history) == b.histCap {
		b.history = slices.Delete(b.history, 0, 1)
	}
	b.history = append(b.history, event)
}

// Recent returns up to n of the most recent events, oldest first.
func (b *Bus) Recent(n int) []domain.Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	return slices.Clone(b.history[len(b.history)-n:])
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := subscription{id: b.nextID.Add(1), handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = without(b.typed[eventType], sub.id)
	}
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := subscription{id: b.nextID.Add(1), handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = without(b.allSubs, sub.id)
	}
}

// Close stops accepting events and waits for in-flight handlers. It is
// idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

func without(subs []subscription, id uint64) []subscription {
	return slices.DeleteFunc(slices.Clone(subs), func(s subscription) bool { return s.id == id })
}

var _ domain.EventBus = (*Bus)(nil)

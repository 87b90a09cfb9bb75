package events

import (
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/dockercloud/pkg/telemetry"
)

// Handler receives every event dispatched while it is registered. A handler
// may be invoked again after it asked to be removed if a dispatch was
// already in progress, so handlers must tolerate repeated calls.
type Handler func(Event)

// SubscriptionID identifies a registered handler.
type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Registry holds the handlers currently interested in events and fans each
// incoming event out to them. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	subscriptions []subscription

	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(logger zerolog.Logger, metrics *telemetry.Metrics) *Registry {
	return &Registry{
		logger:  logger.With().Str("component", "registry").Logger(),
		metrics: metrics,
	}
}

// Subscribe registers handler for every future event and returns the id
// used to remove it.
func (r *Registry) Subscribe(handler Handler) SubscriptionID {
	id := SubscriptionID(uuid.NewString())

	r.mu.Lock()
	r.subscriptions = append(r.subscriptions, subscription{id: id, handler: handler})
	n := len(r.subscriptions)
	r.mu.Unlock()

	r.metrics.SetSubscribers(n)
	return id
}

// Unsubscribe removes the handler registered under id. It returns false if
// no such handler is registered; calling it twice is harmless.
func (r *Registry) Unsubscribe(id SubscriptionID) bool {
	r.mu.Lock()
	removed := false
	for i, sub := range r.subscriptions {
		if sub.id == id {
			// Copy instead of re-slicing in place: a concurrent Dispatch may
			// still be iterating the old backing array.
			next := make([]subscription, 0, len(r.subscriptions)-1)
			next = append(next, r.subscriptions[:i]...)
			next = append(next, r.subscriptions[i+1:]...)
			r.subscriptions = next
			removed = true
			break
		}
	}
	n := len(r.subscriptions)
	r.mu.Unlock()

	if removed {
		r.metrics.SetSubscribers(n)
	}
	return removed
}

// Dispatch delivers event to every registered handler in registration
// order. The handler set is captured before the first call, so handlers
// may subscribe or unsubscribe (themselves or others) while it runs.
// A panicking handler is logged and the remaining handlers still run.
func (r *Registry) Dispatch(event Event) {
	r.mu.RLock()
	snapshot := r.subscriptions
	r.mu.RUnlock()

	for _, sub := range snapshot {
		r.safeCall(sub, event)
	}
}

func (r *Registry) safeCall(sub subscription, event Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("subscription", string(sub.id)).
				Str("event_type", string(event.Type)).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("event handler panicked")
		}
	}()
	sub.handler(event)
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscriptions)
}

// Clear removes every handler.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.subscriptions = nil
	r.mu.Unlock()
	r.metrics.SetSubscribers(0)
}

package events

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/dockercloud/pkg/resource"
)

func newTestRegistry() *Registry {
	return NewRegistry(zerolog.Nop(), nil)
}

func TestRegistryDispatchOrder(t *testing.T) {
	r := newTestRegistry()

	var calls []string
	r.Subscribe(func(Event) { calls = append(calls, "a") })
	r.Subscribe(func(Event) { calls = append(calls, "b") })
	r.Subscribe(func(Event) { calls = append(calls, "c") })

	r.Dispatch(Event{Type: resource.KindStack})

	if len(calls) != 3 || calls[0] != "a" || calls[1] != "b" || calls[2] != "c" {
		t.Errorf("handlers called out of order: %v", calls)
	}
}

func TestRegistryUnsubscribe(t *testing.T) {
	r := newTestRegistry()

	id := r.Subscribe(func(Event) {})
	if r.Len() != 1 {
		t.Fatalf("expected 1 subscription, got %d", r.Len())
	}
	if !r.Unsubscribe(id) {
		t.Error("expected first unsubscribe to remove the handler")
	}
	if r.Unsubscribe(id) {
		t.Error("second unsubscribe must be a no-op")
	}
	if r.Unsubscribe("unknown") {
		t.Error("unsubscribing an unknown id must be a no-op")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistrySelfUnsubscribeDuringDispatch(t *testing.T) {
	r := newTestRegistry()

	counts := make([]int, 3)
	var self SubscriptionID
	r.Subscribe(func(Event) { counts[0]++ })
	self = r.Subscribe(func(Event) {
		counts[1]++
		r.Unsubscribe(self)
	})
	r.Subscribe(func(Event) { counts[2]++ })

	r.Dispatch(Event{})
	r.Dispatch(Event{})

	if counts[0] != 2 || counts[2] != 2 {
		t.Errorf("neighbours must see every event exactly once: %v", counts)
	}
	if counts[1] != 1 {
		t.Errorf("self-removing handler must run once, ran %d times", counts[1])
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 subscriptions left, got %d", r.Len())
	}
}

func TestRegistryUnsubscribeOtherDuringDispatch(t *testing.T) {
	r := newTestRegistry()

	var last SubscriptionID
	calls := 0
	r.Subscribe(func(Event) { r.Unsubscribe(last) })
	last = r.Subscribe(func(Event) { calls++ })

	// The snapshot taken for the first dispatch still holds the removed
	// handler; the next dispatch must not.
	r.Dispatch(Event{})
	r.Dispatch(Event{})

	if calls != 1 {
		t.Errorf("expected removed handler to run once, ran %d times", calls)
	}
}

func TestRegistrySubscribeDuringDispatch(t *testing.T) {
	r := newTestRegistry()

	added := 0
	r.Subscribe(func(Event) {
		r.Subscribe(func(Event) { added++ })
	})

	r.Dispatch(Event{})
	if added != 0 {
		t.Error("handler added during dispatch must not see the current event")
	}
	r.Dispatch(Event{})
	if added != 1 {
		t.Errorf("expected added handler to run once, ran %d times", added)
	}
}

func TestRegistryRecoversPanics(t *testing.T) {
	r := newTestRegistry()

	reached := false
	r.Subscribe(func(Event) { panic("boom") })
	r.Subscribe(func(Event) { reached = true })

	r.Dispatch(Event{Type: resource.KindAction})

	if !reached {
		t.Error("handler after a panicking one must still run")
	}
}

func TestRegistryClear(t *testing.T) {
	r := newTestRegistry()
	r.Subscribe(func(Event) {})
	r.Subscribe(func(Event) {})
	r.Clear()
	if r.Len() != 0 {
		t.Errorf("expected empty registry after Clear, got %d", r.Len())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := r.Subscribe(func(Event) {})
			r.Unsubscribe(id)
		}()
		go func() {
			defer wg.Done()
			r.Dispatch(Event{})
		}()
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("expected no leaked subscriptions, got %d", r.Len())
	}
}

func TestEventFields(t *testing.T) {
	ev := Event{
		Type:        resource.KindService,
		State:       "Running",
		ResourceURI: "/api/app/v1/service/s-1/",
	}

	fields := ev.Fields()
	if fields.UUID() != "s-1" {
		t.Errorf("expected uuid s-1, got %q", fields.UUID())
	}
	if !resource.StateIs(resource.StateRunning).Match(fields) {
		t.Error("expected event to match Running")
	}
	if !ev.Refers(resource.KindService, "s-1") {
		t.Error("expected event to refer to service s-1")
	}
	if ev.Refers(resource.KindStack, "s-1") {
		t.Error("event must not refer to a different kind")
	}
}

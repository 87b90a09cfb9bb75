// Package convergence waits for Docker Cloud resources to reach a desired
// state. Each wait races a one-shot subscription on the event stream
// against a poll loop over the REST API and resolves with whichever
// observes the state first.
package convergence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/dockercloud/pkg/events"
	"github.com/openfroyo/dockercloud/pkg/resource"
	"github.com/openfroyo/dockercloud/pkg/telemetry"
)

// FetchFunc returns the current body of the resource with the given uuid.
type FetchFunc func(ctx context.Context, uuid string) (resource.Resource, error)

// Subscriber is the registry the engine attaches its push waiters to.
type Subscriber interface {
	Subscribe(handler events.Handler) events.SubscriptionID
	Unsubscribe(id events.SubscriptionID) bool
}

// Target describes what to wait for.
type Target struct {
	Kind resource.Kind
	UUID string

	// Fetch reads the resource during polling.
	Fetch FetchFunc

	// Desired is matched against events and fetched resources.
	Desired resource.Fields

	// Snapshot is the caller's last known copy of the resource. When it
	// already satisfies Desired the wait returns it without any I/O.
	Snapshot resource.Resource
}

// Engine runs waits against a shared Subscriber. It is safe for concurrent
// use; each wait owns its own waiter and poll loop.
type Engine struct {
	subscriber Subscriber
	tracer     trace.Tracer

	mu   sync.RWMutex
	opts Options
}

// NewEngine creates an engine attached to subscriber.
func NewEngine(subscriber Subscriber, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxPollFailures < 0 {
		opts.MaxPollFailures = 0
	}
	return &Engine{
		subscriber: subscriber,
		tracer:     otel.Tracer("github.com/openfroyo/dockercloud/pkg/convergence"),
		opts:       opts,
	}
}

// SetInterval changes the poll interval. Running waits pick it up on their
// next tick.
func (e *Engine) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	e.mu.Lock()
	e.opts.Interval = d
	e.mu.Unlock()
}

// Interval returns the current poll interval.
func (e *Engine) Interval() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts.Interval
}

// SetTimeout changes the per-wait timeout for waits started afterwards.
func (e *Engine) SetTimeout(d time.Duration) {
	e.mu.Lock()
	e.opts.Timeout = d
	e.mu.Unlock()
}

// SetMaxPollFailures changes the consecutive fetch failure bound for waits
// started afterwards. Zero or less means unlimited.
func (e *Engine) SetMaxPollFailures(n int) {
	if n < 0 {
		n = 0
	}
	e.mu.Lock()
	e.opts.MaxPollFailures = n
	e.mu.Unlock()
}

func (e *Engine) options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// Subscribe registers a raw event handler on the engine's subscriber.
func (e *Engine) Subscribe(handler events.Handler) events.SubscriptionID {
	return e.subscriber.Subscribe(handler)
}

// Unsubscribe removes a handler registered with Subscribe.
func (e *Engine) Unsubscribe(id events.SubscriptionID) bool {
	return e.subscriber.Unsubscribe(id)
}

type outcome struct {
	res  resource.Resource
	err  error
	path string
}

// waiter is the one-shot observer shared by the push handler, the poll
// loop and the caller. The first resolve wins; later calls are dropped.
type waiter struct {
	once   sync.Once
	result chan outcome

	sub        Subscriber
	mu         sync.Mutex
	id         events.SubscriptionID
	registered bool
	detached   bool
}

func newWaiter(sub Subscriber) *waiter {
	return &waiter{sub: sub, result: make(chan outcome, 1)}
}

func (w *waiter) resolve(o outcome) bool {
	won := false
	w.once.Do(func() {
		w.result <- o
		won = true
	})
	return won
}

func (w *waiter) attach(handler events.Handler) {
	id := w.sub.Subscribe(handler)

	w.mu.Lock()
	w.id = id
	w.registered = true
	detached := w.detached
	w.mu.Unlock()

	// The handler may have fired and detached before Subscribe returned.
	if detached {
		w.sub.Unsubscribe(id)
	}
}

func (w *waiter) detach() {
	w.mu.Lock()
	if w.detached {
		w.mu.Unlock()
		return
	}
	w.detached = true
	registered, id := w.registered, w.id
	w.mu.Unlock()

	if registered {
		w.sub.Unsubscribe(id)
	}
}

// WaitUntil blocks until the target resource satisfies target.Desired and
// returns the matching resource. A push resolution returns the event seen
// as a resource (type, state, resource_uri and uuid); a poll resolution
// returns the fetched body.
//
// Failures are reported as *WaitError wrapping ErrIncompatibleState,
// ErrPollFailed, ErrWaitTimeout or the context's error.
func (e *Engine) WaitUntil(ctx context.Context, target Target) (resource.Resource, error) {
	if target.UUID == "" {
		target.UUID = target.Snapshot.UUID()
	}
	if target.UUID == "" || target.Fetch == nil {
		return nil, fmt.Errorf("%w: uuid and fetch function are required", ErrInvalidTarget)
	}

	opts := e.options()
	waitID := uuid.NewString()
	started := time.Now()
	logger := opts.Logger.With().
		Str("wait_id", waitID).
		Str("resource_kind", string(target.Kind)).
		Str("resource_uuid", target.UUID).
		Str("desired", target.Desired.String()).
		Logger()

	ctx, span := e.tracer.Start(ctx, "convergence.WaitUntil", trace.WithAttributes(
		telemetry.AttrResourceKind.String(string(target.Kind)),
		telemetry.AttrResourceUUID.String(target.UUID),
		telemetry.AttrDesired.String(target.Desired.String()),
	))
	defer span.End()

	opts.Metrics.RecordWaitStarted(string(target.Kind))
	incompatible := resource.IncompatibleStates(target.Kind, target.Desired.State())

	st := &waitState{
		engine:       e,
		target:       target,
		opts:         opts,
		logger:       logger,
		incompatible: incompatible,
	}

	if target.Snapshot != nil {
		if target.Desired.Match(target.Snapshot) {
			return st.finish(ctx, span, waitID, started, outcome{res: target.Snapshot, path: telemetry.ResolvedFast})
		}
		if st.isIncompatible(target.Snapshot.State()) {
			return st.finish(ctx, span, waitID, started, st.incompatibleOutcome(target.Snapshot.State()))
		}
	}

	logger.Debug().Msg("waiting for resource state")

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	w := newWaiter(e.subscriber)

	// Subscribe before the first fetch so an event sent between the
	// caller's snapshot and the fetch is not lost.
	w.attach(func(ev events.Event) {
		if !ev.Refers(target.Kind, target.UUID) {
			return
		}
		fields := ev.Fields()
		switch {
		case target.Desired.Match(fields):
			if w.resolve(outcome{res: fields, path: telemetry.ResolvedPush}) {
				telemetry.AddResourceEvent(span, target.UUID, "push", ev.State)
			}
			w.detach()
		case st.isIncompatible(fields.State()):
			w.resolve(st.incompatibleOutcome(fields.State()))
			w.detach()
		}
	})

	pollCtx, stopPoll := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		st.poll(pollCtx, w)
	}()

	var out outcome
	select {
	case out = <-w.result:
	case <-ctx.Done():
		// Resolve through the waiter so a late push or poll cannot also win.
		w.resolve(st.contextOutcome(ctx.Err()))
		out = <-w.result
	}

	stopPoll()
	wg.Wait()
	w.detach()

	return st.finish(ctx, span, waitID, started, out)
}

// waitState carries per-wait data shared by the poll loop and the push
// handler.
type waitState struct {
	engine       *Engine
	target       Target
	opts         Options
	logger       zerolog.Logger
	incompatible []resource.State

	// polls is only touched by the poll goroutine until it has exited.
	polls     int
	lastState resource.State
	stateMu   sync.Mutex
}

func (st *waitState) isIncompatible(state resource.State) bool {
	return state != "" && slices.Contains(st.incompatible, state)
}

func (st *waitState) observe(state resource.State) {
	if state == "" {
		return
	}
	st.stateMu.Lock()
	st.lastState = state
	st.stateMu.Unlock()
}

func (st *waitState) observed() resource.State {
	st.stateMu.Lock()
	defer st.stateMu.Unlock()
	return st.lastState
}

func (st *waitState) incompatibleOutcome(state resource.State) outcome {
	st.observe(state)
	return outcome{
		err:  fmt.Errorf("%w: %s", ErrIncompatibleState, state),
		path: telemetry.ResolvedIncompatible,
	}
}

func (st *waitState) contextOutcome(err error) outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return outcome{err: fmt.Errorf("%w: %w", ErrWaitTimeout, err), path: telemetry.ResolvedTimeout}
	}
	return outcome{err: err, path: telemetry.ResolvedCanceled}
}

// poll fetches immediately and then after every interval until the waiter
// is resolved or ctx is cancelled.
func (st *waitState) poll(ctx context.Context, w *waiter) {
	kind := string(st.target.Kind)
	failures := 0

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		st.polls++
		res, err := st.target.Fetch(ctx, st.target.UUID)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			failures++
			st.opts.Metrics.RecordPollAttempt(kind, "error")
			st.logger.Warn().Err(err).Int("failures", failures).Msg("poll failed")
			if st.opts.MaxPollFailures > 0 && failures >= st.opts.MaxPollFailures {
				w.resolve(outcome{
					err:  fmt.Errorf("%w after %d consecutive attempts: %w", ErrPollFailed, failures, err),
					path: telemetry.ResolvedPollFailed,
				})
				return
			}
		} else {
			failures = 0
			st.observe(res.State())
			switch {
			case st.target.Desired.Match(res):
				st.opts.Metrics.RecordPollAttempt(kind, "match")
				w.resolve(outcome{res: res, path: telemetry.ResolvedPoll})
				return
			case st.isIncompatible(res.State()):
				st.opts.Metrics.RecordPollAttempt(kind, "incompatible")
				w.resolve(st.incompatibleOutcome(res.State()))
				return
			}
			st.opts.Metrics.RecordPollAttempt(kind, "miss")
			st.logger.Trace().Str("state", string(res.State())).Msg("resource not converged yet")
		}

		timer.Reset(st.engine.Interval())
	}
}

func (st *waitState) finish(ctx context.Context, span trace.Span, waitID string, started time.Time, out outcome) (resource.Resource, error) {
	elapsed := time.Since(started)
	t := st.target

	st.opts.Metrics.RecordWaitResolved(string(t.Kind), out.path, elapsed)
	span.SetAttributes(
		telemetry.AttrResolvedBy.String(out.path),
		telemetry.AttrPollCount.Int(st.polls),
	)

	var err error
	if out.err != nil {
		err = &WaitError{
			Kind:    t.Kind,
			UUID:    t.UUID,
			Desired: t.Desired,
			State:   st.observed(),
			Err:     out.err,
		}
		telemetry.RecordError(span, err)
		st.logger.Debug().Err(err).Str("path", out.path).Dur("elapsed", elapsed).Msg("wait failed")
	} else {
		st.observe(out.res.State())
		telemetry.RecordSuccess(span)
		st.logger.Debug().Str("path", out.path).Dur("elapsed", elapsed).Msg("resource converged")
	}

	if st.opts.Journal != nil {
		rec := WaitRecord{
			ID:        waitID,
			Kind:      string(t.Kind),
			UUID:      t.UUID,
			Desired:   t.Desired.String(),
			Path:      out.path,
			State:     string(st.observed()),
			Polls:     st.polls,
			StartedAt: started,
			Duration:  elapsed,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if jerr := st.opts.Journal.RecordWait(jctx, rec); jerr != nil {
			st.logger.Warn().Err(jerr).Msg("failed to record wait")
		}
		cancel()
	}

	if err != nil {
		return nil, err
	}
	return out.res, nil
}

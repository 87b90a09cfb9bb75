package stores

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/dockercloud/pkg/events"
)

// DefaultEventBuffer is the number of events an EventWriter queues before
// it starts dropping.
const DefaultEventBuffer = 256

const eventWriteTimeout = 5 * time.Second

// EventRecorder persists a single event.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event events.Event) error
}

// EventWriter journals stream events from a background goroutine so that
// the stream's dispatch loop never waits on the disk. Its Handle method is
// an events.Handler.
type EventWriter struct {
	recorder EventRecorder
	logger   zerolog.Logger

	mu     sync.RWMutex
	queue  chan events.Event
	closed bool
	done   chan struct{}
}

// NewEventWriter starts a writer queueing up to size events. A size below
// one means DefaultEventBuffer.
func NewEventWriter(recorder EventRecorder, logger zerolog.Logger, size int) *EventWriter {
	if size < 1 {
		size = DefaultEventBuffer
	}
	w := &EventWriter{
		recorder: recorder,
		logger:   logger.With().Str("component", "event-writer").Logger(),
		queue:    make(chan events.Event, size),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Handle queues ev for writing. It never blocks: when the queue is full or
// the writer is shut down the event is dropped and logged.
func (w *EventWriter) Handle(ev events.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- ev:
	default:
		w.logger.Warn().Str("resource_uri", ev.ResourceURI).Msg("journal is falling behind, dropping event")
	}
}

func (w *EventWriter) run() {
	defer close(w.done)
	for ev := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
		if err := w.recorder.RecordEvent(ctx, ev); err != nil {
			w.logger.Warn().Err(err).Str("resource_uri", ev.ResourceURI).Msg("failed to journal event")
		}
		cancel()
	}
}

// Shutdown stops accepting events and waits until the queued ones are
// written or ctx is done.
func (w *EventWriter) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event writer shutdown: %w", ctx.Err())
	}
}

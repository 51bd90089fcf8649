package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"task-manager/internal/apperrors"
	"task-manager/internal/models"
	"task-manager/internal/telemetry"
)

var (
	// ErrQueueFull is returned when the local publish queue has no room.
	ErrQueueFull = errors.New("event queue full")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

type eventPublisher interface {
	Publish(ctx context.Context, ev models.TaskEvent) (string, error)
}

// Dispatcher hands events to background workers through a bounded queue so
// request handlers never wait on the stream.
type Dispatcher struct {
	pub     eventPublisher
	queue   chan models.TaskEvent
	workers int
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher builds a dispatcher; call Start before publishing.
func NewDispatcher(pub eventPublisher, size, workers int, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Dispatcher{
		pub:     pub,
		queue:   make(chan models.TaskEvent, size),
		workers: workers,
		timeout: timeout,
		logger:  logger.With().Str("component", "event_dispatcher").Logger(),
	}
}

// Start launches the publish workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

// Publish enqueues ev without blocking. The context is not used by the
// background publish: the request may finish before the event is sent.
func (d *Dispatcher) Publish(_ context.Context, ev models.TaskEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return fmt.Errorf("%w: %w", apperrors.ErrPublish, ErrDispatcherClosed)
	}
	select {
	case d.queue <- ev:
		telemetry.PublishQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		telemetry.EventsDropped.Inc()
		return fmt.Errorf("%w: %w", apperrors.ErrPublish, ErrQueueFull)
	}
}

// Close stops intake and waits for queued events to be published or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for ev := range d.queue {
		telemetry.PublishQueueDepth.Set(float64(len(d.queue)))
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		id, err := d.pub.Publish(ctx, ev)
		cancel()
		if err != nil {
			telemetry.EventsPublishFailed.Inc()
			d.logger.Error().Err(err).Str("task_id", ev.TaskID).Msg("publish task event")
			continue
		}
		telemetry.EventsPublished.Inc()
		d.logger.Debug().Str("task_id", ev.TaskID).Str("entry_id", id).Msg("task event published")
	}
}

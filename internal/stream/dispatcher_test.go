package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-manager/internal/apperrors"
	"task-manager/internal/models"
	"task-manager/internal/telemetry"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.TaskEvent
	err    error
	gate   chan struct{}
}

func (p *recordingPublisher) Publish(ctx context.Context, ev models.TaskEvent) (string, error) {
	if p.gate != nil {
		<-p.gate
	}
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("publish without deadline")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, ev)
	return "0-1", nil
}

func (p *recordingPublisher) published() []models.TaskEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.TaskEvent(nil), p.events...)
}

func closeWithin(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatcherPublishesInBackground(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, 8, 2, time.Second, zerolog.Nop())
	d.Start()

	reqCtx, cancel := context.WithCancel(context.Background())
	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, d.Publish(reqCtx, models.TaskEvent{TaskID: id}))
	}
	cancel() // request finished; publishing must not depend on it

	closeWithin(t, d)
	got := pub.published()
	assert.Len(t, got, 3)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, 1, 1, time.Second, zerolog.Nop())
	before := testutil.ToFloat64(telemetry.EventsDropped)

	require.NoError(t, d.Publish(context.Background(), models.TaskEvent{TaskID: "t1"}))
	err := d.Publish(context.Background(), models.TaskEvent{TaskID: "t2"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.ErrorIs(t, err, apperrors.ErrPublish)
	assert.InDelta(t, 1.0, testutil.ToFloat64(telemetry.EventsDropped)-before, 0)

	d.Start()
	closeWithin(t, d)
	got := pub.published()
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].TaskID)
}

func TestDispatcherPublishNeverBlocks(t *testing.T) {
	pub := &recordingPublisher{gate: make(chan struct{})}
	d := NewDispatcher(pub, 1, 1, time.Second, zerolog.Nop())
	d.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = d.Publish(context.Background(), models.TaskEvent{TaskID: "t"})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a stalled stream")
	}

	close(pub.gate)
	closeWithin(t, d)
}

func TestDispatcherClosed(t *testing.T) {
	d := NewDispatcher(&recordingPublisher{}, 1, 1, time.Second, zerolog.Nop())
	d.Start()
	closeWithin(t, d)
	closeWithin(t, d)

	err := d.Publish(context.Background(), models.TaskEvent{TaskID: "late"})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcherSwallowsPublishErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("stream down")}
	d := NewDispatcher(pub, 4, 1, time.Second, zerolog.Nop())
	before := testutil.ToFloat64(telemetry.EventsPublishFailed)
	d.Start()

	require.NoError(t, d.Publish(context.Background(), models.TaskEvent{TaskID: "t1"}))
	closeWithin(t, d)
	assert.InDelta(t, 1.0, testutil.ToFloat64(telemetry.EventsPublishFailed)-before, 0)
}

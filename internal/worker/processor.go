package worker

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"task-manager/internal/stream"
	"task-manager/internal/telemetry"
)

// Source is the consumer-group view of the event stream.
type Source interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, pending bool) ([]stream.Message, error)
	Ack(ctx context.Context, ids ...string) error
	DeadLetter(ctx context.Context, msg stream.Message, reason string) error
	Pending(ctx context.Context) (int64, error)
}

// Handler processes one decoded stream entry. Handlers must tolerate
// redelivery of the same entry.
type Handler func(ctx context.Context, msg stream.Message) error

type namedHandler struct {
	name string
	fn   Handler
}

// Options tunes retry behaviour.
type Options struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// Idle is the pause after an empty non-blocking read.
	Idle time.Duration
}

// Processor drives the consumer loop: read, hand to every handler, ack.
type Processor struct {
	src      Source
	opts     Options
	logger   zerolog.Logger
	handlers []namedHandler
	attempts map[string]int
}

// NewProcessor builds a processor reading from src.
func NewProcessor(src Source, opts Options, logger zerolog.Logger) *Processor {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = time.Second
	}
	if opts.BackoffMax < opts.BackoffInitial {
		opts.BackoffMax = opts.BackoffInitial
	}
	if opts.Idle <= 0 {
		opts.Idle = 100 * time.Millisecond
	}
	return &Processor{
		src:      src,
		opts:     opts,
		logger:   logger.With().Str("component", "processor").Logger(),
		attempts: make(map[string]int),
	}
}

// RegisterHandler adds a handler. Handlers run in registration order.
func (p *Processor) RegisterHandler(name string, handler Handler) {
	if name == "" || handler == nil {
		return
	}
	p.handlers = append(p.handlers, namedHandler{name: name, fn: handler})
}

// Run consumes until ctx is cancelled. It starts by draining entries left
// pending for this consumer by a previous run.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.ensureGroup(ctx); err != nil {
		return err
	}

	pending := true
	readFailures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := p.src.Read(ctx, pending)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			readFailures++
			p.logger.Error().Err(err).Int("failures", readFailures).Msg("read stream")
			sleep(ctx, backoffWithJitter(p.opts.BackoffInitial, p.opts.BackoffMax, readFailures))
			continue
		}
		readFailures = 0

		if pending {
			p.forgetReleased(msgs)
		}
		if len(msgs) == 0 {
			if pending {
				pending = false
				continue
			}
			sleep(ctx, p.opts.Idle)
			continue
		}

		failed := p.processBatch(ctx, msgs)
		p.reportPending(ctx)
		if failed > 0 {
			pending = true
			sleep(ctx, backoffWithJitter(p.opts.BackoffInitial, p.opts.BackoffMax, p.maxAttempt(msgs)))
		}
	}
}

func (p *Processor) ensureGroup(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := p.src.EnsureGroup(ctx)
		if err == nil {
			return nil
		}
		p.logger.Error().Err(err).Int("attempt", attempt).Msg("create consumer group")
		if !sleep(ctx, backoffWithJitter(p.opts.BackoffInitial, p.opts.BackoffMax, attempt)) {
			return ctx.Err()
		}
	}
}

// processBatch handles msgs and returns how many were left pending.
func (p *Processor) processBatch(ctx context.Context, msgs []stream.Message) int {
	failed := 0
	for _, msg := range msgs {
		if msg.Err != nil {
			p.logger.Warn().Err(msg.Err).Str("entry_id", msg.ID).Msg("skipping malformed entry")
			if err := p.src.Ack(ctx, msg.ID); err != nil {
				p.logger.Error().Err(err).Str("entry_id", msg.ID).Msg("ack malformed entry")
			}
			telemetry.ConsumerMalformed.Inc()
			continue
		}

		err := p.runHandlers(ctx, msg)
		if err == nil {
			if ackErr := p.src.Ack(ctx, msg.ID); ackErr != nil {
				p.logger.Error().Err(ackErr).Str("entry_id", msg.ID).Msg("ack entry")
				failed++
				continue
			}
			delete(p.attempts, msg.ID)
			telemetry.ConsumerProcessed.Inc()
			continue
		}

		p.attempts[msg.ID]++
		attempts := p.attempts[msg.ID]
		if attempts >= p.opts.MaxAttempts {
			if dlqErr := p.src.DeadLetter(ctx, msg, err.Error()); dlqErr != nil {
				p.logger.Error().Err(dlqErr).Str("entry_id", msg.ID).Msg("dead-letter entry")
				failed++
				continue
			}
			delete(p.attempts, msg.ID)
			telemetry.ConsumerDeadLetter.Inc()
			p.logger.Error().Err(err).Str("entry_id", msg.ID).Str("task_id", msg.Event.TaskID).Int("attempts", attempts).Msg("entry moved to dead-letter stream")
			continue
		}

		telemetry.ConsumerFailures.Inc()
		p.logger.Warn().Err(err).Str("entry_id", msg.ID).Str("task_id", msg.Event.TaskID).Int("attempts", attempts).Msg("entry left pending")
		failed++
	}
	return failed
}

func (p *Processor) runHandlers(ctx context.Context, msg stream.Message) error {
	var errs []error
	for _, h := range p.handlers {
		if err := h.fn(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}

// forgetReleased drops attempt counts for entries that are no longer pending
// for this consumer: acked elsewhere, claimed by another consumer, or trimmed.
// A pending read returns the list in ID order from the start, so any tracked id
// at or below the last id returned that is absent from the batch has left it.
func (p *Processor) forgetReleased(batch []stream.Message) {
	if len(batch) == 0 {
		clear(p.attempts)
		return
	}
	present := make(map[string]struct{}, len(batch))
	for _, m := range batch {
		present[m.ID] = struct{}{}
	}
	last := batch[len(batch)-1].ID
	for id := range p.attempts {
		if _, ok := present[id]; ok {
			continue
		}
		if compareIDs(id, last) <= 0 {
			delete(p.attempts, id)
		}
	}
}

// compareIDs orders stream ids of the form ms-seq.
func compareIDs(a, b string) int {
	am, as := splitID(a)
	bm, bs := splitID(b)
	if am != bm {
		return cmp.Compare(am, bm)
	}
	return cmp.Compare(as, bs)
}

func splitID(id string) (uint64, uint64) {
	ms, seq, _ := strings.Cut(id, "-")
	m, _ := strconv.ParseUint(ms, 10, 64)
	s, _ := strconv.ParseUint(seq, 10, 64)
	return m, s
}

func (p *Processor) maxAttempt(msgs []stream.Message) int {
	n := 1
	for _, m := range msgs {
		if a := p.attempts[m.ID]; a > n {
			n = a
		}
	}
	return n
}

func (p *Processor) reportPending(ctx context.Context) {
	n, err := p.src.Pending(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("pending count")
		return
	}
	telemetry.ConsumerPending.Set(float64(n))
}

// sleep waits for d or until ctx is done; it reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || exp > float64(math.MaxInt64) {
		wait = max
	}
	half := int64(wait / 2)
	if half <= 0 {
		return wait
	}
	return wait/2 + time.Duration(rand.Int63n(half))
}

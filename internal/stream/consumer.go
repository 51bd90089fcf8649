package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"task-manager/internal/apperrors"
	"task-manager/internal/models"
)

// Message is one stream entry delivered to this consumer. Err is set when
// the entry could not be decoded into an event.
type Message struct {
	ID     string
	Event  models.TaskEvent
	Values map[string]any
	Err    error
}

// Consumer reads a stream through a consumer group. Entries stay pending
// until acknowledged and are redelivered by reading the pending list.
type Consumer struct {
	client *redis.Client
	stream string
	group  string
	name   string
	batch  int64
	block  time.Duration
	dlqKey string
}

// NewConsumer builds a group consumer. block < 0 makes reads non-blocking.
func NewConsumer(client *redis.Client, stream, group, name string, batch int64, block time.Duration) *Consumer {
	if batch <= 0 {
		batch = 10
	}
	return &Consumer{
		client: client,
		stream: stream,
		group:  group,
		name:   name,
		batch:  batch,
		block:  block,
		dlqKey: stream + ":dlq",
	}
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return apperrors.Upstream(err, "xgroup create "+c.group)
	}
	return nil
}

// Read returns the next batch. With pending set it returns entries already
// delivered to this consumer but not yet acknowledged, without blocking.
func (c *Consumer) Read(ctx context.Context, pending bool) ([]Message, error) {
	start, block := ">", c.block
	if pending {
		start, block = "0", -1
	}
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, start},
		Count:    c.batch,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Upstream(err, "xreadgroup "+c.stream)
	}

	var out []Message
	for _, s := range res {
		for _, m := range s.Messages {
			msg := Message{ID: m.ID, Values: m.Values}
			if m.Values == nil {
				msg.Err = errMalformedEntry
			} else {
				msg.Event, msg.Err = decodeEvent(m.Values)
			}
			out = append(out, msg)
		}
	}
	return out, nil
}

// Ack acknowledges processed entries.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return apperrors.Upstream(c.client.XAck(ctx, c.stream, c.group, ids...).Err(), "xack "+c.stream)
}

// DeadLetter copies an entry to the dead-letter stream with the failure
// reason and acknowledges the original.
func (c *Consumer) DeadLetter(ctx context.Context, msg Message, reason string) error {
	values := make(map[string]any, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["source_id"] = msg.ID
	values["error"] = reason

	pipe := c.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: c.dlqKey, ID: "*", Values: values})
	pipe.XAck(ctx, c.stream, c.group, msg.ID)
	_, err := pipe.Exec(ctx)
	return apperrors.Upstream(err, "dead-letter "+msg.ID)
}

// Pending reports how many entries the group has delivered but not acknowledged.
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	res, err := c.client.XPending(ctx, c.stream, c.group).Result()
	if err != nil {
		return 0, apperrors.Upstream(err, "xpending "+c.stream)
	}
	return res.Count, nil
}

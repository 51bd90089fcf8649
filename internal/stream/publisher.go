package stream

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"task-manager/internal/apperrors"
	"task-manager/internal/models"
)

// Publisher appends task events to a Redis stream.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewPublisher builds a publisher. maxLen > 0 trims the stream approximately.
func NewPublisher(client *redis.Client, stream string, maxLen int64) *Publisher {
	if stream == "" {
		stream = "task-stream"
	}
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish appends ev and returns the broker-assigned entry id.
func (p *Publisher) Publish(ctx context.Context, ev models.TaskEvent) (string, error) {
	args := &redis.XAddArgs{
		Stream: p.stream,
		ID:     "*",
		Values: encodeEvent(ev),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("%w: xadd %s: %w", apperrors.ErrPublish, p.stream, err)
	}
	return id, nil
}

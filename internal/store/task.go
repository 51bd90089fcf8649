package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"task-manager/internal/apperrors"
	"task-manager/internal/models"
)

const (
	taskKeyPrefix = "task:"
	taskIndexKey  = "tasks"
)

// TaskStore persists tasks as flat hashes plus a timestamp-ordered index.
type TaskStore struct {
	client  *redis.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewTaskStore wraps an injected client.
func NewTaskStore(client *redis.Client, timeout time.Duration, logger zerolog.Logger) *TaskStore {
	return &TaskStore{
		client:  client,
		timeout: timeout,
		logger:  logger.With().Str("component", "task_store").Logger(),
	}
}

func (s *TaskStore) key(id string) string {
	return taskKeyPrefix + id
}

// Save replaces the task hash and its index entry in one MULTI/EXEC.
func (s *TaskStore) Save(ctx context.Context, t models.Task) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(t.ID))
	pipe.HSet(ctx, s.key(t.ID), toArgs(Flatten(t)))
	pipe.ZAdd(ctx, taskIndexKey, redis.Z{Score: float64(t.Timestamp), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Upstream(err, "save "+s.key(t.ID))
	}
	return nil
}

// Find loads a task by id.
func (s *TaskStore) Find(ctx context.Context, id string) (models.Task, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rec, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return models.Task{}, apperrors.Upstream(err, "hgetall "+s.key(id))
	}
	if len(rec) == 0 {
		return models.Task{}, apperrors.Wrapf(apperrors.ErrNotFound, "task %s", id)
	}
	t, err := Unflatten(rec)
	if err != nil {
		return models.Task{}, apperrors.Upstream(err, "decode "+s.key(id))
	}
	return t, nil
}

// Delete removes the hash and the index entry. Missing tasks are not an error.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, taskIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Upstream(err, "delete "+s.key(id))
	}
	return nil
}

// ListAll returns every indexed task, oldest first. Index entries whose hash
// has gone away (a concurrent delete) are skipped.
func (s *TaskStore) ListAll(ctx context.Context) ([]models.Task, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	ids, err := s.client.ZRange(ctx, taskIndexKey, 0, -1).Result()
	if err != nil {
		return nil, apperrors.Upstream(err, "zrange "+taskIndexKey)
	}
	tasks := make([]models.Task, 0, len(ids))
	if len(ids) == 0 {
		return tasks, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperrors.Upstream(err, "hgetall tasks")
	}

	for i, id := range ids {
		rec := cmds[i].Val()
		if len(rec) == 0 {
			continue
		}
		t, err := Unflatten(rec)
		if err != nil {
			s.logger.Warn().Err(err).Str("task_id", id).Msg("skipping unreadable task record")
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

package store

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func newTestStores(t *testing.T) (*LocationStore, *TaskStore, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	client, mr := newTestClient(t)
	return NewLocationStore(client, time.Second, zerolog.Nop()),
		NewTaskStore(client, time.Second, zerolog.Nop()),
		client, mr
}

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-manager/internal/apperrors"
	"task-manager/internal/models"
	"task-manager/internal/store"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []models.TaskEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, ev models.TaskEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

type failingTaskStore struct {
	TaskStore
	saveErr error
}

func (f failingTaskStore) Save(context.Context, models.Task) error { return f.saveErr }

type fixture struct {
	svc       *Service
	locations *store.LocationStore
	tasks     *store.TaskStore
	events    *fakePublisher
	client    *redis.Client
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := fixture{
		locations: store.NewLocationStore(client, time.Second, zerolog.Nop()),
		tasks:     store.NewTaskStore(client, time.Second, zerolog.Nop()),
		events:    &fakePublisher{},
		client:    client,
	}
	f.svc = New(f.locations, f.tasks, f.events, zerolog.Nop(), opts...)
	return f
}

func TestCreateWithoutLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithClock(func() time.Time { return time.Unix(1700000000, 0) }))

	res, err := f.svc.Create(ctx, models.TaskInput{Name: "A", Description: "d"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.Task.ID)
	assert.Equal(t, int64(1700000000), res.Task.Timestamp)
	assert.Nil(t, res.Task.Location)

	stored, err := f.tasks.Find(ctx, res.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Task, stored)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, res.Task.ID, f.events.events[0].TaskID)
	assert.Nil(t, f.events.events[0].LocationID)
}

func TestCreateWithNewLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Create(ctx, models.TaskInput{
		Name:     "A",
		Location: &models.Location{Name: "office", Description: "hq", Longitude: -0.1, Latitude: 51.5},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Task.Location)
	require.NotEmpty(t, res.Task.Location.ID)

	loc, err := f.locations.Find(ctx, res.Task.Location.ID)
	require.NoError(t, err)
	assert.Equal(t, loc, *res.Task.Location)

	require.Len(t, f.events.events, 1)
	require.NotNil(t, f.events.events[0].LocationID)
	assert.Equal(t, loc.ID, *f.events.events[0].LocationID)
}

func TestCreateDenormalizesExistingLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	l1, err := f.locations.Upsert(ctx, models.Location{Name: "L1", Description: "first", Longitude: -0.1, Latitude: 51.5})
	require.NoError(t, err)

	res, err := f.svc.Create(ctx, models.TaskInput{Name: "A", Location: &models.Location{ID: l1.ID}})
	require.NoError(t, err)

	stored, err := f.tasks.Find(ctx, res.Task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Location)
	assert.Equal(t, l1, *stored.Location)

	members, err := f.client.ZCard(ctx, "locations").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), members)
}

func TestCreateUnknownLocationIDIsUpstream(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, models.TaskInput{Name: "A", Location: &models.Location{ID: "missing"}})
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)

	tasks, err := f.tasks.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Empty(t, f.events.events)
}

func TestCreateInvalidLocationIsValidationError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, models.TaskInput{Name: "A", Location: &models.Location{Name: "pole", Longitude: 0, Latitude: 90}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.NotErrorIs(t, err, apperrors.ErrUpstream)

	tasks, err := f.tasks.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCreateSaveFailureEmitsNothing(t *testing.T) {
	f := newFixture(t)
	svc := New(f.locations, failingTaskStore{TaskStore: f.tasks, saveErr: errors.New("connection reset")}, f.events, zerolog.Nop())

	_, err := svc.Create(context.Background(), models.TaskInput{Name: "A"})
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.Empty(t, f.events.events)
}

func TestCreatePublishFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.events.err = apperrors.Wrap(apperrors.ErrPublish, "stream unreachable")

	res, err := f.svc.Create(ctx, models.TaskInput{Name: "A", Location: &models.Location{Name: "x", Longitude: 1, Latitude: 1}})
	require.NoError(t, err)
	assert.True(t, res.Created)

	view, err := f.svc.GetWithNearby(ctx, res.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Task, view.Task)
}

func TestGetWithNearbyExcludesSelf(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	l1, err := f.svc.CreateLocation(ctx, models.Location{Name: "L1", Longitude: -0.1, Latitude: 51.5})
	require.NoError(t, err)
	res, err := f.svc.Create(ctx, models.TaskInput{Name: "A", Location: &models.Location{ID: l1.ID}})
	require.NoError(t, err)
	l2, err := f.svc.CreateLocation(ctx, models.Location{Name: "L2", Longitude: -0.1001, Latitude: 51.5001})
	require.NoError(t, err)
	_, err = f.svc.CreateLocation(ctx, models.Location{Name: "far", Longitude: -0.2, Latitude: 51.5})
	require.NoError(t, err)

	view, err := f.svc.GetWithNearby(ctx, res.Task.ID)
	require.NoError(t, err)
	require.Len(t, view.LocationsNearMe, 1)
	assert.Equal(t, l2.ID, view.LocationsNearMe[0].ID)
	for _, l := range view.LocationsNearMe {
		assert.NotEqual(t, l1.ID, l.ID)
	}
}

func TestGetWithNearbyOnlySelfGivesEmptyList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Create(ctx, models.TaskInput{Name: "A", Location: &models.Location{Name: "alone", Longitude: 10, Latitude: 10}})
	require.NoError(t, err)

	view, err := f.svc.GetWithNearby(ctx, res.Task.ID)
	require.NoError(t, err)
	assert.NotNil(t, view.LocationsNearMe)
	assert.Empty(t, view.LocationsNearMe)
}

func TestGetWithNearbyNoLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Create(ctx, models.TaskInput{Name: "A"})
	require.NoError(t, err)

	view, err := f.svc.GetWithNearby(ctx, res.Task.ID)
	require.NoError(t, err)
	assert.Nil(t, view.LocationsNearMe)
}

func TestGetWithNearbyNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetWithNearby(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	clock := time.Unix(100, 0)
	f := newFixture(t, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		res, err := f.svc.Create(ctx, models.TaskInput{Name: name})
		require.NoError(t, err)
		ids = append(ids, res.Task.ID)
	}

	tasks, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, ids[i], task.ID)
	}

	require.NoError(t, f.svc.Delete(ctx, ids[1]))
	require.NoError(t, f.svc.Delete(ctx, ids[1]))
	_, err = f.svc.GetWithNearby(ctx, ids[1])
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	tasks, err = f.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestCreateLocationIgnoresSuppliedID(t *testing.T) {
	f := newFixture(t)

	loc, err := f.svc.CreateLocation(context.Background(), models.Location{ID: "chosen", Name: "x", Longitude: 1, Latitude: 2})
	require.NoError(t, err)
	assert.NotEqual(t, "chosen", loc.ID)
}

func TestExcludeSelf(t *testing.T) {
	t.Parallel()

	in := []models.Location{{ID: "a"}, {ID: "b"}, {ID: "a"}, {ID: "c"}}
	assert.Equal(t, []models.Location{{ID: "b"}, {ID: "c"}}, ExcludeSelf("a", in))
	assert.Empty(t, ExcludeSelf("a", nil))
}

// Package orchestrator coordinates the location store, the task store and the
// event publisher behind the task and location operations.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"task-manager/internal/apperrors"
	"task-manager/internal/models"
	"task-manager/internal/telemetry"
)

// Search parameters used to find locations near a task.
const (
	NearbyRadius = 1.0
	NearbyUnit   = models.UnitKilometers
)

// LocationStore is the location persistence the service depends on.
type LocationStore interface {
	Upsert(ctx context.Context, loc models.Location) (models.Location, error)
	Find(ctx context.Context, id string) (models.Location, error)
	FindNearby(ctx context.Context, longitude, latitude float64, unit models.DistanceUnit, radius float64) ([]models.Location, error)
}

// TaskStore is the task persistence the service depends on.
type TaskStore interface {
	Save(ctx context.Context, t models.Task) error
	Find(ctx context.Context, id string) (models.Task, error)
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]models.Task, error)
}

// EventPublisher accepts task events. Errors are logged by the service, never returned.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.TaskEvent) error
}

// CreateResult is returned by Create.
type CreateResult struct {
	Task    models.Task
	Created bool
}

// TaskView is a task with the locations around it. LocationsNearMe is nil
// when the task has no location.
type TaskView struct {
	Task            models.Task
	LocationsNearMe []models.Location
}

// Service implements the task workflow.
type Service struct {
	locations LocationStore
	tasks     TaskStore
	events    EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// New wires a service from its collaborators.
func New(locations LocationStore, tasks TaskStore, events EventPublisher, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		locations: locations,
		tasks:     tasks,
		events:    events,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create resolves the task's location, persists the task with a snapshot of
// that location and hands a TaskEvent to the publisher. Nothing is written
// if the location cannot be resolved; a failed publish does not fail the call.
func (s *Service) Create(ctx context.Context, in models.TaskInput) (CreateResult, error) {
	task := models.Task{
		ID:          s.newID(),
		Name:        in.Name,
		Description: in.Description,
		Timestamp:   s.now().Unix(),
	}

	if in.Location != nil {
		loc, err := s.locations.Upsert(ctx, *in.Location)
		switch {
		case err == nil:
			task.Location = &loc
		case apperrors.IsClientError(err):
			return CreateResult{}, err
		case errors.Is(err, apperrors.ErrNotFound):
			// An unresolvable reference is a server-side failure, not a missing task.
			return CreateResult{}, fmt.Errorf("%w: resolve task location: %v", apperrors.ErrUpstream, err)
		default:
			return CreateResult{}, apperrors.Upstream(err, "upsert task location")
		}
	}

	if err := s.tasks.Save(ctx, task); err != nil {
		return CreateResult{}, apperrors.Upstream(err, "save task "+task.ID)
	}
	telemetry.TasksCreated.Inc()

	if s.events != nil {
		if err := s.events.Publish(ctx, models.NewTaskEvent(task)); err != nil {
			s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("task event not published")
		}
	}

	return CreateResult{Task: task, Created: true}, nil
}

// GetWithNearby loads a task and, when it has a location, the locations
// within NearbyRadius of it excluding the task's own location.
func (s *Service) GetWithNearby(ctx context.Context, id string) (TaskView, error) {
	task, err := s.tasks.Find(ctx, id)
	if err != nil {
		return TaskView{}, err
	}
	view := TaskView{Task: task}
	if task.Location == nil {
		return view, nil
	}

	nearby, err := s.locations.FindNearby(ctx, task.Location.Longitude, task.Location.Latitude, NearbyUnit, NearbyRadius)
	if err != nil {
		return TaskView{}, apperrors.Upstream(err, "find locations near task "+id)
	}
	view.LocationsNearMe = ExcludeSelf(task.Location.ID, nearby)
	return view, nil
}

// List returns all tasks, oldest first.
func (s *Service) List(ctx context.Context) ([]models.Task, error) {
	return s.tasks.ListAll(ctx)
}

// Delete removes a task. Deleting an unknown id succeeds.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.tasks.Delete(ctx, id); err != nil {
		return err
	}
	telemetry.TasksDeleted.Inc()
	return nil
}

// CreateLocation stores a new location. Any id on the input is discarded.
func (s *Service) CreateLocation(ctx context.Context, loc models.Location) (models.Location, error) {
	loc.ID = ""
	saved, err := s.locations.Upsert(ctx, loc)
	if err != nil {
		return models.Location{}, err
	}
	telemetry.LocationsCreated.Inc()
	return saved, nil
}

// FindLocation looks a location up by id.
func (s *Service) FindLocation(ctx context.Context, id string) (models.Location, error) {
	return s.locations.Find(ctx, id)
}

// FindNearby lists locations around a point, nearest first.
func (s *Service) FindNearby(ctx context.Context, longitude, latitude float64, unit models.DistanceUnit, radius float64) ([]models.Location, error) {
	return s.locations.FindNearby(ctx, longitude, latitude, unit, radius)
}

// ExcludeSelf drops the location with the given id.
func ExcludeSelf(id string, locations []models.Location) []models.Location {
	out := make([]models.Location, 0, len(locations))
	for _, l := range locations {
		if l.ID != id {
			out = append(out, l)
		}
	}
	return out
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"task-manager/internal/apperrors"
	"task-manager/internal/logging"
	"task-manager/internal/models"
	"task-manager/internal/orchestrator"
	"task-manager/internal/telemetry"
)

// Service is the task/location workflow the handlers call into.
type Service interface {
	Create(ctx context.Context, in models.TaskInput) (orchestrator.CreateResult, error)
	GetWithNearby(ctx context.Context, id string) (orchestrator.TaskView, error)
	List(ctx context.Context) ([]models.Task, error)
	Delete(ctx context.Context, id string) error
	CreateLocation(ctx context.Context, loc models.Location) (models.Location, error)
	FindLocation(ctx context.Context, id string) (models.Location, error)
	FindNearby(ctx context.Context, longitude, latitude float64, unit models.DistanceUnit, radius float64) ([]models.Location, error)
}

// Server wires HTTP handlers for the task and location API.
type Server struct {
	svc     Service
	logger  zerolog.Logger
	limiter func(http.Handler) http.Handler
	health  func(ctx context.Context) error
}

// Option customises a Server.
type Option func(*Server)

// WithRateLimit guards the write endpoints with mw.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.limiter = mw }
}

// WithHealthCheck makes /healthz report the result of check.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(s *Server) { s.health = check }
}

// New constructs the API server.
func New(svc Service, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{svc: svc, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StripSlashes)
	r.Use(logging.Middleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ping", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	write := func(r chi.Router) chi.Router {
		if s.limiter != nil {
			return r.With(s.limiter)
		}
		return r
	}

	r.Route("/task", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		write(r).Post("/", s.handleCreateTask)
		r.Get("/{id}", s.handleGetTask)
		r.Delete("/{id}", s.handleDeleteTask)
	})
	r.Route("/location", func(r chi.Router) {
		write(r).Post("/", s.handleCreateLocation)
		r.Get("/nearby", s.handleNearby)
		r.Get("/{id}", s.handleGetLocation)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "pong"})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.svc.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetWithNearby(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]any{"task": view.Task}
	if view.LocationsNearMe != nil {
		resp["locationsNearMe"] = view.LocationsNearMe
	}
	writeJSON(w, http.StatusOK, resp)
}

type createTaskRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Location    *models.Location `json:"location"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == nil {
		writeDetail(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Description == nil {
		writeDetail(w, http.StatusBadRequest, "description is required")
		return
	}

	res, err := s.svc.Create(r.Context(), models.TaskInput{
		Name:        *req.Name,
		Description: *req.Description,
		Location:    req.Location,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":    res.Task,
		"created": res.Created,
		"message": "Task Created Successfully",
	})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "message": "Task deleted"})
}

type createLocationRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Longitude   *float64 `json:"longitude"`
	Latitude    *float64 `json:"latitude"`
}

func (s *Server) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var req createLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json")
		return
	}
	var missing []string
	if req.Name == nil {
		missing = append(missing, "name")
	}
	if req.Description == nil {
		missing = append(missing, "description")
	}
	if req.Longitude == nil {
		missing = append(missing, "longitude")
	}
	if req.Latitude == nil {
		missing = append(missing, "latitude")
	}
	if len(missing) > 0 {
		writeDetail(w, http.StatusBadRequest, strings.Join(missing, ", ")+" required")
		return
	}

	loc, err := s.svc.CreateLocation(r.Context(), models.Location{
		Name:        *req.Name,
		Description: *req.Description,
		Longitude:   *req.Longitude,
		Latitude:    *req.Latitude,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"location": loc,
		"created":  true,
		"message":  "Location Created Successfully",
	})
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := s.svc.FindLocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"location": loc})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lon, err := parseFloatParam(q.Get("longitude"), "longitude")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lat, err := parseFloatParam(q.Get("latitude"), "latitude")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dist, err := parseFloatParam(q.Get("distance"), "distance")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	unit := models.UnitKilometers
	if u := q.Get("unit"); u != "" {
		unit = models.DistanceUnit(u)
	}

	locations, err := s.svc.FindNearby(r.Context(), lon, lat, unit, dist)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": locations})
}

func parseFloatParam(raw, name string) (float64, error) {
	if raw == "" {
		return 0, apperrors.Wrapf(apperrors.ErrInvalidArgument, "%s is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperrors.Wrapf(apperrors.ErrInvalidArgument, "%s must be a number", name)
	}
	return v, nil
}

// writeError maps the error taxonomy onto status codes. Upstream failures
// win over anything else in their chain.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperrors.ErrUpstream):
		s.serverError(w, r, err)
	case apperrors.IsClientError(err):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		writeDetail(w, http.StatusNotFound, notFoundDetail(r))
	default:
		s.serverError(w, r, err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
	writeDetail(w, http.StatusInternalServerError, err.Error())
}

func notFoundDetail(r *http.Request) string {
	if strings.HasPrefix(r.URL.Path, "/location") {
		return "location not found"
	}
	return "Task not found"
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"task-manager/internal/apperrors"
	"task-manager/internal/models"
)

const (
	locationKeyPrefix = "location:"
	locationGeoKey    = "locations"
)

// LocationStore keeps location hashes and the geo index that answers radius queries.
type LocationStore struct {
	client  *redis.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewLocationStore wraps an injected client.
func NewLocationStore(client *redis.Client, timeout time.Duration, logger zerolog.Logger) *LocationStore {
	return &LocationStore{
		client:  client,
		timeout: timeout,
		logger:  logger.With().Str("component", "location_store").Logger(),
	}
}

func (s *LocationStore) key(id string) string {
	return locationKeyPrefix + id
}

// ValidateCoordinates checks a point against the ranges the geo index accepts.
func ValidateCoordinates(longitude, latitude float64) error {
	if math.IsNaN(longitude) || longitude < models.MinLongitude || longitude > models.MaxLongitude {
		return apperrors.Wrapf(apperrors.ErrValidation, "longitude %v must be inside [%v, %v]", longitude, models.MinLongitude, models.MaxLongitude)
	}
	if math.IsNaN(latitude) || latitude < models.MinLatitude || latitude > models.MaxLatitude {
		return apperrors.Wrapf(apperrors.ErrValidation, "latitude %v must be inside [%v, %v]", latitude, models.MinLatitude, models.MaxLatitude)
	}
	return nil
}

// Upsert returns the stored location when loc carries an id, ignoring the
// other fields of loc; an id that does not resolve yields ErrNotFound.
// Without an id, the location is validated, given a fresh id and inserted
// into both the hash and the geo index.
func (s *LocationStore) Upsert(ctx context.Context, loc models.Location) (models.Location, error) {
	if loc.ID != "" {
		return s.Find(ctx, loc.ID)
	}
	if err := ValidateCoordinates(loc.Longitude, loc.Latitude); err != nil {
		return models.Location{}, err
	}
	loc.ID = uuid.NewString()

	tctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rec := locationRecord(loc)
	inserted, err := insertLocationScript.Run(tctx, s.client,
		[]string{s.key(loc.ID), locationGeoKey},
		loc.ID, rec[fieldName], rec[fieldDescription], rec[fieldLongitude], rec[fieldLatitude],
	).Int()
	if err != nil {
		return models.Location{}, apperrors.Upstream(err, "insert location "+loc.ID)
	}
	if inserted == 0 {
		// The id already exists; the stored record wins.
		return s.Find(ctx, loc.ID)
	}
	return loc, nil
}

// Find looks a location up by id.
func (s *LocationStore) Find(ctx context.Context, id string) (models.Location, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rec, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return models.Location{}, apperrors.Upstream(err, "hgetall "+s.key(id))
	}
	if len(rec) == 0 {
		return models.Location{}, apperrors.Wrapf(apperrors.ErrNotFound, "location %s", id)
	}
	loc, err := locationFromRecord(rec)
	if err != nil {
		return models.Location{}, apperrors.Upstream(err, "decode "+s.key(id))
	}
	return loc, nil
}

// FindNearby returns the indexed locations within radius of the given point,
// nearest first. Geo members without a backing hash are skipped.
func (s *LocationStore) FindNearby(ctx context.Context, longitude, latitude float64, unit models.DistanceUnit, radius float64) ([]models.Location, error) {
	if !unit.Valid() {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "unknown distance unit %q", unit)
	}
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius < 0 {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "radius %v must be a non-negative number", radius)
	}
	if err := ValidateCoordinates(longitude, latitude); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	hits, err := s.client.GeoRadius(ctx, locationGeoKey, longitude, latitude, &redis.GeoRadiusQuery{
		Radius:   radius,
		Unit:     string(unit),
		WithDist: true,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, apperrors.Upstream(err, "georadius "+locationGeoKey)
	}
	if len(hits) == 0 {
		return []models.Location{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(hits))
	for i, h := range hits {
		cmds[i] = pipe.HGetAll(ctx, s.key(h.Name))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperrors.Upstream(err, "hgetall nearby locations")
	}

	out := make([]models.Location, 0, len(hits))
	for i, h := range hits {
		rec := cmds[i].Val()
		if len(rec) == 0 {
			s.logger.Warn().Str("location_id", h.Name).Msg("geo member has no location record")
			continue
		}
		loc, err := locationFromRecord(rec)
		if err != nil {
			s.logger.Warn().Err(err).Str("location_id", h.Name).Msg("skipping unreadable location record")
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}

// insertLocationScript writes the geo member and the hash only if the hash is absent.
// GEOADD runs first so a rejected coordinate leaves nothing behind.
var insertLocationScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('GEOADD', KEYS[2], ARGV[4], ARGV[5], ARGV[1])
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'name', ARGV[2], 'description', ARGV[3], 'longitude', ARGV[4], 'latitude', ARGV[5])
return 1
`)

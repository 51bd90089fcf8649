package store

import (
	"errors"
	"fmt"
	"strconv"

	"task-manager/internal/models"
)

// Hash field names of a persisted task.
const (
	fieldID                  = "id"
	fieldName                = "name"
	fieldDescription         = "description"
	fieldTimestamp           = "timestamp"
	fieldLongitude           = "longitude"
	fieldLatitude            = "latitude"
	fieldLocationID          = "location_id"
	fieldLocationName        = "location_name"
	fieldLocationDescription = "location_description"
	fieldLocationLongitude   = "location_longitude"
	fieldLocationLatitude    = "location_latitude"
)

var errMalformedRecord = errors.New("malformed record")

// Flatten maps a task onto the flat hash stored in Redis, copying the
// location's fields alongside the task's own.
func Flatten(t models.Task) map[string]string {
	rec := map[string]string{
		fieldID:          t.ID,
		fieldName:        t.Name,
		fieldDescription: t.Description,
		fieldTimestamp:   strconv.FormatInt(t.Timestamp, 10),
	}
	if t.Location != nil {
		rec[fieldLocationID] = t.Location.ID
		rec[fieldLocationName] = t.Location.Name
		rec[fieldLocationDescription] = t.Location.Description
		rec[fieldLocationLongitude] = formatFloat(t.Location.Longitude)
		rec[fieldLocationLatitude] = formatFloat(t.Location.Latitude)
	}
	return rec
}

// Unflatten rebuilds a task from its hash. The location is restored only
// when the record carries a location id.
func Unflatten(rec map[string]string) (models.Task, error) {
	id, ok := rec[fieldID]
	if !ok || id == "" {
		return models.Task{}, fmt.Errorf("%w: missing %s", errMalformedRecord, fieldID)
	}
	ts, err := strconv.ParseInt(rec[fieldTimestamp], 10, 64)
	if err != nil {
		return models.Task{}, fmt.Errorf("%w: task %s %s: %v", errMalformedRecord, id, fieldTimestamp, err)
	}
	t := models.Task{
		ID:          id,
		Name:        rec[fieldName],
		Description: rec[fieldDescription],
		Timestamp:   ts,
	}
	if locID := rec[fieldLocationID]; locID != "" {
		lon, err := strconv.ParseFloat(rec[fieldLocationLongitude], 64)
		if err != nil {
			return models.Task{}, fmt.Errorf("%w: task %s %s: %v", errMalformedRecord, id, fieldLocationLongitude, err)
		}
		lat, err := strconv.ParseFloat(rec[fieldLocationLatitude], 64)
		if err != nil {
			return models.Task{}, fmt.Errorf("%w: task %s %s: %v", errMalformedRecord, id, fieldLocationLatitude, err)
		}
		t.Location = &models.Location{
			ID:          locID,
			Name:        rec[fieldLocationName],
			Description: rec[fieldLocationDescription],
			Longitude:   lon,
			Latitude:    lat,
		}
	}
	return t, nil
}

func locationRecord(l models.Location) map[string]string {
	return map[string]string{
		fieldID:          l.ID,
		fieldName:        l.Name,
		fieldDescription: l.Description,
		fieldLongitude:   formatFloat(l.Longitude),
		fieldLatitude:    formatFloat(l.Latitude),
	}
}

func locationFromRecord(rec map[string]string) (models.Location, error) {
	id := rec[fieldID]
	if id == "" {
		return models.Location{}, fmt.Errorf("%w: missing %s", errMalformedRecord, fieldID)
	}
	lon, err := strconv.ParseFloat(rec[fieldLongitude], 64)
	if err != nil {
		return models.Location{}, fmt.Errorf("%w: location %s %s: %v", errMalformedRecord, id, fieldLongitude, err)
	}
	lat, err := strconv.ParseFloat(rec[fieldLatitude], 64)
	if err != nil {
		return models.Location{}, fmt.Errorf("%w: location %s %s: %v", errMalformedRecord, id, fieldLatitude, err)
	}
	return models.Location{
		ID:          id,
		Name:        rec[fieldName],
		Description: rec[fieldDescription],
		Longitude:   lon,
		Latitude:    lat,
	}, nil
}

// formatFloat uses the shortest representation that parses back to v.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

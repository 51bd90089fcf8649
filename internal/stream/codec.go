package stream

import (
	"errors"
	"fmt"
	"strconv"

	"task-manager/internal/models"
)

// Stream entry field names.
const (
	fieldTaskID     = "task_id"
	fieldLocationID = "location_id"
	fieldTimestamp  = "timestamp"
)

var errMalformedEntry = errors.New("malformed stream entry")

// encodeEvent maps an event onto XADD field/value pairs. location_id is
// omitted for tasks without a location.
func encodeEvent(ev models.TaskEvent) map[string]any {
	values := map[string]any{
		fieldTaskID:    ev.TaskID,
		fieldTimestamp: strconv.FormatInt(ev.Timestamp, 10),
	}
	if ev.LocationID != nil {
		values[fieldLocationID] = *ev.LocationID
	}
	return values
}

func decodeEvent(values map[string]any) (models.TaskEvent, error) {
	taskID, _ := values[fieldTaskID].(string)
	if taskID == "" {
		return models.TaskEvent{}, fmt.Errorf("%w: missing %s", errMalformedEntry, fieldTaskID)
	}
	raw, _ := values[fieldTimestamp].(string)
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return models.TaskEvent{}, fmt.Errorf("%w: %s %q", errMalformedEntry, fieldTimestamp, raw)
	}
	ev := models.TaskEvent{TaskID: taskID, Timestamp: ts}
	if loc, ok := values[fieldLocationID].(string); ok && loc != "" {
		ev.LocationID = &loc
	}
	return ev, nil
}

// Package analytics holds the consumers of the task event stream.
package analytics

import (
	"context"

	"github.com/rs/zerolog"

	"task-manager/internal/stream"
)

// LogSink writes one structured line per task event.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink tags every line with the sink name.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("sink", "log").Logger()}
}

// Handle logs the event fields; location_id is null for tasks without a location.
func (s *LogSink) Handle(_ context.Context, msg stream.Message) error {
	ev := s.logger.Info().
		Str("entry_id", msg.ID).
		Str("task_id", msg.Event.TaskID).
		Int64("timestamp", msg.Event.Timestamp)
	if msg.Event.LocationID != nil {
		ev = ev.Str("location_id", *msg.Event.LocationID)
	} else {
		ev = ev.Interface("location_id", nil)
	}
	ev.Msg("task event")
	return nil
}

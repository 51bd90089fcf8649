package models

// TaskEvent is emitted once per created task.
type TaskEvent struct {
	TaskID     string  `json:"task_id"`
	LocationID *string `json:"location_id"`
	Timestamp  int64   `json:"timestamp"`
}

// NewTaskEvent builds the event for a persisted task.
func NewTaskEvent(t Task) TaskEvent {
	ev := TaskEvent{TaskID: t.ID, Timestamp: t.Timestamp}
	if t.Location != nil && t.Location.ID != "" {
		id := t.Location.ID
		ev.LocationID = &id
	}
	return ev
}

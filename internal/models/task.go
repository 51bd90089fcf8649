package models

// Task is a unit of work, optionally pinned to a location.
type Task struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Timestamp   int64     `json:"timestamp"`
	Location    *Location `json:"location"`
}

// TaskInput is the client-supplied part of a task.
type TaskInput struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Location    *Location `json:"location,omitempty"`
}

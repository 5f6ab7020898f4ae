package models

import "time"

// ImportRun records the outcome of one catalog import.
type ImportRun struct {
	ID         int64       `json:"id,omitempty"`
	State      ImportState `json:"state"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Stations   int         `json:"stations"`
	Streams    int         `json:"streams"`
	Countries  int         `json:"countries"`
}

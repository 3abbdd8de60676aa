package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// SyncRun is one execution of the reconciliation process for one source,
// logged start-to-finish.
type SyncRun struct {
	ID                int64      `json:"id" db:"id"`
	Source            string     `json:"source" db:"source"`
	Status            RunStatus  `json:"status" db:"status"`
	StartedAt         time.Time  `json:"started_at" db:"started_at"`
	FinishedAt        *time.Time `json:"finished_at" db:"finished_at"`
	PropertiesFound   int        `json:"properties_found" db:"properties_found"`
	PropertiesAdded   int        `json:"properties_added" db:"properties_added"`
	PropertiesUpdated int        `json:"properties_updated" db:"properties_updated"`
	ErrorMessage      string     `json:"error_message" db:"error_message"`
}

// SyncStats is the aggregate outcome of a sync run.
type SyncStats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Found   int `json:"found"`
	Removed int `json:"removed"`
}

// Merge adds the counts of another batch into s.
func (s *SyncStats) Merge(other SyncStats) {
	s.Added += other.Added
	s.Updated += other.Updated
	s.Found += other.Found
	s.Removed += other.Removed
}

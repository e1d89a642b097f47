package report

import (
	"errors"
	"fmt"
	"time"
)

// Status is the final state of a run.
type Status string

// Run statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Report summarizes a sync run.
type Report struct {
	// RunID identifies the run; UUIDv7 so ids sort by start time.
	RunID      string    `json:"run_id"`
	Username   string    `json:"username,omitempty"`
	DatabaseID string    `json:"database_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     Status    `json:"status"`
	// Error holds the fatal error text of a failed run.
	Error string `json:"error,omitempty"`

	// Fetched counts items retrieved; Total is what the API advertised.
	Fetched int `json:"fetched"`
	Total   int `json:"total"`
	Added   int `json:"added"`
	Updated int `json:"updated"`
	// Deleted counts ids missing from the fresh snapshot; Marked counts rows
	// whose status was changed to deleted.
	Deleted    int  `json:"deleted"`
	Marked     int  `json:"marked"`
	Failed     int  `json:"failed"`
	Duplicates int  `json:"duplicates"`
	Recreated  bool `json:"recreated"`
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Validate performs coarse validation before the report reaches sinks.
func (r Report) Validate() error {
	if r.RunID == "" {
		return errors.New("run id is required")
	}
	if r.StartedAt.IsZero() {
		return errors.New("start time is required")
	}
	if !r.FinishedAt.IsZero() && r.FinishedAt.Before(r.StartedAt) {
		return errors.New("finish time precedes start time")
	}
	switch r.Status {
	case StatusSucceeded:
	case StatusFailed:
		if r.Error == "" {
			return errors.New("failed run requires an error")
		}
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}

// Package store declares interfaces for persisting sync run history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the sync_runs status column.
type RunStatus string

// Run statuses persisted in sync_runs.status.
const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// SyncRun models one row of the sync_runs table.
type SyncRun struct {
	// ID is the run identifier shared with logs and published reports.
	ID         uuid.UUID
	Username   string
	DatabaseID string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	// ErrorMessage is nil for successful runs.
	ErrorMessage *string
	Fetched      int
	Added        int
	Updated      int
	Deleted      int
	Marked       int
	Failed       int
}

// RunRepository persists sync run summaries.
type RunRepository interface {
	// RecordRun inserts the run, replacing an earlier row with the same id.
	RecordRun(ctx context.Context, run SyncRun) error
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]SyncRun, error)
}

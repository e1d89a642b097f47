package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/bgm-notion-sync/internal/report"
	"github.com/JakeFAU/bgm-notion-sync/internal/store"
)

// StoreSink persists run summaries via a store.RunRepository.
type StoreSink struct {
	repo store.RunRepository
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository) *StoreSink {
	return &StoreSink{repo: repo}
}

// Consume converts r to a run row and records it.
func (s *StoreSink) Consume(ctx context.Context, r report.Report) error {
	if s == nil || s.repo == nil {
		return nil
	}
	run, err := toSyncRun(r)
	if err != nil {
		return err
	}
	if err := s.repo.RecordRun(ctx, run); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; the repository is closed by its owner.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

func toSyncRun(r report.Report) (store.SyncRun, error) {
	id, err := uuid.Parse(r.RunID)
	if err != nil {
		return store.SyncRun{}, fmt.Errorf("parse run id %q: %w", r.RunID, err)
	}
	run := store.SyncRun{
		ID:         id,
		Username:   r.Username,
		DatabaseID: r.DatabaseID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Status:     store.RunSuccess,
		Fetched:    r.Fetched,
		Added:      r.Added,
		Updated:    r.Updated,
		Deleted:    r.Deleted,
		Marked:     r.Marked,
		Failed:     r.Failed,
	}
	if r.Status == report.StatusFailed {
		msg := r.Error
		run.Status = store.RunError
		run.ErrorMessage = &msg
	}
	return run, nil
}

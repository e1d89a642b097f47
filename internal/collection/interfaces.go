package collection

import (
	"context"
	"time"
)

// User is the authenticated Bangumi account.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
}

// Source fetches the remote collection of a user.
type Source interface {
	Me(ctx context.Context) (User, error)
	FetchAll(ctx context.Context, username string) (Snapshot, error)
}

// DetailSource resolves per-subject detail and cover lookups.
type DetailSource interface {
	SubjectDetail(ctx context.Context, subjectID int) (SubjectDetail, error)
	SubjectImage(ctx context.Context, subjectID int) (string, error)
}

// SnapshotStore persists the last synced snapshot and the destination table id.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) (Snapshot, error)
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadDatabaseID(ctx context.Context) (string, error)
	SaveDatabaseID(ctx context.Context, databaseID string) error
	Clear(ctx context.Context) error
}

// Outcome describes what an upsert did to the destination table.
type Outcome string

// Upsert outcomes.
const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
)

// TableWriter applies item mutations to the destination table.
type TableWriter interface {
	Upsert(ctx context.Context, databaseID string, item Item) (Outcome, error)
	MarkDeleted(ctx context.Context, databaseID string, survivors map[int]struct{}) (int, error)
}

// TableManager owns the destination table schema.
type TableManager interface {
	Create(ctx context.Context) (string, error)
	Refresh(ctx context.Context, databaseID string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

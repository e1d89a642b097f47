package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bgm-notion-sync/internal/collection"
	"github.com/JakeFAU/bgm-notion-sync/internal/metrics"
	"github.com/JakeFAU/bgm-notion-sync/internal/report"
	"github.com/JakeFAU/bgm-notion-sync/internal/telemetry"
)

// ErrEmptyCollection is returned when the fetch yields no items. An empty
// snapshot would mark every row deleted, so the run stops instead.
var ErrEmptyCollection = errors.New("fetched collection is empty")

// DefaultEnvKey is the dotenv variable updated after a table is created.
const DefaultEnvKey = "NOTION_DATABASE_ID"

// Config controls a Syncer.
type Config struct {
	// DatabaseID pins the destination table. Empty falls back to the cache.
	DatabaseID string
	// EnvFile, when set, receives the id of a newly created table.
	EnvFile string
	EnvKey  string
}

// Reporter receives the run report.
type Reporter interface {
	Emit(ctx context.Context, r report.Report) error
}

// EnvWriter persists a key in a dotenv file.
type EnvWriter func(path, key, value string) error

// Deps groups the collaborators of a Syncer.
type Deps struct {
	Source   collection.Source
	Cache    collection.SnapshotStore
	Tables   collection.TableManager
	Writer   collection.TableWriter
	Reporter Reporter
	Clock    collection.Clock
	IDs      collection.IDGenerator
	// EnvWriter is required only when Config.EnvFile is set.
	EnvWriter EnvWriter
}

// Syncer orchestrates a synchronization pass.
type Syncer struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and builds a Syncer.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Syncer, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("syncer: source is required")
	case deps.Cache == nil:
		return nil, errors.New("syncer: snapshot store is required")
	case deps.Tables == nil:
		return nil, errors.New("syncer: table manager is required")
	case deps.Writer == nil:
		return nil, errors.New("syncer: table writer is required")
	case deps.Clock == nil:
		return nil, errors.New("syncer: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("syncer: id generator is required")
	case cfg.EnvFile != "" && deps.EnvWriter == nil:
		return nil, errors.New("syncer: env writer is required when an env file is set")
	}
	if cfg.EnvKey == "" {
		cfg.EnvKey = DefaultEnvKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run performs one pass and returns its report. A non-nil error means the
// pass stopped at a fatal step; the report then has StatusFailed.
func (s *Syncer) Run(ctx context.Context) (report.Report, error) {
	runID, err := s.deps.IDs.NewID()
	if err != nil {
		return report.Report{}, fmt.Errorf("generate run id: %w", err)
	}
	ctx = telemetry.WithRunTrace(ctx, runID)
	rep := report.Report{RunID: runID, StartedAt: s.deps.Clock.Now()}
	log := s.logger.With(zap.String("run_id", runID))

	runErr := s.run(ctx, &rep, log)

	rep.FinishedAt = s.deps.Clock.Now()
	rep.Status = report.StatusSucceeded
	if runErr != nil {
		rep.Status = report.StatusFailed
		rep.Error = runErr.Error()
	}
	s.emit(ctx, rep, log)
	return rep, runErr
}

func (s *Syncer) run(ctx context.Context, rep *report.Report, log *zap.Logger) error {
	user, err := s.deps.Source.Me(ctx)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	rep.Username = user.Username
	log = log.With(zap.String("username", user.Username))
	log.Info("resolved bangumi user", zap.Int("user_id", user.ID))

	databaseID, recreated, err := s.resolveTable(ctx, log)
	if err != nil {
		return err
	}
	rep.DatabaseID = databaseID
	rep.Recreated = recreated
	log = log.With(zap.String("database_id", databaseID))

	previous, err := s.deps.Cache.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot cache: %w", err)
	}

	fresh, err := s.deps.Source.FetchAll(ctx, user.Username)
	if err != nil {
		return fmt.Errorf("fetch collection: %w", err)
	}
	rep.Fetched = fresh.Len()
	rep.Total = fresh.Total
	if fresh.Len() == 0 {
		return ErrEmptyCollection
	}
	log.Info("fetched collection", zap.Int("items", fresh.Len()), zap.Int("total", fresh.Total))

	if err := s.deps.Cache.SaveSnapshot(ctx, fresh); err != nil {
		return fmt.Errorf("save snapshot cache: %w", err)
	}

	diff := collection.Diff(fresh, previous)
	rep.Deleted = len(diff.DeletedIDs)
	rep.Duplicates = len(diff.Duplicates)
	if len(diff.Duplicates) > 0 {
		log.Warn("collection repeats subject ids; keeping the last occurrence", zap.Ints("subject_ids", diff.Duplicates))
	}
	log.Info("reconciled collection",
		zap.Int("added", len(diff.Added)),
		zap.Int("updated", len(diff.Updated)),
		zap.Int("deleted", len(diff.DeletedIDs)),
	)
	survivors := fresh.SubjectIDs()

	for _, item := range diff.Added {
		s.upsert(ctx, databaseID, item, rep, log)
	}
	for _, item := range diff.Updated {
		s.upsert(ctx, databaseID, item, rep, log)
	}

	if len(diff.DeletedIDs) > 0 {
		marked, err := s.deps.Writer.MarkDeleted(ctx, databaseID, survivors)
		rep.Marked = marked
		metrics.AddItems("mark_deleted", "ok", marked)
		if err != nil {
			metrics.ObserveItem("mark_deleted", "failed")
			rep.Failed++
			log.Error("failed to mark deleted rows", zap.Error(err))
		} else {
			log.Info("marked deleted rows", zap.Int("marked", marked))
		}
	}
	return nil
}

// upsert applies one item. Failures are counted and logged, never returned.
func (s *Syncer) upsert(ctx context.Context, databaseID string, item collection.Item, rep *report.Report, log *zap.Logger) {
	outcome, err := s.deps.Writer.Upsert(ctx, databaseID, item)
	if err != nil {
		rep.Failed++
		metrics.ObserveItem("upsert", "failed")
		log.Error("failed to write row", zap.Int("subject_id", item.SubjectID), zap.Error(err))
		return
	}
	metrics.ObserveItem("upsert", string(outcome))
	switch outcome {
	case collection.OutcomeCreated:
		rep.Added++
	case collection.OutcomeUpdated:
		rep.Updated++
	}
	log.Debug("wrote row", zap.Int("subject_id", item.SubjectID), zap.String("outcome", string(outcome)))
}

// resolveTable returns a usable table id. The schema is refreshed every run;
// when that fails the cache is invalidated and the table recreated once.
func (s *Syncer) resolveTable(ctx context.Context, log *zap.Logger) (string, bool, error) {
	databaseID := s.cfg.DatabaseID
	if databaseID == "" {
		cached, err := s.deps.Cache.LoadDatabaseID(ctx)
		if err != nil {
			return "", false, fmt.Errorf("load cached table id: %w", err)
		}
		databaseID = cached
	}
	if databaseID == "" {
		created, err := s.createTable(ctx, log)
		if err != nil {
			return "", false, err
		}
		databaseID = created
	}

	err := s.deps.Tables.Refresh(ctx, databaseID)
	if err == nil {
		return databaseID, false, nil
	}
	log.Warn("table schema refresh failed; recreating table", zap.String("database_id", databaseID), zap.Error(err))

	if err := s.deps.Cache.Clear(ctx); err != nil {
		return "", false, fmt.Errorf("clear caches: %w", err)
	}
	recreated, err := s.createTable(ctx, log)
	if err != nil {
		return "", false, fmt.Errorf("recreate table: %w", err)
	}
	if err := s.deps.Tables.Refresh(ctx, recreated); err != nil {
		return "", false, fmt.Errorf("refresh recreated table: %w", err)
	}
	return recreated, true, nil
}

func (s *Syncer) createTable(ctx context.Context, log *zap.Logger) (string, error) {
	databaseID, err := s.deps.Tables.Create(ctx)
	if err != nil {
		return "", fmt.Errorf("create table: %w", err)
	}
	if err := s.deps.Cache.SaveDatabaseID(ctx, databaseID); err != nil {
		return "", fmt.Errorf("save table id: %w", err)
	}
	log.Info("created table", zap.String("database_id", databaseID))
	if s.cfg.EnvFile != "" {
		if err := s.deps.EnvWriter(s.cfg.EnvFile, s.cfg.EnvKey, databaseID); err != nil {
			log.Warn("failed to write table id to env file", zap.String("path", s.cfg.EnvFile), zap.Error(err))
		}
	}
	return databaseID, nil
}

func (s *Syncer) emit(ctx context.Context, rep report.Report, log *zap.Logger) {
	if s.deps.Reporter == nil {
		return
	}
	// Reports go out even when ctx was cancelled mid-run.
	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.deps.Reporter.Emit(emitCtx, rep); err != nil {
		log.Warn("failed to emit run report", zap.Error(err))
	}
}

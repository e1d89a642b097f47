// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/bgm-notion-sync/internal/bangumi"
	"github.com/JakeFAU/bgm-notion-sync/internal/clock/system"
	"github.com/JakeFAU/bgm-notion-sync/internal/config"
	"github.com/JakeFAU/bgm-notion-sync/internal/envfile"
	"github.com/JakeFAU/bgm-notion-sync/internal/id/uuid"
	"github.com/JakeFAU/bgm-notion-sync/internal/logging"
	"github.com/JakeFAU/bgm-notion-sync/internal/metrics"
	"github.com/JakeFAU/bgm-notion-sync/internal/notion"
	pubsubpublisher "github.com/JakeFAU/bgm-notion-sync/internal/publisher/pubsub"
	"github.com/JakeFAU/bgm-notion-sync/internal/report"
	"github.com/JakeFAU/bgm-notion-sync/internal/report/sinks"
	"github.com/JakeFAU/bgm-notion-sync/internal/snapshot"
	"github.com/JakeFAU/bgm-notion-sync/internal/storage"
	"github.com/JakeFAU/bgm-notion-sync/internal/storage/gcs"
	"github.com/JakeFAU/bgm-notion-sync/internal/storage/local"
	"github.com/JakeFAU/bgm-notion-sync/internal/storage/memory"
	"github.com/JakeFAU/bgm-notion-sync/internal/storage/postgres"
	"github.com/JakeFAU/bgm-notion-sync/internal/store"
	"github.com/JakeFAU/bgm-notion-sync/internal/syncer"
	"github.com/JakeFAU/bgm-notion-sync/internal/table"
	"github.com/JakeFAU/bgm-notion-sync/internal/telemetry"
)

// ErrNoRunHistory is returned by RunRepository when Postgres is not configured.
var ErrNoRunHistory = errors.New("run history requires report.postgres.dsn")

// App holds all the shared, long-lived services for the application.
// It is initialized once per command and closed by a Cobra hook.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	objects    storage.ObjectStore
	gcsStore   *gcs.Store
	runs       *postgres.RunStore
	dispatcher *report.Dispatcher
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetObjectStore exposes the snapshot backend.
func (a *App) GetObjectStore() storage.ObjectStore {
	return a.objects
}

// GetRunRepository returns the run history store.
func (a *App) GetRunRepository() (store.RunRepository, error) {
	if a.runs == nil {
		return nil, ErrNoRunHistory
	}
	return a.runs, nil
}

// Load reads configuration from path and builds the App.
func Load(ctx context.Context, path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewWithOptions(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return New(ctx, cfg, logger)
}

// New builds the App from cfg. It fails fast if a configured backend
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	telemetry.InitPropagation()
	a := &App{cfg: cfg, logger: logger}

	switch cfg.Storage.Provider {
	case "gcs":
		logger.Info("using GCS snapshot storage", zap.String("bucket", cfg.Storage.GCSBucket), zap.String("prefix", cfg.Storage.Prefix))
		gcsStore, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix}, logger)
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.gcsStore = gcsStore
		a.objects = gcsStore
	case "memory":
		logger.Info("using in-memory snapshot storage; every run reconciles the full collection")
		if cfg.Notion.DatabaseID == "" {
			logger.Warn("notion.database_id is unset; each run will create a new table")
		}
		a.objects = memory.NewStore()
	default:
		logger.Info("using local snapshot storage", zap.String("dir", cfg.Cache.Dir))
		localStore, err := local.New(local.Config{BaseDir: cfg.Cache.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		a.objects = localStore
	}

	reportSinks := []report.Sink{
		sinks.NewLogSink(logger.Named("report")),
		sinks.NewPrometheusSink(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job),
	}

	if cfg.Report.Postgres.DSN != "" {
		logger.Info("connecting to run history database", zap.String("table", cfg.Report.Postgres.Table))
		runs, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
			DSN:      cfg.Report.Postgres.DSN,
			Table:    cfg.Report.Postgres.Table,
			MaxConns: cfg.Report.Postgres.MaxConns,
			Migrate:  cfg.Report.Postgres.Migrate,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init run history: %w", err)
		}
		a.runs = runs
		reportSinks = append(reportSinks, sinks.NewStoreSink(runs))
	}

	if cfg.Report.PubSub.TopicID != "" {
		logger.Info("connecting to Pub/Sub", zap.String("topic", cfg.Report.PubSub.TopicID))
		pub, err := pubsubpublisher.Open(ctx, cfg.Report.PubSub.ProjectID, cfg.Report.PubSub.TopicID)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init pubsub: %w", err)
		}
		reportSinks = append(reportSinks, sinks.NewPublishSink(pub))
	}

	a.dispatcher = report.NewDispatcher(report.Config{
		SinkTimeout: cfg.SinkTimeout(),
		Logger:      logger.Named("report"),
	}, reportSinks...)

	logger.Info("application services initialized")
	return a, nil
}

// NewSyncer builds a Syncer from the configuration. API tokens are required.
func (a *App) NewSyncer() (*syncer.Syncer, error) {
	cfg := a.cfg
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	source, err := bangumi.New(bangumi.Config{
		BaseURL:           cfg.Bangumi.BaseURL,
		Token:             cfg.Bangumi.Token,
		UserAgent:         cfg.Bangumi.UserAgent,
		PageSize:          cfg.Bangumi.PageSize,
		SubjectType:       cfg.Bangumi.SubjectType,
		CollectionType:    cfg.Bangumi.CollectionType,
		AllowPartial:      cfg.Bangumi.AllowPartial,
		Timeout:           cfg.HTTPTimeout(),
		RequestsPerSecond: cfg.Bangumi.RequestsPerSecond,
	}, a.logger.Named("bangumi"))
	if err != nil {
		return nil, fmt.Errorf("init bangumi client: %w", err)
	}

	api, err := notion.New(notion.Config{
		BaseURL:           cfg.Notion.BaseURL,
		Token:             cfg.Notion.Token,
		Version:           cfg.Notion.Version,
		Timeout:           cfg.HTTPTimeout(),
		RequestsPerSecond: cfg.Notion.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("init notion client: %w", err)
	}

	deps := syncer.Deps{
		Source: source,
		Cache:  snapshot.New(a.objects, a.logger.Named("snapshot")),
		Tables: table.NewManager(api, table.ManagerConfig{
			ParentPageID: cfg.Notion.ParentPageID,
			Title:        cfg.Notion.Title,
		}, a.logger.Named("table")),
		Writer: table.NewWriter(api, source, table.WriterConfig{
			SiteURL:  cfg.Bangumi.SiteURL,
			PageSize: cfg.Notion.QueryPageSize,
		}, a.logger.Named("table")),
		Reporter:  a.dispatcher,
		Clock:     system.New(),
		IDs:       uuid.New(),
		EnvWriter: envfile.Update,
	}
	return syncer.New(deps, syncer.Config{
		DatabaseID: cfg.Notion.DatabaseID,
		EnvFile:    a.envFile(),
	}, a.logger.Named("syncer"))
}

// envFile is the dotenv file that receives a new table id, or "" when
// write-back is off or the file does not exist.
func (a *App) envFile() string {
	if !a.cfg.Notion.WriteEnv || a.cfg.Dotenv == "" {
		return ""
	}
	if _, err := os.Stat(a.cfg.Dotenv); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			a.logger.Warn("cannot stat env file; table id write-back disabled", zap.String("path", a.cfg.Dotenv), zap.Error(err))
		}
		return ""
	}
	return a.cfg.Dotenv
}

// Close gracefully shuts down all services in the App container.
// It is called by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	ctx := context.Background()
	// Sinks own the publisher.
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			a.logger.Warn("error closing report sinks", zap.Error(err))
		}
	}
	if a.runs != nil {
		a.runs.Close()
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("error closing GCS client", zap.Error(err))
		}
	}
	// Flushing the logger buffer ensures all logs are written before exit.
	_ = a.logger.Sync()
}

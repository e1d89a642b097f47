package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bgm-notion-sync/internal/store"
)

type fakeRunner struct {
	err   error
	calls int
}

func (r *fakeRunner) Run(context.Context) error {
	r.calls++
	return r.err
}

type fakeRepo struct {
	runs []store.SyncRun
}

func (f *fakeRepo) RecordRun(context.Context, store.SyncRun) error { return nil }

func (f *fakeRepo) ListRuns(_ context.Context, limit int) ([]store.SyncRun, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

type fakeApp struct {
	runner  *fakeRunner
	repo    store.RunRepository
	repoErr error
	closed  bool
}

func (a *fakeApp) Close() { a.closed = true }

func (a *fakeApp) GetLogger() *zap.Logger { return zap.NewNop() }

func (a *fakeApp) NewRunner() (Runner, error) {
	return a.runner, nil
}

func (a *fakeApp) GetRunRepository() (store.RunRepository, error) {
	return a.repo, a.repoErr
}

// withApp swaps the app factory; tests using it must not run in parallel.
func withApp(t *testing.T, a *fakeApp, factoryErr error) *string {
	t.Helper()
	var gotPath string
	prev := newApp
	newApp = func(_ context.Context, cfgFile string) (App, error) {
		gotPath = cfgFile
		if factoryErr != nil {
			return nil, factoryErr
		}
		return a, nil
	}
	t.Cleanup(func() { newApp = prev })
	return &gotPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, closeApp := newRootCmd()
	defer closeApp()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSyncCommandRunsAndCloses(t *testing.T) {
	a := &fakeApp{runner: &fakeRunner{}}
	path := withApp(t, a, nil)

	_, err := execute(t, "sync", "--config", "config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 1, a.runner.calls)
	assert.True(t, a.closed)
	assert.Equal(t, "config.yaml", *path)
}

func TestSyncCommandReturnsRunError(t *testing.T) {
	a := &fakeApp{runner: &fakeRunner{err: errors.New("fetched collection is empty")}}
	withApp(t, a, nil)

	_, err := execute(t, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetched collection is empty")
	assert.True(t, a.closed)
}

func TestSyncCommandFactoryError(t *testing.T) {
	withApp(t, nil, errors.New("bad config"))

	_, err := execute(t, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}

func TestRunsCommandPrintsHistory(t *testing.T) {
	start := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	msg := "resolve user: unauthorized"
	a := &fakeApp{repo: &fakeRepo{runs: []store.SyncRun{
		{StartedAt: start, FinishedAt: start.Add(2 * time.Second), Status: store.RunSuccess, Fetched: 10, Added: 2},
		{StartedAt: start.Add(-time.Hour), FinishedAt: start.Add(-time.Hour), Status: store.RunError, ErrorMessage: &msg},
	}}}
	withApp(t, a, nil)

	out, err := execute(t, "runs", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "STARTED")
	assert.Contains(t, out, "2024-04-01T12:00:00Z")
	assert.Contains(t, out, "success")
	assert.Contains(t, out, msg)
}

func TestRunsCommandWithoutHistory(t *testing.T) {
	withApp(t, &fakeApp{repoErr: errors.New("run history requires report.postgres.dsn")}, nil)

	_, err := execute(t, "runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report.postgres.dsn")
}

func TestResolveAppMissing(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}

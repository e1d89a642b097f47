package syncer_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/bgm-notion-sync/internal/bangumi"
	"github.com/JakeFAU/bgm-notion-sync/internal/collection"
	"github.com/JakeFAU/bgm-notion-sync/internal/envfile"
	"github.com/JakeFAU/bgm-notion-sync/internal/id/uuid"
	"github.com/JakeFAU/bgm-notion-sync/internal/notion"
	"github.com/JakeFAU/bgm-notion-sync/internal/notion/notiontest"
	"github.com/JakeFAU/bgm-notion-sync/internal/report"
	"github.com/JakeFAU/bgm-notion-sync/internal/snapshot"
	"github.com/JakeFAU/bgm-notion-sync/internal/storage/memory"
	"github.com/JakeFAU/bgm-notion-sync/internal/syncer"
	"github.com/JakeFAU/bgm-notion-sync/internal/table"
)

const parentPage = "parent-page"

// fakeBangumi serves a mutable collection for user "sai".
type fakeBangumi struct {
	mu    sync.Mutex
	items []collection.Item
	meErr bool
}

func (f *fakeBangumi) set(items ...collection.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
}

func (f *fakeBangumi) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v0/me", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		fail := f.meErr
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"id": 1, "username": "sai"})
	})
	mux.HandleFunc("/v0/users/sai/collections", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		f.mu.Lock()
		items := f.items
		f.mu.Unlock()
		end := min(offset+limit, len(items))
		data := []collection.Item{}
		if offset < len(items) {
			data = items[offset:end]
		}
		writeJSON(w, map[string]any{"data": data, "total": len(items), "limit": limit, "offset": offset})
	})
	// Subject detail and cover lookups fall through to 404; they are best effort.
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recorder struct {
	mu       sync.Mutex
	reports  []report.Report
	traceIDs []string
}

func (r *recorder) Emit(ctx context.Context, rep report.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	r.traceIDs = append(r.traceIDs, trace.SpanContextFromContext(ctx).TraceID().String())
	return nil
}

func (r *recorder) last(t *testing.T) report.Report {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.reports)
	return r.reports[len(r.reports)-1]
}

type harness struct {
	bgm     *fakeBangumi
	notion  *notiontest.Server
	cache   *snapshot.Store
	reports *recorder
	deps    syncer.Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	bgm := &fakeBangumi{}
	bgmSrv := httptest.NewServer(bgm.handler())
	t.Cleanup(bgmSrv.Close)
	source, err := bangumi.New(bangumi.Config{BaseURL: bgmSrv.URL, Token: "token", PageSize: 2}, zap.NewNop())
	require.NoError(t, err)

	notionSrv := notiontest.NewServer()
	t.Cleanup(notionSrv.Close)
	notionSrv.AddContainer(parentPage)
	api, err := notion.New(notion.Config{BaseURL: notionSrv.URL, Token: "secret"})
	require.NoError(t, err)

	cache := snapshot.New(memory.NewStore(), zap.NewNop())
	reports := &recorder{}
	start := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	return &harness{
		bgm:     bgm,
		notion:  notionSrv,
		cache:   cache,
		reports: reports,
		deps: syncer.Deps{
			Source:    source,
			Cache:     cache,
			Tables:    table.NewManager(api, table.ManagerConfig{ParentPageID: parentPage}, nil),
			Writer:    table.NewWriter(api, source, table.WriterConfig{}, nil),
			Reporter:  reports,
			Clock:     fixedClock{now: start},
			IDs:       uuid.New(),
			EnvWriter: envfile.Update,
		},
	}
}

func (h *harness) syncer(t *testing.T, cfg syncer.Config) *syncer.Syncer {
	t.Helper()
	s, err := syncer.New(h.deps, cfg, zap.NewNop())
	require.NoError(t, err)
	return s
}

// statuses maps subject id to the status label of every live row.
func (h *harness) statuses(databaseID string) map[int]string {
	out := make(map[int]string)
	for _, page := range h.notion.Rows(databaseID) {
		id, ok := page.Number(table.PropID)
		if !ok {
			continue
		}
		out[int(id)] = page.SelectName(table.PropStatus)
	}
	return out
}

func item(id int, status collection.StatusType) collection.Item {
	return collection.Item{
		SubjectID:   id,
		SubjectType: collection.SubjectAnime,
		Type:        status,
		Subject:     collection.Subject{ID: id, Name: "subject-" + strconv.Itoa(id), Type: collection.SubjectAnime},
	}
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := syncer.New(syncer.Deps{}, syncer.Config{}, nil)
	require.Error(t, err)

	h := newHarness(t)
	deps := h.deps
	deps.EnvWriter = nil
	_, err = syncer.New(deps, syncer.Config{EnvFile: ".env"}, nil)
	require.Error(t, err)
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.bgm.set(item(1, collection.StatusDoing), item(2, collection.StatusWish))

	rep, err := h.syncer(t, syncer.Config{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.StatusSucceeded, rep.Status)
	assert.Equal(t, "sai", rep.Username)
	assert.Equal(t, 2, rep.Fetched)
	assert.Equal(t, 2, rep.Added)
	assert.Zero(t, rep.Deleted)
	assert.NotEmpty(t, rep.RunID)

	databaseID, err := h.cache.LoadDatabaseID(ctx)
	require.NoError(t, err)
	assert.Equal(t, rep.DatabaseID, databaseID)
	assert.Equal(t, map[int]string{1: "在看", 2: "想看"}, h.statuses(databaseID))

	cached, err := h.cache.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cached.Len())

	// Second pass: 1 changes status, 2 disappears, 3 is new.
	h.bgm.set(item(1, collection.StatusDone), item(3, collection.StatusWish))
	rep, err = h.syncer(t, syncer.Config{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, databaseID, rep.DatabaseID)
	assert.Equal(t, 1, rep.Added)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 1, rep.Marked)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, map[int]string{1: "看过", 2: collection.LabelDeleted, 3: "想看"}, h.statuses(databaseID))
	assert.Equal(t, rep, h.reports.last(t))
}

func TestRunNoChangesWritesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.bgm.set(item(1, collection.StatusDoing))

	_, err := h.syncer(t, syncer.Config{}).Run(ctx)
	require.NoError(t, err)
	writes := h.notion.Count("POST /v1/pages") + h.notion.Count("PATCH /v1/pages")

	rep, err := h.syncer(t, syncer.Config{}).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Added+rep.Updated+rep.Deleted)
	assert.Equal(t, writes, h.notion.Count("POST /v1/pages")+h.notion.Count("PATCH /v1/pages"))
}

func TestRunSavesSnapshotBeforeWriting(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.bgm.set(item(1, collection.StatusDoing), item(2, collection.StatusWish))
	h.notion.SetPageWriteHook(func(string, notion.Properties) error {
		return errors.New("rate limited")
	})

	rep, err := h.syncer(t, syncer.Config{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Failed)
	assert.Zero(t, rep.Added)

	cached, err := h.cache.LoadSnapshot(ctx)
	require.NoError(t, err)
	ids := make([]int, 0, cached.Len())
	for _, it := range cached.Items {
		ids = append(ids, it.SubjectID)
	}
	sort.Ints(ids)
	assert.Equal(t, []int{1, 2}, ids)
}

func TestRunContinuesPastItemFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.bgm.set(item(1, collection.StatusDoing), item(2, collection.StatusWish), item(3, collection.StatusDone))
	h.notion.SetPageWriteHook(func(_ string, props notion.Properties) error {
		if n := props[table.PropID].Number; n != nil && *n == 2 {
			return errors.New("bad row")
		}
		return nil
	})

	rep, err := h.syncer(t, syncer.Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Added)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, map[int]string{1: "在看", 3: "看过"}, h.statuses(rep.DatabaseID))
}

func TestRunDoesNotRetryFailedItemWhenUnchanged(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.bgm.set(item(1, collection.StatusDoing), item(2, collection.StatusWish))
	h.notion.SetPageWriteHook(func(_ string, props notion.Properties) error {
		if n := props[table.PropID].Number; n != nil && *n == 2 {
			return errors.New("bad row")
		}
		return nil
	})

	rep, err := h.syncer(t, syncer.Config{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	// The snapshot already holds item 2, so the next diff has nothing to write.
	h.notion.SetPageWriteHook(nil)
	rep, err = h.syncer(t, syncer.Config{}).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Added)
	assert.Zero(t, rep.Updated)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, map[int]string{1: "在看"}, h.statuses(rep.DatabaseID))
}

func TestRunReportCarriesRunTrace(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.bgm.set(item(1, collection.StatusDoing))

	rep, err := h.syncer(t, syncer.Config{}).Run(context.Background())
	require.NoError(t, err)

	h.reports.mu.Lock()
	defer h.reports.mu.Unlock()
	require.Len(t, h.reports.traceIDs, 1)
	assert.Equal(t, strings.ReplaceAll(rep.RunID, "-", ""), h.reports.traceIDs[0])
}

func TestRunRecreatesMissingTable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.bgm.set(item(1, collection.StatusDoing))

	first, err := h.syncer(t, syncer.Config{}).Run(ctx)
	require.NoError(t, err)
	h.notion.RemoveDatabase(first.DatabaseID)

	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("BGM_TOKEN=abc\n"), 0o600))

	rep, err := h.syncer(t, syncer.Config{EnvFile: envPath}).Run(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Recreated)
	assert.NotEqual(t, first.DatabaseID, rep.DatabaseID)

	// The snapshot was cleared with the table id, so the item is re-added.
	assert.Equal(t, 1, rep.Added)
	assert.Equal(t, map[int]string{1: "在看"}, h.statuses(rep.DatabaseID))

	cachedID, err := h.cache.LoadDatabaseID(ctx)
	require.NoError(t, err)
	assert.Equal(t, rep.DatabaseID, cachedID)

	// #nosec G304 -- test reads from the controlled temp directory.
	env, err := os.ReadFile(envPath)
	require.NoError(t, err)
	assert.Contains(t, string(env), "NOTION_DATABASE_ID='"+rep.DatabaseID+"'")
}

func TestRunRecoversFromRejectedRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.bgm.set(item(1, collection.StatusDoing))
	h.notion.AddDatabase("legacy", map[string]notion.PropertySchema{"Name": {Title: &notion.Empty{}}})
	h.notion.SetDatabaseUpdateHook(func(id string) error {
		if id == "legacy" {
			return errors.New("schema locked")
		}
		return nil
	})

	rep, err := h.syncer(t, syncer.Config{DatabaseID: "legacy"}).Run(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Recreated)
	assert.NotEqual(t, "legacy", rep.DatabaseID)
	assert.Len(t, h.notion.DatabaseIDs(), 2)
}

func TestRunFailsWhenRecreatedTableCannotRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.bgm.set(item(1, collection.StatusDoing))
	h.notion.SetDatabaseUpdateHook(func(string) error {
		return errors.New("schema locked")
	})

	rep, err := h.syncer(t, syncer.Config{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh recreated table")
	assert.Equal(t, report.StatusFailed, rep.Status)
	assert.Equal(t, report.StatusFailed, h.reports.last(t).Status)
}

func TestRunRejectsEmptyCollection(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.bgm.set(item(1, collection.StatusDoing))
	_, err := h.syncer(t, syncer.Config{}).Run(ctx)
	require.NoError(t, err)

	h.bgm.set()
	rep, err := h.syncer(t, syncer.Config{}).Run(ctx)
	require.ErrorIs(t, err, syncer.ErrEmptyCollection)
	assert.Equal(t, report.StatusFailed, rep.Status)
	assert.Equal(t, syncer.ErrEmptyCollection.Error(), rep.Error)

	// Nothing was marked deleted and the previous snapshot survives.
	assert.Equal(t, map[int]string{1: "在看"}, h.statuses(rep.DatabaseID))
	cached, err := h.cache.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Len())
}

func TestRunFailsWithoutUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.bgm.mu.Lock()
	h.bgm.meErr = true
	h.bgm.mu.Unlock()

	rep, err := h.syncer(t, syncer.Config{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve user")
	assert.Empty(t, rep.DatabaseID)
	assert.Empty(t, h.notion.DatabaseIDs())
	assert.Equal(t, report.StatusFailed, h.reports.last(t).Status)
}

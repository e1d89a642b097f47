package table

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bgm-notion-sync/internal/collection"
	"github.com/JakeFAU/bgm-notion-sync/internal/notion"
	"github.com/JakeFAU/bgm-notion-sync/internal/notion/notiontest"
)

type fakeDetails struct {
	detail    map[int]collection.SubjectDetail
	covers    map[int]string
	detailErr error
}

func (f *fakeDetails) SubjectDetail(_ context.Context, id int) (collection.SubjectDetail, error) {
	if f.detailErr != nil {
		return collection.SubjectDetail{}, f.detailErr
	}
	d, ok := f.detail[id]
	if !ok {
		return collection.SubjectDetail{}, errors.New("not found")
	}
	return d, nil
}

func (f *fakeDetails) SubjectImage(_ context.Context, id int) (string, error) {
	c, ok := f.covers[id]
	if !ok {
		return "", errors.New("no cover")
	}
	return c, nil
}

func newNotion(t *testing.T) (*notion.Client, *notiontest.Server) {
	t.Helper()
	srv := notiontest.NewServer()
	t.Cleanup(srv.Close)
	client, err := notion.New(notion.Config{BaseURL: srv.URL, Token: "secret"})
	require.NoError(t, err)
	return client, srv
}

func num(v float64) *float64 { return &v }

func row(id float64, status string) notion.Properties {
	props := notion.Properties{PropID: {Number: num(id)}}
	if status != "" {
		props[PropStatus] = notion.PropertyValue{Select: &notion.SelectOption{Name: status}}
	}
	return props
}

func anime(id int, status collection.StatusType) collection.Item {
	return collection.Item{
		SubjectID: id,
		Type:      status,
		Subject:   collection.Subject{ID: id, Name: "Serial Experiments Lain", NameCN: "玲音", Type: collection.SubjectAnime},
	}
}

func TestManagerCreateUsesConfiguredParent(t *testing.T) {
	t.Parallel()

	client, srv := newNotion(t)
	srv.AddContainer("first")
	srv.AddContainer("configured")
	m := NewManager(client, ManagerConfig{ParentPageID: "configured"}, zap.NewNop())

	id, err := m.Create(context.Background())
	require.NoError(t, err)
	db, ok := srv.Database(id)
	require.True(t, ok)
	assert.Equal(t, "configured", db.Parent.PageID)
	assert.Len(t, db.Properties, 12)
	require.NotEmpty(t, db.Title)
	assert.Equal(t, DefaultTitle, db.Title[0].Text.Content)
}

func TestManagerCreateSearchesForParent(t *testing.T) {
	t.Parallel()

	client, srv := newNotion(t)
	srv.AddContainer("shared")
	m := NewManager(client, ManagerConfig{}, nil)

	id, err := m.Create(context.Background())
	require.NoError(t, err)
	db, ok := srv.Database(id)
	require.True(t, ok)
	assert.Equal(t, "shared", db.Parent.PageID)
}

func TestManagerCreateWithoutParent(t *testing.T) {
	t.Parallel()

	client, _ := newNotion(t)
	m := NewManager(client, ManagerConfig{}, nil)

	_, err := m.Create(context.Background())
	require.ErrorIs(t, err, ErrNoParentPage)
}

func TestManagerRefreshAddsMissingColumns(t *testing.T) {
	t.Parallel()

	client, srv := newNotion(t)
	srv.AddDatabase("db", map[string]notion.PropertySchema{
		PropTitle: {Title: &notion.Empty{}},
		PropID:    {Number: &notion.Empty{}},
	})
	m := NewManager(client, ManagerConfig{}, nil)

	require.NoError(t, m.Refresh(context.Background(), "db"))
	db, _ := srv.Database("db")
	assert.Len(t, db.Properties, 12)
	assert.Equal(t, "title", db.Properties[PropTitle].Type)
	assert.Equal(t, "multi_select", db.Properties[PropTags].Type)
}

func TestManagerRefreshRenamesForeignTitle(t *testing.T) {
	t.Parallel()

	client, srv := newNotion(t)
	srv.AddDatabase("db", map[string]notion.PropertySchema{
		"Name": {Title: &notion.Empty{}},
	})
	m := NewManager(client, ManagerConfig{}, nil)

	require.NoError(t, m.Refresh(context.Background(), "db"))
	db, _ := srv.Database("db")
	assert.NotContains(t, db.Properties, "Name")
	assert.Equal(t, "title", db.Properties[PropTitle].Type)
	assert.Len(t, db.Properties, 12)
}

func TestManagerRefreshMissingDatabase(t *testing.T) {
	t.Parallel()

	client, _ := newNotion(t)
	m := NewManager(client, ManagerConfig{}, nil)

	err := m.Refresh(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, notion.IsNotFound(err))
}

func TestUpsertCreatesRowWithDetail(t *testing.T) {
	t.Parallel()

	client, srv := newNotion(t)
	srv.AddDatabase("db", DefaultSchema())
	details := &fakeDetails{
		detail: map[int]collection.SubjectDetail{7: {
			Date:   "1998-07-06",
			Rating: &collection.Rating{Rank: 0, Total: 900, Score: 8.1},
			Tags:   []collection.Tag{{Name: "SF, 赛博朋克"}, {Name: "原创"}},
		}},
		covers: map[int]string{7: "https://lain.bgm.tv/pic/cover/l/7.jpg"},
	}
	w := NewWriter(client, details, WriterConfig{}, nil)

	outcome, err := w.Upsert(context.Background(), "db", anime(7, collection.StatusDoing))
	require.NoError(t, err)
	assert.Equal(t, collection.OutcomeCreated, outcome)

	rows := srv.Rows("db")
	require.Len(t, rows, 1)
	got := rows[0]
	assert.Equal(t, "在看", got.SelectName(PropStatus))
	assert.Equal(t, "动画", got.SelectName(PropType))
	assert.Equal(t, "https://bgm.tv/subject/7", *got.Properties[PropLink].URL)
	assert.NotContains(t, got.Properties, PropRank)
	require.NotNil(t, got.Properties[PropDate].Date)
	assert.True(t, strings.HasPrefix(got.Properties[PropDate].Date.Start, "1998-07-06"))
	require.NotNil(t, got.Cover)
	assert.Equal(t, "https://lain.bgm.tv/pic/cover/l/7.jpg", got.Cover.External.URL)
	tags := got.Properties[PropTags].MultiSelect
	require.Len(t, tags, 2)
	assert.Equal(t, "SF， 赛博朋克", tags[0].Name)
}

func TestUpsertUpdatesExistingRow(t *testing.T) {
	t.Parallel()

	client, srv := newNotion(t)
	srv.AddDatabase("db", DefaultSchema())
	pageID := srv.AddPage("db", row(7, "想看"), time.Now())
	w := NewWriter(client, nil, WriterConfig{}, nil)

	outcome, err := w.Upsert(context.Background(), "db", anime(7, collection.StatusDone))
	require.NoError(t, err)
	assert.Equal(t, collection.OutcomeUpdated, outcome)

	page, ok := srv.Page(pageID)
	require.True(t, ok)
	assert.Equal(t, "看过", page.SelectName(PropStatus))
	assert.Len(t, srv.Rows("db"), 1)
}

func TestUpsertResolvesDuplicates(t *testing.T) {
	t.Parallel()

	client, srv := newNotion(t)
	srv.AddDatabase("db", DefaultSchema())
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	oldest := srv.AddPage("db", row(7, "想看"), base)
	newest := srv.AddPage("db", row(7, "想看"), base.Add(2*time.Hour))
	middle := srv.AddPage("db", row(7, "想看"), base.Add(time.Hour))
	w := NewWriter(client, nil, WriterConfig{}, nil)

	outcome, err := w.Upsert(context.Background(), "db", anime(7, collection.StatusOnHold))
	require.NoError(t, err)
	assert.Equal(t, collection.OutcomeUpdated, outcome)

	rows := srv.Rows("db")
	require.Len(t, rows, 1)
	assert.Equal(t, newest, rows[0].ID)
	assert.Equal(t, "搁置", rows[0].SelectName(PropStatus))
	for _, id := range []string{oldest, middle} {
		p, _ := srv.Page(id)
		assert.True(t, p.Archived, id)
		assert.Equal(t, "想看", p.SelectName(PropStatus))
	}
}

func TestUpsertWritesBaseFieldsWhenDetailFails(t *testing.T) {
	t.Parallel()

	client, srv := newNotion(t)
	srv.AddDatabase("db", DefaultSchema())
	w := NewWriter(client, &fakeDetails{detailErr: errors.New("timeout")}, WriterConfig{}, nil)

	_, err := w.Upsert(context.Background(), "db", anime(9, collection.StatusWish))
	require.NoError(t, err)
	rows := srv.Rows("db")
	require.Len(t, rows, 1)
	assert.NotContains(t, rows[0].Properties, PropScore)
	assert.Nil(t, rows[0].Cover)
}

func TestUpsertReturnsWriteError(t *testing.T) {
	t.Parallel()

	client, srv := newNotion(t)
	srv.AddDatabase("db", DefaultSchema())
	srv.SetPageWriteHook(func(string, notion.Properties) error { return errors.New("rejected") })
	w := NewWriter(client, nil, WriterConfig{}, nil)

	_, err := w.Upsert(context.Background(), "db", anime(9, collection.StatusWish))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject 9")
}

func TestMarkDeleted(t *testing.T) {
	t.Parallel()

	client, srv := newNotion(t)
	srv.AddDatabase("db", DefaultSchema())
	now := time.Now()
	keep := srv.AddPage("db", row(1, "看过"), now)
	gone := srv.AddPage("db", row(2, "在看"), now)
	already := srv.AddPage("db", row(3, collection.LabelDeleted), now)
	noID := srv.AddPage("db", notion.Properties{PropStatus: {Select: &notion.SelectOption{Name: "想看"}}}, now)
	w := NewWriter(client, nil, WriterConfig{PageSize: 2}, nil)
	survivors := map[int]struct{}{1: {}}

	marked, err := w.MarkDeleted(context.Background(), "db", survivors)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	status := func(id string) string {
		p, _ := srv.Page(id)
		return p.SelectName(PropStatus)
	}
	assert.Equal(t, "看过", status(keep))
	assert.Equal(t, collection.LabelDeleted, status(gone))
	assert.Equal(t, collection.LabelDeleted, status(already))
	assert.Equal(t, collection.LabelDeleted, status(noID))

	updates := srv.Count("PATCH /v1/pages")
	marked, err = w.MarkDeleted(context.Background(), "db", survivors)
	require.NoError(t, err)
	assert.Zero(t, marked)
	assert.Equal(t, updates, srv.Count("PATCH /v1/pages"))
}

func TestMarkDeletedContinuesPastRowFailure(t *testing.T) {
	t.Parallel()

	client, srv := newNotion(t)
	srv.AddDatabase("db", DefaultSchema())
	bad := srv.AddPage("db", row(1, "看过"), time.Now())
	srv.AddPage("db", row(2, "看过"), time.Now())
	srv.SetPageWriteHook(func(pageID string, _ notion.Properties) error {
		if pageID == bad {
			return errors.New("locked")
		}
		return nil
	})
	w := NewWriter(client, nil, WriterConfig{}, nil)

	marked, err := w.MarkDeleted(context.Background(), "db", map[int]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
}

func TestMarkDeletedMissingDatabase(t *testing.T) {
	t.Parallel()

	client, _ := newNotion(t)
	w := NewWriter(client, nil, WriterConfig{}, nil)

	_, err := w.MarkDeleted(context.Background(), "gone", nil)
	require.Error(t, err)
}

func TestRowFields(t *testing.T) {
	t.Parallel()

	item := anime(5, collection.StatusType(9))
	item.Subject.Type = collection.SubjectType(5)
	detail := &collection.SubjectDetail{Rating: &collection.Rating{Rank: 33, Total: 10, Score: 7}}

	f := NewRowFields(item, detail, "", "https://bangumi.tv/")
	assert.Equal(t, collection.LabelUnknown, f.Status)
	assert.Equal(t, collection.LabelUnknown, f.SubjectType)
	assert.Equal(t, "https://bangumi.tv/subject/5", f.Link)
	require.NotNil(t, f.Rank)
	assert.Equal(t, 33, *f.Rank)
	assert.Nil(t, f.Cover())

	props := f.Properties()
	assert.InDelta(t, 33, *props[PropRank].Number, 0)
	assert.InDelta(t, 10, *props[PropVotes].Number, 0)
	assert.NotContains(t, props, PropCover)
	assert.NotContains(t, props, PropTags)
}

func TestSanitizeTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "commas", in: []string{"a,b"}, want: []string{"a，b"}},
		{name: "blank and duplicates", in: []string{" ", "x", "x "}, want: []string{"x"}},
		{name: "empty", in: nil, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, sanitizeTags(tt.in))
		})
	}
}

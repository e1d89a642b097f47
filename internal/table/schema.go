// Package table maintains the Notion database that mirrors a Bangumi
// collection: its schema and its rows.
package table

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bgm-notion-sync/internal/notion"
)

// Column names. They match tables created by earlier releases, so existing
// databases keep working.
const (
	PropTitle  = "标题"
	PropNameCN = "中文名"
	PropType   = "类型"
	PropScore  = "评分"
	PropStatus = "收藏状态"
	PropID     = "ID"
	PropLink   = "链接"
	PropDate   = "发行日期"
	PropVotes  = "评分人数"
	PropRank   = "排名"
	PropCover  = "封面"
	PropTags   = "标签"
)

// DefaultTitle names newly created databases.
const DefaultTitle = "Bangumi 收藏"

// ErrNoParentPage is returned when no page is configured or shared with the
// integration to host a new database.
var ErrNoParentPage = errors.New("no parent page available for the collection table")

// API is the subset of the Notion client used by this package.
type API interface {
	CreateDatabase(ctx context.Context, req notion.CreateDatabaseRequest) (notion.Database, error)
	RetrieveDatabase(ctx context.Context, databaseID string) (notion.Database, error)
	UpdateDatabase(ctx context.Context, databaseID string, req notion.UpdateDatabaseRequest) (notion.Database, error)
	QueryDatabase(ctx context.Context, databaseID string, req notion.QueryDatabaseRequest) (notion.QueryDatabaseResponse, error)
	CreatePage(ctx context.Context, req notion.CreatePageRequest) (notion.Page, error)
	UpdatePage(ctx context.Context, pageID string, req notion.UpdatePageRequest) (notion.Page, error)
	ArchivePage(ctx context.Context, pageID string) error
	Search(ctx context.Context, req notion.SearchRequest) (notion.SearchResponse, error)
}

// SchemaDefinition is the fixed set of columns, keyed by name.
type SchemaDefinition map[string]notion.PropertySchema

// DefaultSchema returns the twelve collection columns.
func DefaultSchema() SchemaDefinition {
	kind := func() *notion.Empty { return &notion.Empty{} }
	return SchemaDefinition{
		PropTitle:  {Title: kind()},
		PropNameCN: {RichText: kind()},
		PropType:   {Select: kind()},
		PropScore:  {Number: kind()},
		PropStatus: {Select: kind()},
		PropID:     {Number: kind()},
		PropLink:   {URL: kind()},
		PropDate:   {Date: kind()},
		PropVotes:  {Number: kind()},
		PropRank:   {Number: kind()},
		PropCover:  {Files: kind()},
		PropTags:   {MultiSelect: kind()},
	}
}

func (s SchemaDefinition) clone() map[string]notion.PropertySchema {
	out := make(map[string]notion.PropertySchema, len(s))
	for name, p := range s {
		out[name] = p
	}
	return out
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// ParentPageID hosts new databases. When empty the first page shared
	// with the integration is used.
	ParentPageID string
	Title        string
}

// Manager creates the collection database and keeps its schema current.
type Manager struct {
	api    API
	cfg    ManagerConfig
	schema SchemaDefinition
	logger *zap.Logger
}

// NewManager builds a Manager.
func NewManager(api API, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{api: api, cfg: cfg, schema: DefaultSchema(), logger: logger}
}

// Create makes a new database under the parent page and returns its id.
func (m *Manager) Create(ctx context.Context) (string, error) {
	parentID, err := m.parentPage(ctx)
	if err != nil {
		return "", err
	}
	db, err := m.api.CreateDatabase(ctx, notion.CreateDatabaseRequest{
		Parent:     notion.Parent{Type: "page_id", PageID: parentID},
		Title:      notion.PlainText(m.cfg.Title),
		Properties: m.schema.clone(),
	})
	if err != nil {
		return "", fmt.Errorf("create collection table: %w", err)
	}
	m.logger.Info("created collection table", zap.String("database_id", db.ID), zap.String("parent_page_id", parentID))
	return db.ID, nil
}

// Refresh re-applies the column set to an existing database. The existing
// title column keeps its definition; a title column under another name is
// renamed instead of adding a second one.
func (m *Manager) Refresh(ctx context.Context, databaseID string) error {
	db, err := m.api.RetrieveDatabase(ctx, databaseID)
	if err != nil {
		return fmt.Errorf("refresh collection table: %w", err)
	}
	props := m.schema.clone()
	for name, existing := range db.Properties {
		if existing.Type != "title" || name == PropTitle {
			continue
		}
		delete(props, PropTitle)
		props[name] = notion.PropertySchema{Name: PropTitle}
		break
	}
	if _, err := m.api.UpdateDatabase(ctx, databaseID, notion.UpdateDatabaseRequest{Properties: props}); err != nil {
		return fmt.Errorf("refresh collection table: %w", err)
	}
	m.logger.Debug("refreshed collection table", zap.String("database_id", databaseID))
	return nil
}

func (m *Manager) parentPage(ctx context.Context) (string, error) {
	if m.cfg.ParentPageID != "" {
		return m.cfg.ParentPageID, nil
	}
	resp, err := m.api.Search(ctx, notion.SearchRequest{
		Filter:   &notion.SearchFilter{Property: "object", Value: "page"},
		PageSize: 1,
	})
	if err != nil {
		return "", fmt.Errorf("search parent page: %w", err)
	}
	if len(resp.Results) == 0 {
		return "", ErrNoParentPage
	}
	return resp.Results[0].ID, nil
}

package table

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/bgm-notion-sync/internal/collection"
	"github.com/JakeFAU/bgm-notion-sync/internal/notion"
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	SiteURL string
	// PageSize bounds query pages while scanning the table.
	PageSize int
}

// Writer upserts collection items into the table.
type Writer struct {
	api     API
	details collection.DetailSource
	cfg     WriterConfig
	logger  *zap.Logger
}

// NewWriter builds a Writer. details may be nil, in which case rows carry
// only the fields present on the collection item.
func NewWriter(api API, details collection.DetailSource, cfg WriterConfig, logger *zap.Logger) *Writer {
	if cfg.SiteURL == "" {
		cfg.SiteURL = DefaultSiteURL
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{api: api, details: details, cfg: cfg, logger: logger}
}

// Upsert writes item into the row carrying its subject id, creating the row
// when none exists. Extra rows with the same id are archived, keeping the
// most recently edited one.
func (w *Writer) Upsert(ctx context.Context, databaseID string, item collection.Item) (collection.Outcome, error) {
	log := w.logger.With(zap.Int("subject_id", item.SubjectID))

	existing, err := w.existingRow(ctx, databaseID, item.SubjectID, log)
	if err != nil {
		return "", err
	}

	detail, cover := w.lookup(ctx, item.SubjectID, log)
	fields := NewRowFields(item, detail, cover, w.cfg.SiteURL)

	if existing != nil {
		_, err := w.api.UpdatePage(ctx, existing.ID, notion.UpdatePageRequest{
			Properties: fields.Properties(),
			Cover:      fields.Cover(),
		})
		if err != nil {
			return "", fmt.Errorf("update row for subject %d: %w", item.SubjectID, err)
		}
		log.Debug("updated row", zap.String("page_id", existing.ID), zap.String("status", fields.Status))
		return collection.OutcomeUpdated, nil
	}

	page, err := w.api.CreatePage(ctx, notion.CreatePageRequest{
		Parent:     notion.Parent{Type: "database_id", DatabaseID: databaseID},
		Properties: fields.Properties(),
		Cover:      fields.Cover(),
	})
	if err != nil {
		return "", fmt.Errorf("create row for subject %d: %w", item.SubjectID, err)
	}
	log.Debug("created row", zap.String("page_id", page.ID), zap.String("status", fields.Status))
	return collection.OutcomeCreated, nil
}

// MarkDeleted sets the status of every row whose id is not in survivors to
// the deleted label. Rows without an id are treated as absent. Rows already
// marked are left alone, so repeated calls change nothing. Per-row failures
// are logged and skipped; only a failed scan is returned as an error.
func (w *Writer) MarkDeleted(ctx context.Context, databaseID string, survivors map[int]struct{}) (int, error) {
	var rows []notion.Page
	err := w.eachRow(ctx, databaseID, nil, func(p notion.Page) {
		rows = append(rows, p)
	})
	if err != nil {
		return 0, err
	}
	w.logger.Info("scanned table", zap.Int("rows", len(rows)))

	marked := 0
	for _, row := range rows {
		if row.SelectName(PropStatus) == collection.LabelDeleted {
			continue
		}
		if id, ok := row.Number(PropID); ok {
			if _, keep := survivors[int(id)]; keep {
				continue
			}
		}
		_, err := w.api.UpdatePage(ctx, row.ID, notion.UpdatePageRequest{
			Properties: notion.Properties{
				PropStatus: {Select: &notion.SelectOption{Name: collection.LabelDeleted}},
			},
		})
		if err != nil {
			w.logger.Warn("mark row deleted failed", zap.String("page_id", row.ID), zap.Error(err))
			continue
		}
		marked++
		if id, ok := row.Number(PropID); ok {
			w.logger.Debug("marked row deleted", zap.Int("subject_id", int(id)))
		}
	}
	return marked, nil
}

func (w *Writer) existingRow(ctx context.Context, databaseID string, subjectID int, log *zap.Logger) (*notion.Page, error) {
	var matches []notion.Page
	filter := notion.NumberEquals(PropID, float64(subjectID))
	err := w.eachRow(ctx, databaseID, filter, func(p notion.Page) {
		matches = append(matches, p)
	})
	if err != nil {
		return nil, fmt.Errorf("find row for subject %d: %w", subjectID, err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if len(matches) > 1 {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].LastEditedTime.After(matches[j].LastEditedTime)
		})
		log.Warn("duplicate rows; keeping the most recently edited", zap.Int("rows", len(matches)))
		for _, dup := range matches[1:] {
			if err := w.api.ArchivePage(ctx, dup.ID); err != nil {
				log.Warn("archive duplicate row failed", zap.String("page_id", dup.ID), zap.Error(err))
				continue
			}
			log.Info("archived duplicate row", zap.String("page_id", dup.ID))
		}
	}
	return &matches[0], nil
}

// lookup fetches detail and cover. Both are best effort.
func (w *Writer) lookup(ctx context.Context, subjectID int, log *zap.Logger) (*collection.SubjectDetail, string) {
	if w.details == nil {
		return nil, ""
	}
	var detail *collection.SubjectDetail
	if d, err := w.details.SubjectDetail(ctx, subjectID); err != nil {
		log.Warn("subject detail unavailable", zap.Error(err))
	} else {
		detail = &d
	}
	cover, err := w.details.SubjectImage(ctx, subjectID)
	if err != nil {
		log.Warn("subject cover unavailable", zap.Error(err))
		cover = ""
	}
	return detail, cover
}

func (w *Writer) eachRow(ctx context.Context, databaseID string, filter *notion.Filter, fn func(notion.Page)) error {
	req := notion.QueryDatabaseRequest{Filter: filter, PageSize: w.cfg.PageSize}
	for {
		resp, err := w.api.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return err
		}
		for _, p := range resp.Results {
			fn(p)
		}
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return nil
		}
		req.StartCursor = *resp.NextCursor
	}
}

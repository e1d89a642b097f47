package table

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/bgm-notion-sync/internal/collection"
	"github.com/JakeFAU/bgm-notion-sync/internal/notion"
)

// DefaultSiteURL prefixes subject links.
const DefaultSiteURL = "https://bgm.tv"

// RowFields is the typed content of one table row. Optional fields are nil or
// empty when the subject detail lookup gave nothing.
type RowFields struct {
	Title       string
	NameCN      string
	SubjectType string
	SubjectID   int
	Link        string
	Status      string
	Score       *float64
	Votes       *int
	Rank        *int
	Date        string
	Tags        []string
	CoverURL    string
}

// NewRowFields combines a collection item with optional detail and cover.
func NewRowFields(item collection.Item, detail *collection.SubjectDetail, coverURL, siteURL string) RowFields {
	if siteURL == "" {
		siteURL = DefaultSiteURL
	}
	id := item.SubjectID
	if id == 0 {
		id = item.Subject.ID
	}
	f := RowFields{
		Title:       item.Subject.Name,
		NameCN:      item.Subject.NameCN,
		SubjectType: item.Subject.Type.Label(),
		SubjectID:   id,
		Link:        fmt.Sprintf("%s/subject/%d", strings.TrimRight(siteURL, "/"), id),
		Status:      item.Type.Label(),
		CoverURL:    coverURL,
	}
	if f.Title == "" {
		f.Title = f.NameCN
	}
	if detail == nil {
		return f
	}
	if r := detail.Rating; r != nil {
		score, votes := r.Score, r.Total
		f.Score, f.Votes = &score, &votes
		if r.Rank != 0 {
			rank := r.Rank
			f.Rank = &rank
		}
	}
	f.Date = detail.Date
	f.Tags = sanitizeTags(detail.TagNames())
	return f
}

// Properties renders the row as Notion property values.
func (f RowFields) Properties() notion.Properties {
	id := float64(f.SubjectID)
	link := f.Link
	props := notion.Properties{
		PropTitle:  {Title: notion.PlainText(f.Title)},
		PropNameCN: {RichText: notion.PlainText(f.NameCN)},
		PropType:   {Select: &notion.SelectOption{Name: f.SubjectType}},
		PropID:     {Number: &id},
		PropLink:   {URL: &link},
		PropStatus: {Select: &notion.SelectOption{Name: f.Status}},
	}
	if f.CoverURL != "" {
		props[PropCover] = notion.PropertyValue{
			Files: []notion.File{notion.ExternalImage(fmt.Sprintf("封面-%d", f.SubjectID), f.CoverURL)},
		}
	}
	if f.Score != nil {
		score := *f.Score
		props[PropScore] = notion.PropertyValue{Number: &score}
	}
	if f.Votes != nil {
		votes := float64(*f.Votes)
		props[PropVotes] = notion.PropertyValue{Number: &votes}
	}
	if f.Rank != nil {
		rank := float64(*f.Rank)
		props[PropRank] = notion.PropertyValue{Number: &rank}
	}
	if f.Date != "" {
		props[PropDate] = notion.PropertyValue{Date: &notion.DateValue{Start: f.Date}}
	}
	if len(f.Tags) > 0 {
		opts := make([]notion.SelectOption, 0, len(f.Tags))
		for _, tag := range f.Tags {
			opts = append(opts, notion.SelectOption{Name: tag})
		}
		props[PropTags] = notion.PropertyValue{MultiSelect: opts}
	}
	return props
}

// Cover returns the page cover, or nil when there is no cover image.
func (f RowFields) Cover() *notion.File {
	if f.CoverURL == "" {
		return nil
	}
	cover := notion.File{Type: "external", External: &notion.ExternalFile{URL: f.CoverURL}}
	return &cover
}

// Notion rejects commas in select option names and caps them at 100 characters.
const maxOptionRunes = 100

func sanitizeTags(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(strings.ReplaceAll(name, ",", "，"))
		if r := []rune(name); len(r) > maxOptionRunes {
			name = string(r[:maxOptionRunes])
		}
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

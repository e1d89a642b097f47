package notion

import (
	"time"

	"github.com/jomei/notionapi"
)

// renameConfig is a schema patch that only renames a column. notionapi has
// no config type without a kind.
type renameConfig struct {
	Name string `json:"name"`
}

func (renameConfig) GetType() notionapi.PropertyConfigType { return "" }
func (renameConfig) GetID() notionapi.PropertyID           { return "" }

func toConfigs(props map[string]PropertySchema) notionapi.PropertyConfigs {
	if len(props) == 0 {
		return nil
	}
	out := make(notionapi.PropertyConfigs, len(props))
	for name, p := range props {
		if cfg := toConfig(p); cfg != nil {
			out[name] = cfg
		}
	}
	return out
}

func toConfig(p PropertySchema) notionapi.PropertyConfig {
	switch p.Kind() {
	case "title":
		return &notionapi.TitlePropertyConfig{Type: "title"}
	case "rich_text":
		return &notionapi.RichTextPropertyConfig{Type: "rich_text"}
	case "number":
		return &notionapi.NumberPropertyConfig{Type: "number", Number: notionapi.NumberFormat{Format: "number"}}
	case "select":
		return &notionapi.SelectPropertyConfig{Type: "select", Select: notionapi.Select{Options: []notionapi.Option{}}}
	case "multi_select":
		return &notionapi.MultiSelectPropertyConfig{
			Type:        "multi_select",
			MultiSelect: notionapi.Select{Options: []notionapi.Option{}},
		}
	case "url":
		return &notionapi.URLPropertyConfig{Type: "url"}
	case "date":
		return &notionapi.DatePropertyConfig{Type: "date"}
	case "files":
		return &notionapi.FilesPropertyConfig{Type: "files"}
	}
	if p.Name != "" {
		return renameConfig{Name: p.Name}
	}
	return nil
}

func toParent(p Parent) notionapi.Parent {
	switch {
	case p.DatabaseID != "":
		return notionapi.Parent{Type: "database_id", DatabaseID: notionapi.DatabaseID(p.DatabaseID)}
	default:
		return notionapi.Parent{Type: "page_id", PageID: notionapi.PageID(p.PageID)}
	}
}

func toRichText(in []RichText) []notionapi.RichText {
	if len(in) == 0 {
		return nil
	}
	out := make([]notionapi.RichText, 0, len(in))
	for _, rt := range in {
		content := rt.PlainText
		if rt.Text != nil {
			content = rt.Text.Content
		}
		out = append(out, notionapi.RichText{Type: "text", Text: &notionapi.Text{Content: content}})
	}
	return out
}

func toOption(o SelectOption) notionapi.Option {
	return notionapi.Option{Name: o.Name}
}

func toFiles(in []File) []notionapi.File {
	out := make([]notionapi.File, 0, len(in))
	for _, f := range in {
		if f.External == nil {
			continue
		}
		out = append(out, notionapi.File{
			Name:     f.Name,
			Type:     "external",
			External: &notionapi.FileObject{URL: f.External.URL},
		})
	}
	return out
}

func toImage(f *File) *notionapi.Image {
	if f == nil || f.External == nil {
		return nil
	}
	return &notionapi.Image{Type: "external", External: &notionapi.FileObject{URL: f.External.URL}}
}

// toProperties renders values for a page write. Dates that are not ISO
// calendar dates are dropped.
func toProperties(props Properties) notionapi.Properties {
	out := make(notionapi.Properties, len(props))
	for name, v := range props {
		switch v.Kind() {
		case "title":
			out[name] = &notionapi.TitleProperty{Type: "title", Title: toRichText(v.Title)}
		case "rich_text":
			out[name] = &notionapi.RichTextProperty{Type: "rich_text", RichText: toRichText(v.RichText)}
		case "number":
			out[name] = &notionapi.NumberProperty{Type: "number", Number: *v.Number}
		case "select":
			out[name] = &notionapi.SelectProperty{Type: "select", Select: toOption(*v.Select)}
		case "multi_select":
			opts := make([]notionapi.Option, 0, len(v.MultiSelect))
			for _, o := range v.MultiSelect {
				opts = append(opts, toOption(o))
			}
			out[name] = &notionapi.MultiSelectProperty{Type: "multi_select", MultiSelect: opts}
		case "url":
			out[name] = &notionapi.URLProperty{Type: "url", URL: *v.URL}
		case "date":
			start, err := time.Parse(time.DateOnly, v.Date.Start)
			if err != nil {
				continue
			}
			d := notionapi.Date(start)
			out[name] = &notionapi.DateProperty{Type: "date", Date: &notionapi.DateObject{Start: &d}}
		case "files":
			out[name] = &notionapi.FilesProperty{Type: "files", Files: toFiles(v.Files)}
		}
	}
	return out
}

func fromRichText(in []notionapi.RichText) []RichText {
	out := make([]RichText, 0, len(in))
	for _, rt := range in {
		r := RichText{Type: string(rt.Type), PlainText: rt.PlainText}
		if rt.Text != nil {
			r.Text = &Text{Content: rt.Text.Content}
			if r.PlainText == "" {
				r.PlainText = rt.Text.Content
			}
		}
		out = append(out, r)
	}
	return out
}

func fromOption(o notionapi.Option) SelectOption {
	return SelectOption{ID: string(o.ID), Name: o.Name, Color: string(o.Color)}
}

func fromDatabase(db *notionapi.Database) Database {
	out := Database{
		Object:     string(db.Object),
		ID:         string(db.ID),
		Title:      fromRichText(db.Title),
		Parent:     fromParent(db.Parent),
		Properties: make(map[string]PropertySchema, len(db.Properties)),
	}
	for name, cfg := range db.Properties {
		out.Properties[name] = PropertySchema{Name: name, Type: string(cfg.GetType())}
	}
	return out
}

func fromParent(p notionapi.Parent) Parent {
	return Parent{Type: string(p.Type), PageID: string(p.PageID), DatabaseID: string(p.DatabaseID)}
}

func fromPage(p *notionapi.Page) Page {
	out := Page{
		Object:         string(p.Object),
		ID:             string(p.ID),
		CreatedTime:    p.CreatedTime,
		LastEditedTime: p.LastEditedTime,
		Archived:       p.Archived,
		Parent:         fromParent(p.Parent),
		Properties:     make(Properties, len(p.Properties)),
		URL:            p.URL,
	}
	for name, prop := range p.Properties {
		if v, ok := fromProperty(prop); ok {
			out.Properties[name] = v
		}
	}
	return out
}

func fromProperty(prop notionapi.Property) (PropertyValue, bool) {
	switch v := prop.(type) {
	case *notionapi.TitleProperty:
		return PropertyValue{Type: "title", Title: fromRichText(v.Title)}, true
	case *notionapi.RichTextProperty:
		return PropertyValue{Type: "rich_text", RichText: fromRichText(v.RichText)}, true
	case *notionapi.NumberProperty:
		n := v.Number
		return PropertyValue{Type: "number", Number: &n}, true
	case *notionapi.SelectProperty:
		out := PropertyValue{Type: "select"}
		if v.Select.Name != "" {
			opt := fromOption(v.Select)
			out.Select = &opt
		}
		return out, true
	case *notionapi.MultiSelectProperty:
		out := PropertyValue{Type: "multi_select"}
		for _, o := range v.MultiSelect {
			out.MultiSelect = append(out.MultiSelect, fromOption(o))
		}
		return out, true
	case *notionapi.URLProperty:
		u := v.URL
		return PropertyValue{Type: "url", URL: &u}, true
	case *notionapi.DateProperty:
		out := PropertyValue{Type: "date"}
		if v.Date != nil && v.Date.Start != nil {
			out.Date = &DateValue{Start: time.Time(*v.Date.Start).Format(time.DateOnly)}
		}
		return out, true
	case *notionapi.FilesProperty:
		out := PropertyValue{Type: "files"}
		for _, f := range v.Files {
			if f.External != nil {
				out.Files = append(out.Files, ExternalImage(f.Name, f.External.URL))
			}
		}
		return out, true
	default:
		return PropertyValue{}, false
	}
}

package notion

import "time"

// Empty marshals to {} and marks a property schema kind with no options.
type Empty struct{}

// Text is the content of a text rich-text object.
type Text struct {
	Content string `json:"content"`
}

// RichText is a Notion rich-text element. Only plain text is modeled.
type RichText struct {
	Type      string `json:"type,omitempty"`
	Text      *Text  `json:"text,omitempty"`
	PlainText string `json:"plain_text,omitempty"`
}

// PlainText builds a single text element.
func PlainText(content string) []RichText {
	return []RichText{{Type: "text", Text: &Text{Content: content}}}
}

// Parent identifies the container of a page or database.
type Parent struct {
	Type       string `json:"type,omitempty"`
	PageID     string `json:"page_id,omitempty"`
	DatabaseID string `json:"database_id,omitempty"`
}

// PropertySchema is one column definition of a database. Exactly one kind
// pointer is set when writing.
type PropertySchema struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Type        string `json:"type,omitempty"`
	Title       *Empty `json:"title,omitempty"`
	RichText    *Empty `json:"rich_text,omitempty"`
	Number      *Empty `json:"number,omitempty"`
	Select      *Empty `json:"select,omitempty"`
	MultiSelect *Empty `json:"multi_select,omitempty"`
	URL         *Empty `json:"url,omitempty"`
	Date        *Empty `json:"date,omitempty"`
	Files       *Empty `json:"files,omitempty"`
}

// Kind names the column kind: the set kind field, or Type when none is set.
func (p PropertySchema) Kind() string {
	switch {
	case p.Title != nil:
		return "title"
	case p.RichText != nil:
		return "rich_text"
	case p.Number != nil:
		return "number"
	case p.Select != nil:
		return "select"
	case p.MultiSelect != nil:
		return "multi_select"
	case p.URL != nil:
		return "url"
	case p.Date != nil:
		return "date"
	case p.Files != nil:
		return "files"
	default:
		return p.Type
	}
}

// Database is the subset of a database object this client reads.
type Database struct {
	Object     string                    `json:"object"`
	ID         string                    `json:"id"`
	Title      []RichText                `json:"title,omitempty"`
	Parent     Parent                    `json:"parent"`
	Properties map[string]PropertySchema `json:"properties"`
	Archived   bool                      `json:"archived"`
}

// CreateDatabaseRequest is the body of POST /databases.
type CreateDatabaseRequest struct {
	Parent     Parent                    `json:"parent"`
	Title      []RichText                `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
}

// UpdateDatabaseRequest is the body of PATCH /databases/{id}.
type UpdateDatabaseRequest struct {
	Title      []RichText                `json:"title,omitempty"`
	Properties map[string]PropertySchema `json:"properties,omitempty"`
}

// SelectOption is a select or multi-select value.
type SelectOption struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// DateValue is a date property value.
type DateValue struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

// ExternalFile points at a file hosted outside Notion.
type ExternalFile struct {
	URL string `json:"url"`
}

// File is an entry of a files property, or a page cover.
type File struct {
	Name     string        `json:"name,omitempty"`
	Type     string        `json:"type"`
	External *ExternalFile `json:"external,omitempty"`
}

// ExternalImage builds an external file reference.
func ExternalImage(name, url string) File {
	return File{Name: name, Type: "external", External: &ExternalFile{URL: url}}
}

// PropertyValue is one cell of a page. Writers set exactly one value field.
type PropertyValue struct {
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type,omitempty"`
	Title       []RichText     `json:"title,omitempty"`
	RichText    []RichText     `json:"rich_text,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	Select      *SelectOption  `json:"select,omitempty"`
	MultiSelect []SelectOption `json:"multi_select,omitempty"`
	URL         *string        `json:"url,omitempty"`
	Date        *DateValue     `json:"date,omitempty"`
	Files       []File         `json:"files,omitempty"`
}

// Kind names the value kind from the field that is set. List kinds fall back
// to Type so an empty list can still be written.
func (v PropertyValue) Kind() string {
	switch {
	case v.Title != nil:
		return "title"
	case v.RichText != nil:
		return "rich_text"
	case v.Number != nil:
		return "number"
	case v.Select != nil:
		return "select"
	case v.MultiSelect != nil:
		return "multi_select"
	case v.URL != nil:
		return "url"
	case v.Date != nil:
		return "date"
	case v.Files != nil:
		return "files"
	}
	switch v.Type {
	case "title", "rich_text", "multi_select", "files":
		return v.Type
	default:
		return ""
	}
}

// Properties maps property names to values.
type Properties map[string]PropertyValue

// Page is a database row.
type Page struct {
	Object         string     `json:"object"`
	ID             string     `json:"id"`
	CreatedTime    time.Time  `json:"created_time"`
	LastEditedTime time.Time  `json:"last_edited_time"`
	Archived       bool       `json:"archived"`
	Parent         Parent     `json:"parent"`
	Properties     Properties `json:"properties"`
	Cover          *File      `json:"cover,omitempty"`
	URL            string     `json:"url,omitempty"`
}

// Number reads a number property; ok is false when absent or empty.
func (p Page) Number(name string) (float64, bool) {
	prop, found := p.Properties[name]
	if !found || prop.Number == nil {
		return 0, false
	}
	return *prop.Number, true
}

// SelectName reads a select property; it returns "" when absent or empty.
func (p Page) SelectName(name string) string {
	prop, found := p.Properties[name]
	if !found || prop.Select == nil {
		return ""
	}
	return prop.Select.Name
}

// CreatePageRequest is the body of POST /pages.
type CreatePageRequest struct {
	Parent     Parent     `json:"parent"`
	Properties Properties `json:"properties"`
	Cover      *File      `json:"cover,omitempty"`
}

// UpdatePageRequest is the body of PATCH /pages/{id}.
type UpdatePageRequest struct {
	Properties Properties `json:"properties,omitempty"`
	Cover      *File      `json:"cover,omitempty"`
	Archived   *bool      `json:"archived,omitempty"`
}

// NumberCondition filters number properties.
type NumberCondition struct {
	Equals *float64 `json:"equals,omitempty"`
}

// Filter is a single property filter of a database query.
type Filter struct {
	Property string           `json:"property"`
	Number   *NumberCondition `json:"number,omitempty"`
}

// NumberEquals builds an equality filter on a number property.
func NumberEquals(property string, value float64) *Filter {
	return &Filter{Property: property, Number: &NumberCondition{Equals: &value}}
}

// QueryDatabaseRequest is the body of POST /databases/{id}/query.
type QueryDatabaseRequest struct {
	Filter      *Filter `json:"filter,omitempty"`
	StartCursor string  `json:"start_cursor,omitempty"`
	PageSize    int     `json:"page_size,omitempty"`
}

// QueryDatabaseResponse is one page of query results.
type QueryDatabaseResponse struct {
	Object     string  `json:"object"`
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

// SearchFilter restricts search results to an object kind.
type SearchFilter struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query       string        `json:"query"`
	Filter      *SearchFilter `json:"filter,omitempty"`
	StartCursor string        `json:"start_cursor,omitempty"`
	PageSize    int           `json:"page_size,omitempty"`
}

// SearchResult is a search hit; only identity fields are read.
type SearchResult struct {
	Object string `json:"object"`
	ID     string `json:"id"`
}

// SearchResponse is one page of search results.
type SearchResponse struct {
	Results    []SearchResult `json:"results"`
	HasMore    bool           `json:"has_more"`
	NextCursor *string        `json:"next_cursor"`
}

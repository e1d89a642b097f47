// Package notion adapts github.com/jomei/notionapi to the subset of the Notion
// API used to maintain a database: databases, pages, queries and search.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/JakeFAU/bgm-notion-sync/internal/metrics"
	"github.com/JakeFAU/bgm-notion-sync/internal/policy/ratelimit"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultBaseURL = "https://api.notion.com"
	DefaultVersion = "2022-06-28"
)

// Config controls client behavior.
type Config struct {
	BaseURL           string
	Token             string
	Version           string
	Timeout           time.Duration
	RequestsPerSecond float64
	// Transport overrides the base transport (tests).
	Transport http.RoundTripper
}

// APIError is the error object returned by Notion.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion api error %d %s: %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a Notion object_not_found error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Code == "object_not_found")
}

// Client talks to the Notion API through notionapi.
type Client struct {
	api *notionapi.Client
}

// New builds a Client. Requests go through the rate limiter and the metrics
// transport, then to BaseURL.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("notion token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse notion base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("notion base url %q must be absolute", cfg.BaseURL)
	}
	limiter := ratelimit.New(ratelimit.Config{
		API:          "notion",
		DefaultRPS:   cfg.RequestsPerSecond,
		DefaultBurst: 1,
	})
	httpClient := &http.Client{
		Transport: &endpointTransport{
			base:    base,
			version: cfg.Version,
			next:    metrics.InstrumentTransport("notion", limiter.Transport(cfg.Transport)),
		},
		Timeout: cfg.Timeout,
	}
	return &Client{
		api: notionapi.NewClient(notionapi.Token(cfg.Token), notionapi.WithHTTPClient(httpClient)),
	}, nil
}

// CreateDatabase creates a database under a page.
func (c *Client) CreateDatabase(ctx context.Context, req CreateDatabaseRequest) (Database, error) {
	db, err := c.api.Database.Create(ctx, &notionapi.DatabaseCreateRequest{
		Parent:     toParent(req.Parent),
		Title:      toRichText(req.Title),
		Properties: toConfigs(req.Properties),
	})
	if err != nil {
		return Database{}, fmt.Errorf("create database: %w", apiError(err))
	}
	return fromDatabase(db), nil
}

// RetrieveDatabase fetches a database and its schema.
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (Database, error) {
	db, err := c.api.Database.Get(ctx, notionapi.DatabaseID(databaseID))
	if err != nil {
		return Database{}, fmt.Errorf("retrieve database %s: %w", databaseID, apiError(err))
	}
	return fromDatabase(db), nil
}

// UpdateDatabase patches the title or properties of a database.
func (c *Client) UpdateDatabase(ctx context.Context, databaseID string, req UpdateDatabaseRequest) (Database, error) {
	db, err := c.api.Database.Update(ctx, notionapi.DatabaseID(databaseID), &notionapi.DatabaseUpdateRequest{
		Title:      toRichText(req.Title),
		Properties: toConfigs(req.Properties),
	})
	if err != nil {
		return Database{}, fmt.Errorf("update database %s: %w", databaseID, apiError(err))
	}
	return fromDatabase(db), nil
}

// QueryDatabase returns one page of rows matching req.
func (c *Client) QueryDatabase(
	ctx context.Context,
	databaseID string,
	req QueryDatabaseRequest,
) (QueryDatabaseResponse, error) {
	query := &notionapi.DatabaseQueryRequest{
		StartCursor: notionapi.Cursor(req.StartCursor),
		PageSize:    req.PageSize,
	}
	if f := req.Filter; f != nil && f.Number != nil && f.Number.Equals != nil {
		equals := *f.Number.Equals
		query.Filter = &notionapi.PropertyFilter{
			Property: f.Property,
			Number:   &notionapi.NumberFilterCondition{Equals: &equals},
		}
	}
	resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(databaseID), query)
	if err != nil {
		return QueryDatabaseResponse{}, fmt.Errorf("query database %s: %w", databaseID, apiError(err))
	}
	out := QueryDatabaseResponse{
		Object:     string(resp.Object),
		Results:    make([]Page, 0, len(resp.Results)),
		HasMore:    resp.HasMore,
		NextCursor: cursor(resp.NextCursor),
	}
	for i := range resp.Results {
		out.Results = append(out.Results, fromPage(&resp.Results[i]))
	}
	return out, nil
}

// CreatePage creates a row.
func (c *Client) CreatePage(ctx context.Context, req CreatePageRequest) (Page, error) {
	page, err := c.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent:     toParent(req.Parent),
		Properties: toProperties(req.Properties),
		Cover:      toImage(req.Cover),
	})
	if err != nil {
		return Page{}, fmt.Errorf("create page: %w", apiError(err))
	}
	return fromPage(page), nil
}

// UpdatePage patches a row's properties, cover or archived flag.
func (c *Client) UpdatePage(ctx context.Context, pageID string, req UpdatePageRequest) (Page, error) {
	update := &notionapi.PageUpdateRequest{
		Properties: toProperties(req.Properties),
		Cover:      toImage(req.Cover),
	}
	if req.Archived != nil {
		update.Archived = *req.Archived
	}
	page, err := c.api.Page.Update(ctx, notionapi.PageID(pageID), update)
	if err != nil {
		return Page{}, fmt.Errorf("update page %s: %w", pageID, apiError(err))
	}
	return fromPage(page), nil
}

// ArchivePage archives a row.
func (c *Client) ArchivePage(ctx context.Context, pageID string) error {
	archived := true
	_, err := c.UpdatePage(ctx, pageID, UpdatePageRequest{Archived: &archived})
	return err
}

// Search runs a workspace search.
func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	search := &notionapi.SearchRequest{
		Query:       req.Query,
		StartCursor: notionapi.Cursor(req.StartCursor),
		PageSize:    req.PageSize,
	}
	if req.Filter != nil {
		search.Filter = notionapi.SearchFilter{Property: req.Filter.Property, Value: req.Filter.Value}
	}
	resp, err := c.api.Search.Do(ctx, search)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search: %w", apiError(err))
	}
	out := SearchResponse{
		Results:    make([]SearchResult, 0, len(resp.Results)),
		HasMore:    resp.HasMore,
		NextCursor: cursor(resp.NextCursor),
	}
	for _, obj := range resp.Results {
		switch hit := obj.(type) {
		case *notionapi.Page:
			out.Results = append(out.Results, SearchResult{Object: "page", ID: string(hit.ID)})
		case *notionapi.Database:
			out.Results = append(out.Results, SearchResult{Object: "database", ID: string(hit.ID)})
		}
	}
	return out, nil
}

// apiError maps notionapi's error object onto APIError so callers do not
// depend on the library's types.
func apiError(err error) error {
	var libErr *notionapi.Error
	if errors.As(err, &libErr) {
		return &APIError{Status: libErr.Status, Code: string(libErr.Code), Message: libErr.Message}
	}
	return err
}

func cursor(c notionapi.Cursor) *string {
	if c == "" {
		return nil
	}
	s := string(c)
	return &s
}

// endpointTransport sends notionapi's requests to the configured endpoint
// and pins the API version.
type endpointTransport struct {
	base    *url.URL
	version string
	next    http.RoundTripper
}

func (t *endpointTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.base.Scheme
	out.URL.Host = t.base.Host
	out.Host = t.base.Host
	if prefix := strings.TrimRight(t.base.Path, "/"); prefix != "" {
		out.URL.Path = prefix + out.URL.Path
		out.URL.RawPath = ""
	}
	out.Header.Set("Notion-Version", t.version)
	return t.next.RoundTrip(out)
}

// Package bangumi implements a client for the Bangumi (bgm.tv) v0 API.
package bangumi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bgm-notion-sync/internal/collection"
	"github.com/JakeFAU/bgm-notion-sync/internal/metrics"
	"github.com/JakeFAU/bgm-notion-sync/internal/policy/ratelimit"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultBaseURL   = "https://api.bgm.tv"
	DefaultUserAgent = "BGMToNotion/0.1"
	DefaultPageSize  = 50
)

const maxErrorBody = 512

// Config controls client behavior.
type Config struct {
	BaseURL   string
	Token     string
	UserAgent string
	PageSize  int
	// SubjectType and CollectionType filter the collection when non-zero.
	SubjectType    int
	CollectionType int
	// AllowPartial keeps the pages fetched so far when a page after the first fails.
	AllowPartial      bool
	Timeout           time.Duration
	RequestsPerSecond float64
	// Transport overrides the base transport (tests).
	Transport http.RoundTripper
}

// StatusError reports a non-success HTTP response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bangumi %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// CollectionPage is one page of the user collection endpoint.
type CollectionPage struct {
	Data   []collection.Item `json:"data"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// Client talks to the Bangumi API.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	noRedirect *http.Client
	logger     *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("bangumi token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse bangumi base url: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		API:          "bangumi",
		DefaultRPS:   cfg.RequestsPerSecond,
		DefaultBurst: 1,
	})
	transport := metrics.InstrumentTransport("bangumi", limiter.Transport(cfg.Transport))

	return &Client{
		cfg:     cfg,
		baseURL: base,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		noRedirect: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

// Me returns the account owning the token.
func (c *Client) Me(ctx context.Context) (collection.User, error) {
	var user collection.User
	if err := c.getJSON(ctx, "get user", "/v0/me", nil, &user); err != nil {
		return collection.User{}, err
	}
	if user.Username == "" {
		return collection.User{}, fmt.Errorf("bangumi get user: empty username in response")
	}
	return user, nil
}

// Collections fetches one page of the user's collection starting at offset.
func (c *Client) Collections(ctx context.Context, username string, offset int) (CollectionPage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.cfg.PageSize))
	query.Set("offset", strconv.Itoa(offset))
	if c.cfg.SubjectType > 0 {
		query.Set("subject_type", strconv.Itoa(c.cfg.SubjectType))
	}
	if c.cfg.CollectionType > 0 {
		query.Set("type", strconv.Itoa(c.cfg.CollectionType))
	}
	var page CollectionPage
	path := "/v0/users/" + url.PathEscape(username) + "/collections"
	if err := c.getJSON(ctx, "get collections", path, query, &page); err != nil {
		return CollectionPage{}, err
	}
	return page, nil
}

// FetchAll walks every page of the user's collection and concatenates items in
// fetch order. A failure on the first page is always an error.
func (c *Client) FetchAll(ctx context.Context, username string) (collection.Snapshot, error) {
	first, err := c.Collections(ctx, username, 0)
	if err != nil {
		return collection.Snapshot{}, fmt.Errorf("fetch first page: %w", err)
	}
	items := append([]collection.Item(nil), first.Data...)
	total := first.Total
	c.logger.Info("collection total", zap.String("username", username), zap.Int("total", total))

	for offset := c.cfg.PageSize; offset < total; offset += c.cfg.PageSize {
		page, err := c.Collections(ctx, username, offset)
		if err != nil {
			if !c.cfg.AllowPartial {
				return collection.Snapshot{}, fmt.Errorf("fetch page at offset %d: %w", offset, err)
			}
			c.logger.Warn("page fetch failed; keeping partial collection",
				zap.Int("offset", offset),
				zap.Int("fetched", len(items)),
				zap.Int("total", total),
				zap.Error(err),
			)
			break
		}
		items = append(items, page.Data...)
	}
	return collection.Snapshot{Items: items, Total: total}, nil
}

// SubjectDetail fetches rating, tags and release date of a subject.
func (c *Client) SubjectDetail(ctx context.Context, subjectID int) (collection.SubjectDetail, error) {
	var detail collection.SubjectDetail
	path := "/v0/subjects/" + strconv.Itoa(subjectID)
	if err := c.getJSON(ctx, "get subject", path, nil, &detail); err != nil {
		return collection.SubjectDetail{}, err
	}
	return detail, nil
}

// SubjectImage returns the large cover URL, read from the redirect Location.
func (c *Client) SubjectImage(ctx context.Context, subjectID int) (string, error) {
	query := url.Values{"type": {"large"}}
	req, err := c.newRequest(ctx, "/v0/subjects/"+strconv.Itoa(subjectID)+"/image", query)
	if err != nil {
		return "", err
	}
	resp, err := c.noRedirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("bangumi get image: %w", err)
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusFound {
		return "", statusError("get image", resp)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("bangumi get image: redirect without location")
	}
	return location, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, path, query)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bangumi %s: %w", op, err)
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bangumi %s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build bangumi request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// Package notiontest provides an in-memory Notion API server for tests.
package notiontest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JakeFAU/bgm-notion-sync/internal/notion"
)

const maxPageSize = 100

// Server is a fake Notion API backed by maps. Archived pages are kept but
// hidden from queries, mirroring the real service.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	databases  map[string]*notion.Database
	pages      map[string]*notion.Page
	pageOrder  []string
	containers []string
	now        time.Time
	counts     map[string]int

	databaseUpdateHook func(databaseID string) error
	pageWriteHook      func(pageID string, props notion.Properties) error
}

// NewServer starts a fake server. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		databases: make(map[string]*notion.Database),
		pages:     make(map[string]*notion.Page),
		now:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		counts:    make(map[string]int),
	}
	r := chi.NewRouter()
	r.Post("/v1/search", s.search)
	r.Post("/v1/databases", s.createDatabase)
	r.Get("/v1/databases/{id}", s.retrieveDatabase)
	r.Patch("/v1/databases/{id}", s.updateDatabase)
	r.Post("/v1/databases/{id}/query", s.queryDatabase)
	r.Post("/v1/pages", s.createPage)
	r.Patch("/v1/pages/{id}", s.updatePage)
	s.Server = httptest.NewServer(s.authenticate(r))
	return s
}

// SetDatabaseUpdateHook installs a hook that can reject PATCH /databases/{id}.
func (s *Server) SetDatabaseUpdateHook(hook func(databaseID string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.databaseUpdateHook = hook
}

// SetPageWriteHook installs a hook that can reject page creates and updates.
// pageID is empty for creates.
func (s *Server) SetPageWriteHook(hook func(pageID string, props notion.Properties) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageWriteHook = hook
}

// AddContainer registers a page that search returns and databases can be created under.
func (s *Server) AddContainer(pageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers = append(s.containers, pageID)
}

// AddDatabase registers an existing database with the given schema.
func (s *Server) AddDatabase(databaseID string, props map[string]notion.PropertySchema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db := &notion.Database{Object: "database", ID: databaseID, Properties: map[string]notion.PropertySchema{}}
	mergeSchema(db, props)
	s.databases[databaseID] = db
}

// RemoveDatabase deletes a database so later calls return object_not_found.
func (s *Server) RemoveDatabase(databaseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.databases, databaseID)
}

// AddPage inserts a row directly, bypassing schema validation, and returns its id.
func (s *Server) AddPage(databaseID string, props notion.Properties, lastEdited time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.pages[id] = &notion.Page{
		Object:         "page",
		ID:             id,
		CreatedTime:    lastEdited,
		LastEditedTime: lastEdited,
		Parent:         notion.Parent{Type: "database_id", DatabaseID: databaseID},
		Properties:     cloneProps(props),
	}
	s.pageOrder = append(s.pageOrder, id)
	return id
}

// Database returns a copy of a database.
func (s *Server) Database(databaseID string) (notion.Database, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.databases[databaseID]
	if !ok {
		return notion.Database{}, false
	}
	return *db, true
}

// DatabaseIDs lists the ids of every database.
func (s *Server) DatabaseIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.databases))
	for id := range s.databases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Page returns a copy of a page.
func (s *Server) Page(pageID string) (notion.Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[pageID]
	if !ok {
		return notion.Page{}, false
	}
	return clonePage(p), true
}

// Rows returns the non-archived pages of a database in creation order.
func (s *Server) Rows(databaseID string) []notion.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsLocked(databaseID, nil)
}

// Count reports how many requests hit a route, keyed like "PATCH /v1/pages".
func (s *Server) Count(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[route]
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized", "API token is invalid.")
			return
		}
		if r.Header.Get("Notion-Version") == "" {
			writeError(w, http.StatusBadRequest, "missing_version", "Notion-Version header failed validation.")
			return
		}
		route := r.Method + " " + routeKey(r.URL.Path)
		s.mu.Lock()
		s.counts[route]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func routeKey(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 {
		parts[2] = "{id}"
	}
	key := "/" + strings.Join(parts, "/")
	return strings.TrimSuffix(key, "/{id}")
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req notion.SearchRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := notion.SearchResponse{Results: []notion.SearchResult{}}
	if req.Filter == nil || req.Filter.Value == "page" {
		for _, id := range s.containers {
			resp.Results = append(resp.Results, notion.SearchResult{Object: "page", ID: id})
		}
	}
	if req.PageSize > 0 && len(resp.Results) > req.PageSize {
		resp.Results = resp.Results[:req.PageSize]
		resp.HasMore = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createDatabase(w http.ResponseWriter, r *http.Request) {
	var req notion.CreateDatabaseRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasContainer(req.Parent.PageID) {
		writeError(w, http.StatusNotFound, "object_not_found", "Could not find page with ID: "+req.Parent.PageID)
		return
	}
	if titleCount(req.Properties) != 1 {
		writeError(w, http.StatusBadRequest, "validation_error", "exactly one title property is required")
		return
	}
	db := &notion.Database{
		Object:     "database",
		ID:         uuid.NewString(),
		Title:      req.Title,
		Parent:     req.Parent,
		Properties: map[string]notion.PropertySchema{},
	}
	mergeSchema(db, req.Properties)
	s.databases[db.ID] = db
	writeJSON(w, http.StatusOK, db)
}

func (s *Server) retrieveDatabase(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.databases[chi.URLParam(r, "id")]
	if !ok {
		writeNotFound(w, chi.URLParam(r, "id"))
		return
	}
	writeJSON(w, http.StatusOK, db)
}

func (s *Server) updateDatabase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req notion.UpdateDatabaseRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.databases[id]
	if !ok {
		writeNotFound(w, id)
		return
	}
	if s.databaseUpdateHook != nil {
		if err := s.databaseUpdateHook(id); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
	}
	if len(req.Title) > 0 {
		db.Title = req.Title
	}
	mergeSchema(db, req.Properties)
	writeJSON(w, http.StatusOK, db)
}

func (s *Server) queryDatabase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req notion.QueryDatabaseRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.databases[id]; !ok {
		writeNotFound(w, id)
		return
	}
	rows := s.rowsLocked(id, req.Filter)

	start := 0
	if req.StartCursor != "" {
		n, err := strconv.Atoi(req.StartCursor)
		if err != nil || n < 0 || n > len(rows) {
			writeError(w, http.StatusBadRequest, "validation_error", "start_cursor is invalid")
			return
		}
		start = n
	}
	size := req.PageSize
	if size <= 0 || size > maxPageSize {
		size = maxPageSize
	}
	end := start + size
	if end > len(rows) {
		end = len(rows)
	}
	resp := notion.QueryDatabaseResponse{Object: "list", Results: rows[start:end]}
	if end < len(rows) {
		next := strconv.Itoa(end)
		resp.HasMore = true
		resp.NextCursor = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createPage(w http.ResponseWriter, r *http.Request) {
	var req notion.CreatePageRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.databases[req.Parent.DatabaseID]
	if !ok {
		writeNotFound(w, req.Parent.DatabaseID)
		return
	}
	if err := validateProps(db, req.Properties); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if s.pageWriteHook != nil {
		if err := s.pageWriteHook("", req.Properties); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
	}
	now := s.tick()
	page := &notion.Page{
		Object:         "page",
		ID:             uuid.NewString(),
		CreatedTime:    now,
		LastEditedTime: now,
		Parent:         notion.Parent{Type: "database_id", DatabaseID: db.ID},
		Properties:     cloneProps(req.Properties),
		Cover:          req.Cover,
	}
	s.pages[page.ID] = page
	s.pageOrder = append(s.pageOrder, page.ID)
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) updatePage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req notion.UpdatePageRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok {
		writeNotFound(w, id)
		return
	}
	if page.Archived && (req.Archived == nil || *req.Archived) {
		writeError(w, http.StatusBadRequest, "validation_error", "Can't edit block that is archived.")
		return
	}
	if db, ok := s.databases[page.Parent.DatabaseID]; ok {
		if err := validateProps(db, req.Properties); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
	}
	if s.pageWriteHook != nil {
		if err := s.pageWriteHook(id, req.Properties); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
	}
	if page.Properties == nil {
		page.Properties = notion.Properties{}
	}
	for name, value := range cloneProps(req.Properties) {
		page.Properties[name] = value
	}
	if req.Cover != nil {
		page.Cover = req.Cover
	}
	if req.Archived != nil {
		page.Archived = *req.Archived
	}
	page.LastEditedTime = s.tick()
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) rowsLocked(databaseID string, filter *notion.Filter) []notion.Page {
	rows := make([]notion.Page, 0)
	for _, id := range s.pageOrder {
		p := s.pages[id]
		if p.Archived || p.Parent.DatabaseID != databaseID {
			continue
		}
		if filter != nil && filter.Number != nil && filter.Number.Equals != nil {
			v, ok := p.Number(filter.Property)
			if !ok || v != *filter.Number.Equals {
				continue
			}
		}
		rows = append(rows, clonePage(p))
	}
	return rows
}

func (s *Server) hasContainer(pageID string) bool {
	for _, id := range s.containers {
		if id == pageID {
			return true
		}
	}
	return false
}

func (s *Server) tick() time.Time {
	s.now = s.now.Add(time.Minute)
	return s.now
}

func mergeSchema(db *notion.Database, props map[string]notion.PropertySchema) {
	for name, schema := range props {
		existing, found := db.Properties[name]
		if found && schema.Name != "" && schema.Name != name && schema.Kind() == "" {
			// {"Old": {"name": "New"}} renames a column and keeps its kind.
			delete(db.Properties, name)
			existing.Name = schema.Name
			db.Properties[schema.Name] = existing
			continue
		}
		schema.Name = name
		if schema.Type == "" {
			schema.Type = schema.Kind()
		}
		if schema.ID == "" {
			if existing, ok := db.Properties[name]; ok {
				schema.ID = existing.ID
			} else if schema.Type == "title" {
				schema.ID = "title"
			} else {
				schema.ID = uuid.NewString()[:4]
			}
		}
		db.Properties[name] = schema
	}
}

func titleCount(props map[string]notion.PropertySchema) int {
	n := 0
	for _, p := range props {
		if p.Title != nil || p.Type == "title" {
			n++
		}
	}
	return n
}

func validateProps(db *notion.Database, props notion.Properties) error {
	for name, value := range props {
		if _, ok := db.Properties[name]; !ok {
			return fmt.Errorf("%s is not a property that exists", name)
		}
		for _, opt := range value.MultiSelect {
			if strings.Contains(opt.Name, ",") {
				return fmt.Errorf("option name %q contains a comma", opt.Name)
			}
		}
	}
	return nil
}

// cloneProps copies props and fills in each value's type, which Notion
// always reports and notionapi needs to decode a page.
func cloneProps(props notion.Properties) notion.Properties {
	out := make(notion.Properties, len(props))
	for k, v := range props {
		if v.Type == "" {
			v.Type = v.Kind()
		}
		out[k] = v
	}
	return out
}

func clonePage(p *notion.Page) notion.Page {
	cp := *p
	cp.Properties = cloneProps(p.Properties)
	return cp
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func writeNotFound(w http.ResponseWriter, id string) {
	writeError(w, http.StatusNotFound, "object_not_found", "Could not find object with ID: "+id)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"object":  "error",
		"status":  status,
		"code":    code,
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package testutil provides an in-memory RT REST2 server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BasePath is where the mock mounts the REST2 API.
const BasePath = "/REST/2.0"

// MockResponse is a canned reply that overrides the in-memory behaviour.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration

	// Times limits how often the reply is served; 0 means always.
	Times int
}

// Action is one recorded sub-resource call, e.g. POST /ticket/3/comment.
type Action struct {
	Method string
	Type   string
	ID     string
	Name   string
	Body   map[string]any
}

type mockEntity struct {
	id      string
	fields  map[string]any
	version int
}

// MockRT is a configurable fake RT server. Entities live in memory with a
// version counter exposed as ETag; PUT honours If-Match.
type MockRT struct {
	server *httptest.Server

	mu          sync.Mutex
	entities    map[string]map[string]*mockEntity
	order       map[string][]string
	nextID      int
	overrides   map[string]*MockResponse
	handlers    map[string]http.HandlerFunc
	delay       time.Duration
	token       string
	omitTotals  bool
	inFlight    int
	maxInFlight int
	requests    map[string]int
	total       int
	lastHeader  http.Header
	actions     []Action
}

// NewMockRT starts a mock server.
func NewMockRT() *MockRT {
	m := &MockRT{
		entities:  make(map[string]map[string]*mockEntity),
		order:     make(map[string][]string),
		nextID:    1,
		overrides: make(map[string]*MockResponse),
		handlers:  make(map[string]http.HandlerFunc),
		requests:  make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the REST2 root, suitable as a session base URL.
func (m *MockRT) URL() string {
	return m.server.URL + BasePath
}

// ServerURL returns the bare server URL without the REST2 mount point.
func (m *MockRT) ServerURL() string {
	return m.server.URL
}

// Close shuts down the server.
func (m *MockRT) Close() {
	m.server.Close()
}

// RequireToken makes every request without "Authorization: token <tok>"
// fail with 401.
func (m *MockRT) RequireToken(tok string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = tok
}

// SetDelay delays every response.
func (m *MockRT) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// OmitTotals drops total and pages from search envelopes, the way RT does
// for users without the ShowSearchResultCount right.
func (m *MockRT) OmitTotals(omit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitTotals = omit
}

// Seed stores an entity and returns its id. A non-empty "id" field is used
// as-is; otherwise the next numeric id is assigned.
func (m *MockRT) Seed(typ string, fields map[string]any) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store(typ, fields)
}

// SeedN stores n entities built by fn and returns their ids.
func (m *MockRT) SeedN(typ string, n int, fn func(i int) map[string]any) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, m.Seed(typ, fn(i)))
	}
	return ids
}

// Touch bumps an entity's version as if someone else edited it.
func (m *MockRT) Touch(typ, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.lookup(typ, id); e != nil {
		e.version++
	}
}

// Entity returns a copy of the stored fields.
func (m *MockRT) Entity(typ, id string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(typ, id)
	if e == nil {
		return nil, false
	}
	return e.render(typ), true
}

// Remove drops an entity so later reads return 404.
func (m *MockRT) Remove(typ, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byID, ok := m.entities[typ]; ok {
		delete(byID, id)
	}
	ids := m.order[typ]
	for i, v := range ids {
		if v == id {
			m.order[typ] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}

// SetResponse overrides replies for "METHOD /path" (path relative to the
// REST2 root). Method "*" matches any method.
func (m *MockRT) SetResponse(method, path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := resp
	m.overrides[method+" "+path] = &r
}

// SetHandler installs a custom handler for "METHOD /path".
func (m *MockRT) SetHandler(method, path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method+" "+path] = h
}

// RequestCount returns how often "METHOD /path" was requested. The path
// excludes the query string.
func (m *MockRT) RequestCount(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[method+" "+path]
}

// TotalRequests returns the number of requests served.
func (m *MockRT) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// MaxInFlight returns the highest number of concurrently served requests.
func (m *MockRT) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockRT) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// Actions returns recorded sub-resource calls in arrival order.
func (m *MockRT) Actions() []Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Action(nil), m.actions...)
}

// Reset clears counters and recorded actions; entities stay.
func (m *MockRT) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.total = 0
	m.maxInFlight = 0
	m.actions = nil
	m.lastHeader = nil
}

func (m *MockRT) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, BasePath)
	if path == "" {
		path = "/"
	}

	m.mu.Lock()
	m.total++
	m.requests[r.Method+" "+path]++
	m.lastHeader = r.Header.Clone()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.delay
	token := m.token
	override := m.override(r.Method, path)
	handler := m.handlers[r.Method+" "+path]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if token != "" && r.Header.Get("Authorization") != "token "+token {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
		return
	}

	if override != nil {
		if override.Delay > 0 {
			time.Sleep(override.Delay)
		}
		for k, v := range override.Headers {
			w.Header().Set(k, v)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}
		w.WriteHeader(override.StatusCode)
		if override.Body != "" {
			w.Write([]byte(override.Body))
		}
		return
	}
	if handler != nil {
		handler(w, r)
		return
	}

	m.route(w, r, path)
}

// override returns and consumes a matching canned reply. Caller holds mu.
func (m *MockRT) override(method, path string) *MockResponse {
	for _, key := range []string{method + " " + path, "* " + path} {
		o, ok := m.overrides[key]
		if !ok {
			continue
		}
		if o.Times > 0 {
			o.Times--
			if o.Times == 0 {
				delete(m.overrides, key)
			}
		}
		return o
	}
	return nil
}

func (m *MockRT) route(w http.ResponseWriter, r *http.Request, path string) {
	if path == "/" {
		writeJSON(w, http.StatusOK, map[string]any{"version": "5.0.5", "plugins": []string{}})
		return
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet && strings.HasSuffix(parts[0], "s"):
		m.list(w, r, strings.TrimSuffix(parts[0], "s"), nil)
	case len(parts) == 1 && r.Method == http.MethodPost:
		m.create(w, r, parts[0])
	case len(parts) == 2 && parts[0] == "user" && parts[1] == "current" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"id": 14, "Name": "root", "Privileged": 1})
	case len(parts) == 2:
		m.item(w, r, parts[0], parts[1])
	case len(parts) == 3 && r.Method == http.MethodGet && (parts[2] == "history" || parts[2] == "attachments"):
		m.subList(w, r, parts[0], parts[1], parts[2])
	case len(parts) == 3 && r.Method == http.MethodGet && parts[0] == "attachment" && parts[2] == "content":
		m.content(w, parts[1])
	case len(parts) >= 3:
		m.action(w, r, parts[0], parts[1], strings.Join(parts[2:], "/"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not found"})
	}
}

func (m *MockRT) list(w http.ResponseWriter, r *http.Request, typ string, only func(map[string]any) bool) {
	q := r.URL.Query()
	page := atoiDefault(q.Get("page"), 1)
	perPage := atoiDefault(q.Get("per_page"), 20)
	if perPage > 100 {
		perPage = 100
	}
	if page < 1 {
		page = 1
	}
	match, err := parseQuery(q.Get("query"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	m.mu.Lock()
	var items []map[string]any
	for _, id := range m.order[typ] {
		e := m.entities[typ][id]
		obj := e.render(typ)
		if match(obj) && (only == nil || only(obj)) {
			items = append(items, obj)
		}
	}
	omit := m.omitTotals
	m.mu.Unlock()

	total := len(items)
	pages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	end := start + perPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	body := map[string]any{
		"count":    end - start,
		"page":     page,
		"per_page": perPage,
		"items":    nonNil(items[start:end]),
	}
	if !omit {
		body["total"] = total
		body["pages"] = pages
	}
	if page < pages {
		next := *r.URL
		nq := next.Query()
		nq.Set("page", strconv.Itoa(page+1))
		next.RawQuery = nq.Encode()
		body["next_page"] = m.server.URL + next.RequestURI()
	}
	writeJSON(w, http.StatusOK, body)
}

func (m *MockRT) subList(w http.ResponseWriter, r *http.Request, typ, id, sub string) {
	m.mu.Lock()
	exists := m.lookup(typ, id) != nil
	m.mu.Unlock()
	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Resource does not exist"})
		return
	}
	child := "transaction"
	if sub == "attachments" {
		child = "attachment"
	}
	m.list(w, r, child, func(obj map[string]any) bool {
		return fmt.Sprint(obj["ObjectId"]) == id || fmt.Sprint(obj["TicketId"]) == id
	})
}

func (m *MockRT) content(w http.ResponseWriter, id string) {
	m.mu.Lock()
	e := m.lookup("attachment", id)
	var data, ctype string
	if e != nil {
		data = fmt.Sprint(e.fields["Content"])
		ctype, _ = e.fields["ContentType"].(string)
	}
	m.mu.Unlock()
	if e == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Resource does not exist"})
		return
	}
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(data))
}

func (m *MockRT) create(w http.ResponseWriter, r *http.Request, typ string) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "JSON object required"})
		return
	}
	delete(fields, "id")

	m.mu.Lock()
	id := m.store(typ, fields)
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":   jsonID(id),
		"type": typ,
		"_url": m.URL() + "/" + typ + "/" + id,
	})
}

func (m *MockRT) item(w http.ResponseWriter, r *http.Request, typ, id string) {
	m.mu.Lock()
	e := m.lookup(typ, id)
	if e == nil {
		m.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Resource does not exist"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		etag := e.etag()
		obj := e.render(typ)
		m.mu.Unlock()
		if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		writeJSON(w, http.StatusOK, obj)

	case http.MethodPut:
		if im := r.Header.Get("If-Match"); im != "" && im != e.etag() {
			m.mu.Unlock()
			writeJSON(w, http.StatusPreconditionFailed, map[string]any{"message": "Precondition failed"})
			return
		}
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			m.mu.Unlock()
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "JSON object required"})
			return
		}
		msgs := make([]string, 0, len(fields))
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.fields[k] = fields[k]
			msgs = append(msgs, fmt.Sprintf("%s %s: %s changed", capitalize(typ), e.id, k))
		}
		e.version++
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, msgs)

	case http.MethodDelete:
		msg := fmt.Sprintf("%s %s: disabled", capitalize(typ), e.id)
		if typ == "ticket" {
			e.fields["Status"] = "deleted"
			msg = fmt.Sprintf("Ticket %s: Ticket deleted", e.id)
		} else {
			e.fields["Disabled"] = 1
		}
		e.version++
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, []string{msg})

	default:
		m.mu.Unlock()
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"message": "Method not allowed"})
	}
}

func (m *MockRT) action(w http.ResponseWriter, r *http.Request, typ, id, name string) {
	var body map[string]any
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	m.mu.Lock()
	e := m.lookup(typ, id)
	if e == nil {
		m.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Resource does not exist"})
		return
	}
	m.actions = append(m.actions, Action{Method: r.Method, Type: typ, ID: e.id, Name: name, Body: body})
	if typ == "ticket" && (name == "take" || name == "steal") {
		e.fields["Owner"] = "root"
		e.version++
	}
	if typ == "ticket" && name == "untake" {
		e.fields["Owner"] = "Nobody"
		e.version++
	}
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, []string{fmt.Sprintf("%s %s: %s recorded", capitalize(typ), e.id, name)})
}

// store inserts an entity. Caller holds mu.
func (m *MockRT) store(typ string, fields map[string]any) string {
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	id := ""
	if v, ok := cp["id"]; ok && v != nil {
		id = fmt.Sprint(v)
		delete(cp, "id")
		if n, err := strconv.Atoi(id); err == nil && n >= m.nextID {
			m.nextID = n + 1
		}
	} else {
		id = strconv.Itoa(m.nextID)
		m.nextID++
	}
	if m.entities[typ] == nil {
		m.entities[typ] = make(map[string]*mockEntity)
	}
	if _, exists := m.entities[typ][id]; !exists {
		m.order[typ] = append(m.order[typ], id)
	}
	m.entities[typ][id] = &mockEntity{id: id, fields: cp, version: 1}
	return id
}

// lookup finds an entity by id or Name. Caller holds mu.
func (m *MockRT) lookup(typ, id string) *mockEntity {
	byID := m.entities[typ]
	if e, ok := byID[id]; ok {
		return e
	}
	for _, key := range m.order[typ] {
		if e := byID[key]; e != nil && fmt.Sprint(e.fields["Name"]) == id {
			return e
		}
	}
	return nil
}

func (e *mockEntity) etag() string {
	return fmt.Sprintf(`"%s-%d"`, e.id, e.version)
}

func (e *mockEntity) render(typ string) map[string]any {
	obj := make(map[string]any, len(e.fields)+2)
	for k, v := range e.fields {
		obj[k] = v
	}
	obj["id"] = jsonID(e.id)
	obj["type"] = typ
	return obj
}

var clausePattern = regexp.MustCompile(`^\s*([A-Za-z.{}_ -]+?)\s*(=|!=)\s*'([^']*)'\s*$`)

// parseQuery understands "Field = 'v' AND Field != 'w'", enough to drive
// searches in tests. An empty query matches everything.
func parseQuery(q string) (func(map[string]any) bool, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return func(map[string]any) bool { return true }, nil
	}
	type clause struct {
		field, op, value string
	}
	var clauses []clause
	for _, part := range regexp.MustCompile(`(?i)\s+AND\s+`).Split(q, -1) {
		mm := clausePattern.FindStringSubmatch(part)
		if mm == nil {
			return nil, fmt.Errorf("Invalid query: %s", part)
		}
		clauses = append(clauses, clause{field: mm[1], op: mm[2], value: mm[3]})
	}
	return func(obj map[string]any) bool {
		for _, c := range clauses {
			got := ""
			if v, ok := obj[c.field]; ok && v != nil {
				got = fmt.Sprint(v)
			}
			eq := strings.EqualFold(got, c.value)
			if (c.op == "=") != eq {
				return false
			}
		}
		return true
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonID(id string) any {
	if n, err := strconv.Atoi(id); err == nil {
		return n
	}
	return id
}

func atoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func nonNil(items []map[string]any) []map[string]any {
	if items == nil {
		return []map[string]any{}
	}
	return items
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Package testutil provides a configurable mock cursor-paginated API
// server for engine tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PageFixture is one page served by the mock API.
type PageFixture struct {
	// Items are the records of the page.
	Items []map[string]any

	// Remaining is the X-RateLimit-Remaining value reported with the
	// page. Zero is sent as-is; use a large value for healthy quota.
	Remaining int
}

// failPlan fails requests to one endpoint.
type failPlan struct {
	status int
	times  int // remaining failures; negative means always
}

// MockAPI is a cursor-paginated HTTP API for tests. Each configured
// endpoint serves its fixture pages in order, linked by opaque cursors;
// failures can be scripted per endpoint, and every request's arrival
// time is recorded for rate assertions.
type MockAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	chains   map[string][]PageFixture
	failures map[string]*failPlan
	times    []time.Time
	requests int
}

// NewMockAPI creates and starts a mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		chains:   make(map[string][]PageFixture),
		failures: make(map[string]*failPlan),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetChain configures the ordered pages served for an endpoint.
func (m *MockAPI) SetChain(endpoint string, pages ...PageFixture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[normalize(endpoint)] = pages
}

// FailWith makes the next `times` requests to an endpoint fail with the
// given status. A negative count fails every request.
func (m *MockAPI) FailWith(endpoint string, status, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[normalize(endpoint)] = &failPlan{status: status, times: times}
}

// RequestCount returns the number of requests received.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// RequestTimes returns the arrival time of every request, in order.
func (m *MockAPI) RequestTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Time, len(m.times))
	copy(out, m.times)
	return out
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests++
	m.times = append(m.times, time.Now())

	endpoint := normalize(r.URL.Path)

	if plan, ok := m.failures[endpoint]; ok && plan.times != 0 {
		if plan.times > 0 {
			plan.times--
		}
		status := plan.status
		m.mu.Unlock()
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error": "scripted failure"}`)
		return
	}

	chain, ok := m.chains[endpoint]
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	idx := 0
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		parsed, err := strconv.Atoi(strings.TrimPrefix(cursor, "c"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		idx = parsed
	}

	var page PageFixture
	if idx < len(chain) {
		page = chain[idx]
	}

	next := ""
	if idx+1 < len(chain) {
		next = fmt.Sprintf("c%d", idx+1)
	}

	body := map[string]any{
		"data":        page.Items,
		"next_cursor": next,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(page.Remaining))
	json.NewEncoder(w).Encode(body)
}

func normalize(endpoint string) string {
	return "/" + strings.Trim(endpoint, "/")
}

// Items builds a page fixture with sequential record IDs and healthy quota.
func Items(ids ...string) PageFixture {
	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, map[string]any{"id": id})
	}
	return PageFixture{Items: items, Remaining: 999}
}

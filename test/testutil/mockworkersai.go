package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockWorkersAI is an httptest.Server that simulates the Workers AI run
// endpoint in streaming mode, both direct and through AI Gateway.
type MockWorkersAI struct {
	Server *httptest.Server

	// Deltas are streamed one SSE frame each, followed by "data: [DONE]".
	Deltas []string
	// Status, when not 200, makes every request fail with a JSON error body.
	Status int
	// AbortAfter, when positive, hijacks and closes the connection after that
	// many frames.
	AbortAfter int

	mu          sync.Mutex
	lastPath    string
	lastHeader  http.Header
	lastRequest map[string]any
	requests    int
}

// NewMockWorkersAI creates and starts a mock Workers AI server.
func NewMockWorkersAI(deltas ...string) *MockWorkersAI {
	m := &MockWorkersAI{Deltas: deltas, Status: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// Close shuts down the mock server.
func (m *MockWorkersAI) Close() {
	m.Server.Close()
}

// URL returns the base URL of the mock server.
func (m *MockWorkersAI) URL() string {
	return m.Server.URL
}

// Frames returns the exact body the mock streams on success.
func (m *MockWorkersAI) Frames() string {
	var sb strings.Builder
	for _, d := range m.Deltas {
		sb.WriteString(frame(d))
	}
	sb.WriteString("data: [DONE]\n\n")
	return sb.String()
}

// LastRequest returns the most recent decoded request body.
func (m *MockWorkersAI) LastRequest() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// LastPath returns the path of the most recent request.
func (m *MockWorkersAI) LastPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPath
}

// LastHeader returns the headers of the most recent request.
func (m *MockWorkersAI) LastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// Requests returns how many requests the mock has received.
func (m *MockWorkersAI) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

func (m *MockWorkersAI) handle(w http.ResponseWriter, r *http.Request) {
	isRun := strings.Contains(r.URL.Path, "/ai/run/") || strings.Contains(r.URL.Path, "/workers-ai/")
	if !isRun || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.lastPath = r.URL.Path
	m.lastHeader = r.Header.Clone()
	m.lastRequest = body
	m.requests++
	m.mu.Unlock()

	if m.Status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.Status)
		fmt.Fprint(w, `{"success":false,"errors":[{"code":5007,"message":"mock failure"}]}`)
		return
	}
	m.writeStreaming(w)
}

func (m *MockWorkersAI) writeStreaming(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, hasFlusher := w.(http.Flusher)

	for i, d := range m.Deltas {
		if m.AbortAfter > 0 && i == m.AbortAfter {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
				}
			}
			return
		}
		fmt.Fprint(w, frame(d))
		if hasFlusher {
			flusher.Flush()
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	if hasFlusher {
		flusher.Flush()
	}
}

func frame(delta string) string {
	data, _ := json.Marshal(map[string]string{"response": delta})
	return fmt.Sprintf("data: %s\n\n", data)
}

// Package testutil provides testing utilities for the MRI analyzer.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// DefaultResponse is the well-shaped payload the mock returns unless
// configured otherwise.
const DefaultResponse = `{"findings": [], "impression": "Unremarkable study.", "recommendations": "No follow-up required."}`

// MockAPI is a configurable mock of the chat completions endpoint. It
// answers streaming requests with an SSE fragment stream and non-streaming
// requests with a single JSON body. Scripted responses can be queued ahead
// of the default behavior for failure injection.
type MockAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	queue    []http.HandlerFunc
	content  string
	requests int
}

// NewMockAPI creates a mock server streaming DefaultResponse.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{content: DefaultResponse}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests++
		var handler http.HandlerFunc
		if len(mock.queue) > 0 {
			handler = mock.queue[0]
			mock.queue = mock.queue[1:]
		}
		content := mock.content
		mock.mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}

		var req struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		if req.Stream {
			WriteSSE(w, content, 16)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		body := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(body)
	}))

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

// Requests returns the number of requests received so far.
func (m *MockAPI) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// Reset clears the request counter and any queued handlers.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = 0
	m.queue = nil
}

// SetContent changes the payload served by the default handler.
func (m *MockAPI) SetContent(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = content
}

// EnqueueHandler queues a scripted handler consumed ahead of the default
// behavior, one per request, in FIFO order.
func (m *MockAPI) EnqueueHandler(handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, handler)
}

// EnqueueError queues one response with the given status code.
func (m *MockAPI) EnqueueError(status int, message string) {
	m.EnqueueHandler(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error": {"message": %q}}`, message)
	})
}

// WriteSSE writes content as a chat completions SSE stream, split into
// fragments of at most chunkSize bytes, terminated by [DONE].
func WriteSSE(w http.ResponseWriter, content string, chunkSize int) {
	w.Header().Set("Content-Type", "text/event-stream")

	if chunkSize <= 0 {
		chunkSize = 16
	}
	for start := 0; start < len(content); start += chunkSize {
		end := start + chunkSize
		if end > len(content) {
			end = len(content)
		}
		chunk := map[string]any{
			"choices": []map[string]any{
				{"delta": map[string]any{"content": content[start:end]}},
			},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

// Package testutil provides testing utilities for the studio engine.
package testutil

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock API response.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockGemini is a configurable mock generative API server. Responses can be
// scripted per API key; unscripted keys get the default response for the
// endpoint.
type MockGemini struct {
	server *httptest.Server

	mu      sync.Mutex
	scripts map[string][]MockResponse

	// Tracking
	RequestCount int
	KeysSeen     []string
	LastBody     string
}

// PNGBytes is the image payload returned by default.
var PNGBytes = []byte("\x89PNG\r\n\x1a\nmock-image")

// NewMockGemini creates a new mock server.
func NewMockGemini() *MockGemini {
	mock := &MockGemini{scripts: make(map[string][]MockResponse)}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.RequestCount++
		mock.KeysSeen = append(mock.KeysSeen, key)
		mock.LastBody = string(body)
		var scripted *MockResponse
		if queue := mock.scripts[key]; len(queue) > 0 {
			resp := queue[0]
			scripted = &resp
			if len(queue) > 1 {
				mock.scripts[key] = queue[1:]
			}
		}
		mock.mu.Unlock()

		if scripted != nil {
			if scripted.Delay > 0 {
				select {
				case <-time.After(scripted.Delay):
				case <-r.Context().Done():
					return
				}
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(scripted.StatusCode)
			w.Write([]byte(scripted.Body))
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockGemini) URL() string {
	return m.server.URL
}

// Client returns an HTTP client for the mock server.
func (m *MockGemini) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockGemini) Close() {
	m.server.Close()
}

// Script queues responses for requests made with key. The last response
// repeats once the queue is drained.
func (m *MockGemini) Script(key string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[key] = responses
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGemini) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// CountFor returns the number of requests made with key.
func (m *MockGemini) CountFor(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.KeysSeen {
		if k == key {
			n++
		}
	}
	return n
}

// GetLastBody returns the body of the most recent request.
func (m *MockGemini) GetLastBody() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastBody
}

// defaultHandler answers image models with an image, text models with a
// scenario list, and model listings with an empty page.
func (m *MockGemini) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/models"):
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"models": []}`))
	case strings.Contains(r.URL.Path, "image"):
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(NewImageBody(PNGBytes)))
	default:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(NewTextBody(`[{"scene":"Mock scene","emotion":"Mock emotion"}]`)))
	}
}

// NewImageBody builds a generateContent response carrying one image.
func NewImageBody(data []byte) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"inlineData":{"mimeType":"image/png","data":%q}}]},"finishReason":"STOP"}]}`,
		base64.StdEncoding.EncodeToString(data))
}

// NewTextBody builds a generateContent response carrying text.
func NewTextBody(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]},"finishReason":"STOP"}]}`, text)
}

// NewImageResponse creates a 200 response with an image.
func NewImageResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Body: NewImageBody(PNGBytes)}
}

// NewInvalidKeyResponse creates the 400 response for a rejected API key.
func NewInvalidKeyResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT","details":[{"reason":"API_KEY_INVALID"}]}}`,
	}
}

// NewQuotaResponse creates a 429 RESOURCE_EXHAUSTED response.
func NewQuotaResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`,
	}
}

// NewSafetyResponse creates a 200 response whose prompt was blocked.
func NewSafetyResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"promptFeedback":{"blockReason":"SAFETY"}}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":{"code":500,"message":"Internal error encountered.","status":"INTERNAL"}}`,
	}
}

// Package testutil provides testing utilities for the extraction core.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines one scripted response from the mock inference server.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockGemini is a configurable mock generateContent server. Behavior can be
// scripted per credential so rotation effects are observable in tests.
type MockGemini struct {
	server *httptest.Server
	mu     sync.Mutex

	// scripts are consumed in order per credential; when a credential's
	// script runs out, the default response applies.
	scripts  map[string][]MockResponse
	fallback MockResponse

	// Tracking
	RequestCount int
	KeyCounts    map[string]int
}

// NewMockGemini creates a mock inference server that by default answers
// every request with a valid extraction payload.
func NewMockGemini() *MockGemini {
	mock := &MockGemini{
		scripts:   make(map[string][]MockResponse),
		KeyCounts: make(map[string]int),
		fallback:  NewModelJSONResponse(map[string]string{"POLICY_NO": "TEST-1"}),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("x-goog-api-key")

		mock.mu.Lock()
		mock.RequestCount++
		mock.KeyCounts[key]++
		resp := mock.fallback
		if queued := mock.scripts[key]; len(queued) > 0 {
			resp = queued[0]
			mock.scripts[key] = queued[1:]
		}
		mock.mu.Unlock()

		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockGemini) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGemini) Close() {
	m.server.Close()
}

// Script queues responses for requests authenticated with the given key.
func (m *MockGemini) Script(key string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[key] = append(m.scripts[key], responses...)
}

// SetFallback replaces the default response.
func (m *MockGemini) SetFallback(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = resp
}

// Requests returns the total number of requests served.
func (m *MockGemini) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// RequestsForKey returns the number of requests made with the given key.
func (m *MockGemini) RequestsForKey(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.KeyCounts[key]
}

// NewModelJSONResponse wraps the given fields in a valid generateContent
// response whose candidate text is the fields object as JSON.
func NewModelJSONResponse(fields map[string]string) MockResponse {
	text, _ := json.Marshal(fields)
	return NewModelTextResponse(string(text))
}

// NewModelTextResponse wraps arbitrary model text in a generateContent
// response envelope.
func NewModelTextResponse(text string) MockResponse {
	body, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"parts": []map[string]string{{"text": text}},
				},
			},
		},
	})
	return MockResponse{StatusCode: http.StatusOK, Body: string(body)}
}

// NewRateLimitResponse creates a 429 per-minute rate limit response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": {"status": "RESOURCE_EXHAUSTED", "message": "Quota exceeded for metric: generate_content_requests_per_minute"}}`,
	}
}

// NewQuotaExhaustedResponse creates a 429 daily quota cap response.
func NewQuotaExhaustedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": {"status": "RESOURCE_EXHAUSTED", "message": "Quota exceeded for metric: GenerateRequestsPerDayPerProjectPerModel"}}`,
	}
}

// NewInvalidKeyResponse creates a 400 invalid-credential response.
func NewInvalidKeyResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"error": {"status": "INVALID_ARGUMENT", "message": "API key not valid. Please pass a valid API key.", "details": [{"reason": "API_KEY_INVALID"}]}}`,
	}
}

// NewServerErrorResponse creates a 500 transient server failure.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": {"status": "INTERNAL", "message": "An internal error has occurred"}}`,
	}
}

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

func analyzeReq() AnalyzeRequest {
	return AnalyzeRequest{
		LeadID:         uuid.Must(uuid.NewV7()),
		ConversationID: uuid.Must(uuid.NewV7()),
		MessageID:      uuid.Must(uuid.NewV7()),
		Language:       "en",
		Messages:       []Message{{Role: RoleUser, Content: "Hi"}},
	}
}

func TestAnalyzeDecodesEnvelope(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var req AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Language != "en" {
			t.Errorf("request language = %q", req.Language)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"intent":     map[string]interface{}{"label": "greeting", "confidence": 0.95},
				"replyDraft": "Hello!",
				"model":      "intake-v2",
				"tokensUsed": 42,
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret-token")
	result, err := c.Analyze(context.Background(), analyzeReq())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if gotPath != "/v1/analyze" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if result.Intent.Label != "greeting" || result.ReplyDraft != "Hello!" {
		t.Errorf("result = %+v", result)
	}
	if result.Model != "intake-v2" || result.TokensUsed != 42 {
		t.Errorf("usage fields = %q, %d", result.Model, result.TokensUsed)
	}
}

func TestAnalyzeServiceErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "prompt version unknown",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Analyze(context.Background(), analyzeReq())
	if err == nil {
		t.Fatal("expected error for success=false envelope")
	}
}

func TestAnalyzeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"replyDraft": "ok"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", WithRetryConfig(fastRetry()))
	result, err := c.Analyze(context.Background(), analyzeReq())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.ReplyDraft != "ok" {
		t.Errorf("result = %+v", result)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestAnalyzeDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", WithRetryConfig(fastRetry()))
	_, err := c.Analyze(context.Background(), analyzeReq())

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRetryAfterHeaderHonored(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"message": "done"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", WithRetryConfig(RetryConfig{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   50 * time.Millisecond,
	}))

	// The 1s Retry-After exceeds MaxDelay and must be clamped to it, so the
	// whole call stays fast.
	start := time.Now()
	rej, err := c.GenerateRejection(context.Background(), RejectionRequest{Language: "en"})
	if err != nil {
		t.Fatalf("GenerateRejection: %v", err)
	}
	if rej.Message != "done" {
		t.Errorf("message = %q", rej.Message)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("retry delay not clamped: %v", elapsed)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(Health{Status: "ok", Model: "intake-v2"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	health, err := c.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if health.Status != "ok" || health.Model != "intake-v2" {
		t.Errorf("health = %+v", health)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"0", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

package summary

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCompleteSuccess(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected x-api-key header, got %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("Expected anthropic-version %s, got %q", anthropicVersion, r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"## Summary\n"},{"type":"tool_use"},{"type":"text","text":"Shipped it."}]}`))
	}))
	defer srv.Close()

	client, err := NewAnthropicClient(Config{APIKey: "test-key", Endpoint: srv.URL}, testLogger())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	text, err := client.Complete(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "## Summary\nShipped it." {
		t.Errorf("Expected concatenated text blocks, got %q", text)
	}
	if got.Model != defaultModel || got.System != "system" || len(got.Messages) != 1 || got.Messages[0].Content != "user" {
		t.Errorf("Unexpected request body: %+v", got)
	}
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	client, _ := NewAnthropicClient(Config{APIKey: "k", Endpoint: srv.URL, MaxRetries: 2, Timeout: 5 * time.Second}, testLogger())
	text, err := client.Complete(context.Background(), "", "hi")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "ok" || calls.Load() != 2 {
		t.Errorf("Expected success on second call, got %q after %d calls", text, calls.Load())
	}
}

func TestCompleteClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client, _ := NewAnthropicClient(Config{APIKey: "k", Endpoint: srv.URL, MaxRetries: 3}, testLogger())
	if _, err := client.Complete(context.Background(), "", "hi"); err == nil {
		t.Error("Expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestCompleteEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	client, _ := NewAnthropicClient(Config{APIKey: "k", Endpoint: srv.URL}, testLogger())
	if _, err := client.Complete(context.Background(), "", "hi"); err == nil {
		t.Error("Expected error for empty response")
	}
}

func TestNewAnthropicClientRequiresKey(t *testing.T) {
	if _, err := NewAnthropicClient(Config{}, testLogger()); err == nil {
		t.Error("Expected error for missing API key")
	}
}

func TestBuildUserPrompt(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	prompt := BuildUserPrompt(MeetingContext{
		StartedBy: "alice",
		StartedAt: start,
		EndedAt:   start.Add(42 * time.Minute),
	}, "alice: hello")

	for _, want := range []string{"2026-03-02T10:00:00Z", "42m0s", "Started by: alice", "alice: hello"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Expected prompt to contain %q, got:\n%s", want, prompt)
		}
	}
	if !strings.HasSuffix(prompt, "alice: hello") {
		t.Errorf("Expected transcript at the end of the prompt, got:\n%s", prompt)
	}
}

func TestFailedPlaceholder(t *testing.T) {
	got := FailedPlaceholder("hello\nworld")
	if !strings.Contains(got, "Summary generation failed") || !strings.HasSuffix(got, "hello\nworld") {
		t.Errorf("Expected failure banner with transcript, got %q", got)
	}
	if empty := FailedPlaceholder("  "); !strings.Contains(empty, "No speech was captured") {
		t.Errorf("Expected no-speech note for empty transcript, got %q", empty)
	}
}

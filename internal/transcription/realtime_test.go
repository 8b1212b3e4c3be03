package transcription

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/meeting-scribe/internal/transcription/transcriptiontest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *updateRecorder) add(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *updateRecorder) snapshot() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func newTestClient(t *testing.T, rec *transcriptiontest.Recognizer, onUpdate func(Update)) *RealtimeClient {
	t.Helper()
	srv := transcriptiontest.NewServer(rec)
	t.Cleanup(srv.Close)

	return NewRealtimeClient(RealtimeConfig{
		APIKey:         "secret",
		TokenURL:       srv.URL + transcriptiontest.TokenPath,
		URL:            transcriptiontest.RealtimeURL(srv),
		SampleRate:     16000,
		StartupTimeout: 500 * time.Millisecond,
		FlushInterval:  10 * time.Millisecond,
		CloseTimeout:   200 * time.Millisecond,
	}, onUpdate, testLogger(), nil)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestRealtimeConnectAndStream(t *testing.T) {
	rec := &transcriptiontest.Recognizer{
		APIKey: "secret",
		OnChunk: func(c transcriptiontest.Chunk) []map[string]any {
			if c.Commit {
				return []map[string]any{{"message_type": "committed_transcript", "text": "hello world"}}
			}
			return []map[string]any{
				{"message_type": "partial_transcript", "text": "hel"},
				{"message_type": "partial_transcript", "text": "   "},
				{"message_type": "session_time_limit_exceeded", "text": "ignored"},
			}
		},
	}
	updates := &updateRecorder{}
	client := newTestClient(t, rec, updates.add)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if state, _ := client.State(); state != StateConnected {
		t.Fatalf("Expected connected state, got %s", state)
	}

	q := rec.Queries()[0]
	if q.Get("audio_format") != "pcm_16000" || q.Get("commit_strategy") != "vad" || q.Get("model_id") == "" {
		t.Errorf("Unexpected realtime query: %v", q)
	}

	if !client.Enqueue([]byte{1, 0, 2, 0}) {
		t.Fatal("Expected Enqueue to accept audio while connected")
	}
	waitFor(t, time.Second, func() bool { return len(updates.snapshot()) >= 1 })

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if client.Enqueue([]byte{1, 0}) {
		t.Error("Expected Enqueue to reject audio after Close")
	}
	if state, _ := client.State(); state != StateDisconnected {
		t.Errorf("Expected disconnected state after close, got %s", state)
	}

	chunks := rec.Chunks()
	if len(chunks) < 2 {
		t.Fatalf("Expected at least 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks[:len(chunks)-1] {
		if c.Commit {
			t.Errorf("Chunk %d: commit set before final flush", i)
		}
	}
	if !chunks[len(chunks)-1].Commit {
		t.Error("Expected final chunk to carry commit=true")
	}
	if chunks[0].SampleRate != 16000 || len(chunks[0].Audio) != 4 {
		t.Errorf("Unexpected first chunk: rate %d, %d bytes", chunks[0].SampleRate, len(chunks[0].Audio))
	}

	got := updates.snapshot()
	if got[0] != (Update{Text: "hel", Committed: false}) {
		t.Errorf("Expected partial update first, got %+v", got[0])
	}
	for _, u := range got {
		if u.Text == "ignored" || u.Text == "   " {
			t.Errorf("Unexpected update surfaced: %+v", u)
		}
	}
	if !rec.ClosedCleanly() {
		t.Error("Expected a normal close frame")
	}
}

func TestRealtimeErrorAfterStartupKeepsStreaming(t *testing.T) {
	var mu sync.Mutex
	replies := 0
	rec := &transcriptiontest.Recognizer{
		APIKey: "secret",
		OnChunk: func(c transcriptiontest.Chunk) []map[string]any {
			mu.Lock()
			defer mu.Unlock()
			replies++
			if replies == 1 {
				return []map[string]any{
					{"message_type": "error", "error": "overloaded"},
					{"message_type": "input_error", "error": "bad audio"},
				}
			}
			return []map[string]any{{"message_type": "committed_transcript", "text": "still here"}}
		},
	}
	updates := &updateRecorder{}
	client := newTestClient(t, rec, updates.add)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	client.Enqueue([]byte{1, 0})
	waitFor(t, time.Second, func() bool { return len(rec.Chunks()) >= 1 })
	// Let the error replies reach the read loop before sending more audio.
	time.Sleep(50 * time.Millisecond)

	if state, err := client.State(); state != StateConnected {
		t.Fatalf("Expected connected state after recognizer error, got %s (%v)", state, err)
	}

	client.Enqueue([]byte{2, 0})
	waitFor(t, time.Second, func() bool { return len(updates.snapshot()) >= 1 })

	got := updates.snapshot()
	if got[0] != (Update{Text: "still here", Committed: true}) {
		t.Errorf("Expected transcript after error, got %+v", got[0])
	}
	if state, _ := client.State(); state != StateConnected {
		t.Errorf("Expected connected state, got %s", state)
	}
}

func TestRealtimeStartupRejected(t *testing.T) {
	rec := &transcriptiontest.Recognizer{Startup: transcriptiontest.StartupReject}
	client := newTestClient(t, rec, nil)

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrRecognizerRejected) {
		t.Fatalf("Expected ErrRecognizerRejected, got %v", err)
	}
	state, cause := client.State()
	if state != StateFailed || cause == nil {
		t.Errorf("Expected failed state with cause, got %s / %v", state, cause)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close after failed connect should succeed, got %v", err)
	}
}

func TestRealtimeStartupTimeout(t *testing.T) {
	rec := &transcriptiontest.Recognizer{Startup: transcriptiontest.StartupSilent}
	client := newTestClient(t, rec, nil)

	start := time.Now()
	err := client.Connect(context.Background())
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("Expected ErrStartupTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Startup wait took too long: %v", elapsed)
	}
}

func TestRealtimeTokenRejected(t *testing.T) {
	rec := &transcriptiontest.Recognizer{APIKey: "other"}
	client := newTestClient(t, rec, nil)

	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("Expected connect to fail with a bad API key")
	}
	if got := rec.TokenRequests(); got != 1 {
		t.Errorf("Expected a single token request for a 401, got %d", got)
	}
}

func TestRealtimeCloseTimeoutBounded(t *testing.T) {
	rec := &transcriptiontest.Recognizer{HoldOnClose: 3 * time.Second}
	client := newTestClient(t, rec, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	start := time.Now()
	client.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Close should give up after the close timeout, took %v", elapsed)
	}
}

func TestRealtimeCloseIdempotent(t *testing.T) {
	rec := &transcriptiontest.Recognizer{}
	client := newTestClient(t, rec, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Close()
		}()
	}
	wg.Wait()

	commits := 0
	for _, c := range rec.Chunks() {
		if c.Commit {
			commits++
		}
	}
	if commits != 1 {
		t.Errorf("Expected exactly one commit, got %d", commits)
	}
	if err := client.Connect(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed on reconnect, got %v", err)
	}
}

func TestConnStateString(t *testing.T) {
	tests := map[ConnState]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateFailed:       "failed",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}

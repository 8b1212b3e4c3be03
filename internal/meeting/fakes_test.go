package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skypro1111/meeting-scribe/internal/audio"
	"github.com/skypro1111/meeting-scribe/internal/capture"
	"github.com/skypro1111/meeting-scribe/internal/notes"
	"github.com/skypro1111/meeting-scribe/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

type fakeConn struct {
	ready     chan struct{}
	failed    chan error
	destroyed atomic.Int32
}

func newFakeConn(ready bool) *fakeConn {
	c := &fakeConn{ready: make(chan struct{}), failed: make(chan error, 1)}
	if ready {
		close(c.ready)
	}
	return c
}

func (c *fakeConn) Ready() <-chan struct{} { return c.ready }
func (c *fakeConn) Failed() <-chan error   { return c.failed }
func (c *fakeConn) Destroy()               { c.destroyed.Add(1) }

func (c *fakeConn) SubscribeSpeaker(userID string) (capture.SpeakerStream, error) {
	return nil, errors.New("not supported")
}

func (c *fakeConn) OnSpeakingStart(fn func(string)) func() { return func() {} }

type fakeVoice struct {
	mu         sync.Mutex
	members    []Member
	joinErr    error
	neverReady bool
	conns      []*fakeConn
}

func (v *fakeVoice) JoinVoice(ctx context.Context, guildID, channelID string) (VoiceConnection, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.joinErr != nil {
		return nil, v.joinErr
	}
	c := newFakeConn(!v.neverReady)
	v.conns = append(v.conns, c)
	return c, nil
}

func (v *fakeVoice) VoiceMembers(guildID, channelID string) ([]Member, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Member(nil), v.members...), nil
}

func (v *fakeVoice) setMembers(members ...Member) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.members = members
}

func (v *fakeVoice) lastConn() *fakeConn {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.conns) == 0 {
		return nil
	}
	return v.conns[len(v.conns)-1]
}

type sentMessage struct {
	ChannelID string
	ID        string
	Text      string
}

type fakeMessenger struct {
	mu        sync.Mutex
	nextID    int
	sent      []sentMessage
	edits     []string
	deletes   []string
	missing   map[string]bool
	locked    []string
	archived  []string
	threadErr error
}

func (f *fakeMessenger) Send(ctx context.Context, channelID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("m%d", f.nextID)
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, ID: id, Text: text})
	return id, nil
}

func (f *fakeMessenger) Edit(ctx context.Context, channelID, messageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[messageID] {
		return ErrMessageNotFound
	}
	f.edits = append(f.edits, messageID+":"+text)
	return nil
}

func (f *fakeMessenger) Delete(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[messageID] {
		return ErrMessageNotFound
	}
	f.deletes = append(f.deletes, messageID)
	return nil
}

func (f *fakeMessenger) CreateThread(ctx context.Context, channelID, name string) (string, error) {
	if f.threadErr != nil {
		return "", f.threadErr
	}
	return "thread-" + channelID, nil
}

func (f *fakeMessenger) LockThread(ctx context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = append(f.locked, threadID)
	return nil
}

func (f *fakeMessenger) ArchiveThread(ctx context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, threadID)
	return nil
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Text
	}
	return out
}

func (f *fakeMessenger) lockCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.locked)
}

func (f *fakeMessenger) archivedThreads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.archived...)
}

func (f *fakeMessenger) posted(substr string) bool {
	for _, text := range f.texts() {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}

type fakeEngine struct {
	mu         sync.Mutex
	subscribed []string
	onUpdate   func(transcription.Update)
	path       string
	stopErr    error
	release    chan struct{}
	stopCalls  atomic.Int32
}

func (e *fakeEngine) SubscribeUser(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribed = append(e.subscribed, userID)
}

func (e *fakeEngine) Stop() (string, error) {
	e.stopCalls.Add(1)
	if e.release != nil {
		<-e.release
	}
	return e.path, e.stopErr
}

func (e *fakeEngine) users() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.subscribed...)
}

type fakeCaptures struct {
	mu      sync.Mutex
	engines []*fakeEngine
	err     error
	path    string
	release chan struct{}
}

func (f *fakeCaptures) factory(ctx context.Context, req CaptureRequest) (CaptureEngine, error) {
	if f.err != nil {
		return nil, f.err
	}
	e := &fakeEngine{onUpdate: req.OnUpdate, path: f.path, release: f.release}
	f.mu.Lock()
	f.engines = append(f.engines, e)
	f.mu.Unlock()
	return e, nil
}

func (f *fakeCaptures) last() *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[len(f.engines)-1]
}

type fakeDiarizer struct {
	result *transcription.DiarizedTranscript
	err    error
	calls  atomic.Int32
}

func (d *fakeDiarizer) Transcribe(ctx context.Context, path string) (*transcription.DiarizedTranscript, error) {
	d.calls.Add(1)
	return d.result, d.err
}

type fakeSummarizer struct {
	mu      sync.Mutex
	text    string
	err     error
	block   bool // wait for ctx to end instead of answering
	prompts []string
}

func (s *fakeSummarizer) Complete(ctx context.Context, system, user string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, user)
	block := s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.text, s.err
}

func (s *fakeSummarizer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

type fakeNotes struct {
	mu        sync.Mutex
	createErr error
	metas     []notes.EntryMetadata
	sections  [][]notes.Section
}

func (n *fakeNotes) CreateEntry(ctx context.Context, title string, meta notes.EntryMetadata) (notes.Entry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.createErr != nil {
		return notes.Entry{}, n.createErr
	}
	n.metas = append(n.metas, meta)
	return notes.Entry{ID: "page-1", URL: "https://notes.example/page-1"}, nil
}

func (n *fakeNotes) AppendSections(ctx context.Context, id string, sections []notes.Section) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sections = append(n.sections, sections)
	return nil
}

func (n *fakeNotes) reasons() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.metas {
		out = append(out, m.Reason)
	}
	return out
}

type harness struct {
	manager    *Manager
	voice      *fakeVoice
	messenger  *fakeMessenger
	captures   *fakeCaptures
	diarizer   *fakeDiarizer
	summarizer *fakeSummarizer
	notes      *fakeNotes
}

func newHarness(t *testing.T, mutate func(*Config, *harness)) *harness {
	t.Helper()
	h := &harness{
		voice:      &fakeVoice{},
		messenger:  &fakeMessenger{missing: map[string]bool{}},
		captures:   &fakeCaptures{},
		diarizer:   &fakeDiarizer{err: errors.New("diarization unavailable")},
		summarizer: &fakeSummarizer{text: "## Summary\nAll good."},
		notes:      &fakeNotes{},
	}
	cfg := Config{
		Enabled:           true,
		RecordingsDir:     t.TempDir(),
		VoiceReadyTimeout: time.Second,
		DraftDebounce:     10 * time.Millisecond,
		CommitBatchWindow: 10 * time.Millisecond,
		Credentials:       map[string]string{"ELEVENLABS_API_KEY": "k"},
	}
	if mutate != nil {
		mutate(&cfg, h)
	}

	m, err := NewManager(cfg, Deps{
		Voice:      h.voice,
		Messenger:  h.messenger,
		NewCapture: h.captures.factory,
		Diarizer:   h.diarizer,
		Summarizer: h.summarizer,
		Notes:      h.notes,
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	h.manager = m
	return h
}

// writeRecording writes a finalized WAV holding samples and returns its path.
func writeRecording(t *testing.T, samples []int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec.wav")
	rec, err := audio.CreateRecording(path, 48000)
	if err != nil {
		t.Fatalf("Failed to create recording: %v", err)
	}
	if len(samples) > 0 {
		if err := rec.WriteFrame(samples); err != nil {
			t.Fatalf("Failed to write recording: %v", err)
		}
	}
	if err := rec.Finalize(); err != nil {
		t.Fatalf("Failed to finalize recording: %v", err)
	}
	return path
}

func (h *harness) start(t *testing.T, guildID string) *Session {
	t.Helper()
	s, err := h.manager.StartMeeting(context.Background(), StartRequest{
		GuildID:        guildID,
		VoiceChannelID: "voice-" + guildID,
		TextChannelID:  "text-" + guildID,
		StartedBy:      "alice",
	})
	if err != nil {
		t.Fatalf("StartMeeting failed: %v", err)
	}
	return s
}

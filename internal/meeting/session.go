package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/meeting-scribe/internal/audio"
	"github.com/skypro1111/meeting-scribe/internal/fanout"
	"github.com/skypro1111/meeting-scribe/internal/textchunk"
	"github.com/skypro1111/meeting-scribe/internal/transcription"
)

const draftPrefix = "🎙️ "

// Session is one active meeting. It is the draft and committed sink for
// the fan-out consumers and owns every resource acquired for the meeting.
type Session struct {
	ID             string
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	ThreadID       string
	StartedBy      string
	StartedAt      time.Time

	conn          VoiceConnection
	engine        CaptureEngine
	recordingPath string
	broadcaster   *fanout.Broadcaster[transcription.Update]
	draft         *fanout.DraftConsumer

	consumersWG     sync.WaitGroup
	cancelConsumers context.CancelFunc
	done            chan struct{}
	doneOnce        sync.Once

	hadHuman  atomic.Bool
	ending    atomic.Bool
	autoEnded atomic.Bool

	messenger    Messenger
	messageLimit int
	logger       *slog.Logger

	// msgMu serializes thread writes and guards the fields below.
	msgMu          sync.Mutex
	draftMessageID string
	draftText      string
	committed      []string
}

// Transcript update subscribers of a session.
const (
	draftSubscriber     = "draft"
	committedSubscriber = "committed"
)

// SessionInfo describes a session for monitoring and APIs.
type SessionInfo struct {
	ID                string            `json:"id"`
	GuildID           string            `json:"guild_id"`
	VoiceChannelID    string            `json:"voice_channel_id"`
	TextChannelID     string            `json:"text_channel_id"`
	ThreadID          string            `json:"thread_id"`
	StartedBy         string            `json:"started_by"`
	StartedAt         time.Time         `json:"started_at"`
	Duration          time.Duration     `json:"duration"`
	HadHuman          bool              `json:"had_human"`
	Ending            bool              `json:"ending"`
	CommittedSegments int               `json:"committed_segments"`
	DroppedUpdates    map[string]uint64 `json:"dropped_updates,omitempty"`
	Mixer             *audio.MixerStats `json:"mixer,omitempty"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.msgMu.Lock()
	segments := len(s.committed)
	s.msgMu.Unlock()

	info := SessionInfo{
		ID:                s.ID,
		GuildID:           s.GuildID,
		VoiceChannelID:    s.VoiceChannelID,
		TextChannelID:     s.TextChannelID,
		ThreadID:          s.ThreadID,
		StartedBy:         s.StartedBy,
		StartedAt:         s.StartedAt,
		Duration:          time.Since(s.StartedAt),
		HadHuman:          s.hadHuman.Load(),
		Ending:            s.ending.Load(),
		CommittedSegments: segments,
	}
	if s.broadcaster != nil {
		info.DroppedUpdates = map[string]uint64{
			draftSubscriber:     s.broadcaster.Dropped(draftSubscriber),
			committedSubscriber: s.broadcaster.Dropped(committedSubscriber),
		}
	}
	if sp, ok := s.engine.(interface{ Stats() audio.MixerStats }); ok {
		stats := sp.Stats()
		info.Mixer = &stats
	}
	return info
}

// Committed returns the committed transcript segments received so far.
func (s *Session) Committed() []string {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	return append([]string(nil), s.committed...)
}

// RenderDraft shows text as the live draft, editing the existing draft
// message or sending a new one when there is none or it was deleted.
func (s *Session) RenderDraft(ctx context.Context, text string) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()

	content := draftPrefix + tail(text, s.messageLimit-len([]rune(draftPrefix)))
	if content == s.draftText {
		return nil
	}

	if s.draftMessageID != "" {
		err := s.messenger.Edit(ctx, s.ThreadID, s.draftMessageID, content)
		if err == nil {
			s.draftText = content
			return nil
		}
		if !errors.Is(err, ErrMessageNotFound) {
			return fmt.Errorf("failed to edit draft: %w", err)
		}
		s.draftMessageID = ""
	}

	id, err := s.messenger.Send(ctx, s.ThreadID, content)
	if err != nil {
		return fmt.Errorf("failed to send draft: %w", err)
	}
	s.draftMessageID = id
	s.draftText = content
	return nil
}

// ClearDraft deletes the live draft message, if any.
func (s *Session) ClearDraft(ctx context.Context) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()

	if s.draftMessageID == "" {
		return nil
	}
	id := s.draftMessageID
	s.draftMessageID = ""
	s.draftText = ""

	if err := s.messenger.Delete(ctx, s.ThreadID, id); err != nil && !errors.Is(err, ErrMessageNotFound) {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// AppendCommitted records texts and posts them to the thread in order.
// Segments are recorded even when posting fails.
func (s *Session) AppendCommitted(ctx context.Context, texts []string) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()

	s.committed = append(s.committed, texts...)

	for _, chunk := range textchunk.Split(strings.Join(texts, "\n"), s.messageLimit) {
		if _, err := s.messenger.Send(ctx, s.ThreadID, chunk); err != nil {
			return fmt.Errorf("failed to post committed transcript: %w", err)
		}
	}
	return nil
}

// post sends text to the thread in message-sized chunks, stopping at the
// first failure.
func (s *Session) post(ctx context.Context, text string) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()

	for _, chunk := range textchunk.Split(text, s.messageLimit) {
		if _, err := s.messenger.Send(ctx, s.ThreadID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// stopConsumers closes the transcript channel and waits for both consumers
// to drain it.
func (s *Session) stopConsumers() {
	s.broadcaster.Close()
	s.consumersWG.Wait()
	s.cancelConsumers()
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// tail returns the last n runes of text.
func tail(text string, n int) string {
	if n <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[len(r)-n:])
}

package meeting

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/skypro1111/meeting-scribe/internal/audio"
	"github.com/skypro1111/meeting-scribe/internal/notes"
	"github.com/skypro1111/meeting-scribe/internal/summary"
	"github.com/skypro1111/meeting-scribe/internal/transcription"
)

// Finalize stages, used for logging and metrics.
const (
	stageCapture     = "capture"
	stageDiarization = "diarization"
	stageSummary     = "summary"
	stageNotes       = "notes"
	stagePost        = "post"
	stageThread      = "thread"
)

const (
	incompleteBanner = "_Some meeting notes may be incomplete._"
	noSpeechNotice   = "_No speech was captured during this meeting._"
)

// finalize runs the end-of-meeting pipeline. Every stage is best effort:
// a failure is logged and recorded, and later stages still run.
func (m *Manager) finalize(ctx context.Context, s *Session, reason string) EndResult {
	ctx, cancel := detach(ctx)
	defer cancel()
	endedAt := time.Now()
	logger := s.logger.With(slog.String("reason", reason))
	logger.Info("Finalizing meeting", slog.Duration("duration", endedAt.Sub(s.StartedAt)))

	var degraded []string
	fail := func(stage string, err error) {
		degraded = append(degraded, stage)
		m.metrics.RecordFinalizeStageFailure(stage)
		logger.Error("Finalize stage failed",
			slog.String("stage", stage),
			slog.String("error", err.Error()))
	}

	s.closeDone()

	path, err := s.engine.Stop()
	if err != nil {
		fail(stageCapture, err)
	}
	s.stopConsumers()
	if err := s.ClearDraft(ctx); err != nil {
		logger.Warn("Failed to clear draft", slog.String("error", err.Error()))
	}
	s.conn.Destroy()

	diarized := m.diarize(ctx, path, logger, fail)
	transcript := transcription.FinalTranscript(diarized, s.Committed())

	notesText, summarized := m.summarize(ctx, s, transcript, endedAt, fail)

	pageURL := m.persist(ctx, s, reason, endedAt, notesText, transcript, fail)

	if err := s.post(ctx, renderResults(notesText, summarized, transcript, pageURL)); err != nil {
		fail(stagePost, err)
	}
	if len(degraded) > 0 {
		if err := s.post(ctx, incompleteBanner); err != nil {
			logger.Warn("Failed to post incomplete notice", slog.String("error", err.Error()))
		}
	}

	m.closeThread(ctx, s, logger)
	m.removeRecording(s, path)
	m.metrics.RecordMeetingEnded(reason, endedAt.Sub(s.StartedAt))

	logger.Info("Meeting finalized",
		slog.Int("transcript_chars", len(transcript)),
		slog.Bool("summarized", summarized),
		slog.String("page_url", pageURL),
		slog.String("degraded_stages", strings.Join(degraded, ",")),
	)

	return EndResult{
		ChannelID:       s.TextChannelID,
		ThreadID:        s.ThreadID,
		ExternalPageURL: pageURL,
		Reason:          reason,
	}
}

// detach drops the caller's cancellation so finalization is not cut short
// when an API request or voice event goes away, but keeps its deadline.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, deadline)
	}
	return base, func() {}
}

// diarize runs batch diarization on the finished recording. A recording
// whose header reports no audio is skipped; nil means use the live transcript.
func (m *Manager) diarize(ctx context.Context, path string, logger *slog.Logger, fail func(string, error)) *transcription.DiarizedTranscript {
	if path == "" || m.deps.Diarizer == nil {
		return nil
	}

	info, err := audio.ReadRecordingInfo(path)
	if err != nil {
		fail(stageDiarization, fmt.Errorf("unreadable recording: %w", err))
		return nil
	}
	if info.DataSize == 0 {
		logger.Info("Recording holds no audio, skipping diarization", slog.String("path", path))
		return nil
	}

	diarized, err := m.deps.Diarizer.Transcribe(ctx, path)
	if err != nil {
		fail(stageDiarization, err)
		return nil
	}
	return diarized
}

// summarize returns the meeting notes and whether they came from the
// summarizer. On failure the notes are a placeholder carrying the transcript.
func (m *Manager) summarize(ctx context.Context, s *Session, transcript string, endedAt time.Time, fail func(string, error)) (string, bool) {
	if strings.TrimSpace(transcript) == "" {
		return noSpeechNotice, false
	}
	if m.deps.Summarizer == nil {
		fail(stageSummary, fmt.Errorf("no summarizer configured"))
		return summary.FailedPlaceholder(transcript), false
	}

	system := m.cfg.SystemPrompt
	if system == "" {
		system = summary.DefaultSystemPrompt
	}
	prompt := summary.BuildUserPrompt(summary.MeetingContext{
		StartedBy: s.StartedBy,
		StartedAt: s.StartedAt,
		EndedAt:   endedAt,
	}, transcript)

	text, err := m.deps.Summarizer.Complete(ctx, system, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty summary")
	}
	if err != nil {
		fail(stageSummary, err)
		return summary.FailedPlaceholder(transcript), false
	}
	return strings.TrimSpace(text), true
}

// persist stores the notes externally and returns the page URL, or "" when
// persistence is disabled or failed to create the page.
func (m *Manager) persist(ctx context.Context, s *Session, reason string, endedAt time.Time, notesText, transcript string, fail func(string, error)) string {
	if m.deps.Notes == nil {
		return ""
	}

	title := "Meeting " + s.StartedAt.UTC().Format("2006-01-02 15:04 UTC")
	entry, err := m.deps.Notes.CreateEntry(ctx, title, notes.EntryMetadata{
		GuildID:   s.GuildID,
		ChannelID: s.VoiceChannelID,
		StartedBy: s.StartedBy,
		StartedAt: s.StartedAt,
		EndedAt:   endedAt,
		Reason:    reason,
	})
	if err != nil {
		fail(stageNotes, err)
		return ""
	}

	sections := []notes.Section{{Heading: "Notes", Content: notesText}}
	if transcript != "" {
		sections = append(sections, notes.Section{Heading: "Transcript", Content: transcript})
	}
	if err := m.deps.Notes.AppendSections(ctx, entry.ID, sections); err != nil {
		fail(stageNotes, err)
	}
	return entry.URL
}

// renderResults builds the closing thread post. When summarization failed
// the placeholder already carries the transcript, so it is not repeated.
func renderResults(notesText string, summarized bool, transcript, pageURL string) string {
	var sb strings.Builder
	sb.WriteString("**Meeting notes**\n")
	if pageURL != "" {
		sb.WriteString(pageURL)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(notesText)
	if summarized && transcript != "" {
		sb.WriteString("\n\n**Transcript**\n")
		sb.WriteString(transcript)
	}
	return sb.String()
}

// closeThread locks and archives the meeting thread. Nothing is done when
// the meeting fell back to posting in the text channel itself.
func (m *Manager) closeThread(ctx context.Context, s *Session, logger *slog.Logger) {
	if s.ThreadID == "" || s.ThreadID == s.TextChannelID {
		return
	}
	if err := m.deps.Messenger.LockThread(ctx, s.ThreadID); err != nil {
		m.metrics.RecordFinalizeStageFailure(stageThread)
		logger.Warn("Failed to lock thread", slog.String("error", err.Error()))
	}
	if err := m.deps.Messenger.ArchiveThread(ctx, s.ThreadID); err != nil {
		m.metrics.RecordFinalizeStageFailure(stageThread)
		logger.Warn("Failed to archive thread", slog.String("error", err.Error()))
	}
}

func (m *Manager) removeRecording(s *Session, path string) {
	if path == "" || m.cfg.KeepRecordings {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove recording",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

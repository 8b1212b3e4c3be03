package meeting

import (
	"context"

	"github.com/skypro1111/meeting-scribe/internal/capture"
	"github.com/skypro1111/meeting-scribe/internal/notes"
	"github.com/skypro1111/meeting-scribe/internal/transcription"
)

// VoiceConnection is a joined voice channel.
type VoiceConnection interface {
	capture.VoiceSource
	// Ready is closed once audio can be received.
	Ready() <-chan struct{}
	// Failed delivers an error, or is closed, when the transport fails or is
	// torn down without Destroy being called.
	Failed() <-chan error
	Destroy()
}

// Member is a user present in a voice channel.
type Member struct {
	UserID string
	Bot    bool
}

// VoiceTransport joins voice channels and lists their members.
type VoiceTransport interface {
	JoinVoice(ctx context.Context, guildID, channelID string) (VoiceConnection, error)
	VoiceMembers(guildID, channelID string) ([]Member, error)
}

// Messenger writes to text channels and threads. Edit and Delete return
// ErrMessageNotFound when the target message is gone.
type Messenger interface {
	Send(ctx context.Context, channelID, text string) (string, error)
	Edit(ctx context.Context, channelID, messageID, text string) error
	Delete(ctx context.Context, channelID, messageID string) error
	CreateThread(ctx context.Context, channelID, name string) (string, error)
	LockThread(ctx context.Context, threadID string) error
	ArchiveThread(ctx context.Context, threadID string) error
}

// CaptureEngine is a running capture of one meeting.
type CaptureEngine interface {
	SubscribeUser(userID string)
	// Stop ends capture and returns the finalized recording path.
	Stop() (string, error)
}

// CaptureRequest describes the capture to start for a session.
type CaptureRequest struct {
	SessionID     string
	RecordingPath string
	Conn          VoiceConnection
	OnUpdate      func(transcription.Update)
}

// CaptureFactory starts capture for a session.
type CaptureFactory func(ctx context.Context, req CaptureRequest) (CaptureEngine, error)

// Diarizer produces a speaker-attributed transcript from a recording.
type Diarizer interface {
	Transcribe(ctx context.Context, audioPath string) (*transcription.DiarizedTranscript, error)
}

// Summarizer completes a prompt.
type Summarizer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// NotesStore persists meeting notes outside the chat platform.
type NotesStore interface {
	CreateEntry(ctx context.Context, title string, meta notes.EntryMetadata) (notes.Entry, error)
	AppendSections(ctx context.Context, id string, sections []notes.Section) error
}

package meeting

import "errors"

var (
	// ErrFeatureDisabled is returned when meeting transcription is turned off.
	ErrFeatureDisabled = errors.New("meeting transcription is disabled")
	// ErrMissingCredentials is returned when a required API key is not configured.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrMeetingAlreadyActive is returned when the guild already has a meeting.
	ErrMeetingAlreadyActive = errors.New("a meeting is already active in this guild")
	// ErrVoiceJoinFailed is returned when the voice channel could not be joined in time.
	ErrVoiceJoinFailed = errors.New("failed to join voice channel")
	// ErrTranscriberStart is returned when audio capture could not be started.
	ErrTranscriberStart = errors.New("failed to start transcriber")
	// ErrNoActiveMeeting is returned when ending a guild with no meeting.
	ErrNoActiveMeeting = errors.New("no active meeting")
	// ErrShuttingDown is returned by StartMeeting after ShutdownAll.
	ErrShuttingDown = errors.New("meeting manager is shutting down")
	// ErrMessageNotFound is returned by a Messenger when the message to edit
	// or delete no longer exists.
	ErrMessageNotFound = errors.New("message not found")
)

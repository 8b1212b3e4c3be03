// Package transcription talks to the external speech recognizer. It streams
// mixed meeting audio over a realtime socket, fetches the short-lived tokens
// that socket needs, and runs the post-meeting batch diarization request that
// produces the speaker-attributed final transcript.
package transcription

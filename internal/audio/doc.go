// Package audio handles per-speaker PCM buffering, frame mixing, Opus decoding,
// resampling, and the streamed WAV recording written during a meeting.
package audio

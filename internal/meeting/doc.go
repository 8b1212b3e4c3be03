// Package meeting runs meeting sessions: one per guild, from voice join
// through live transcription to the finalize pipeline that posts the
// transcript and notes.
package meeting

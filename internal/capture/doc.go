// Package capture binds a voice connection's per-speaker audio streams to
// the frame mixer, the meeting recording, and the realtime recognizer.
package capture

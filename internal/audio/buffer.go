package audio

import "time"

// ParticipantBuffer holds one speaker's mono audio split into fixed-size
// frames plus the sub-frame residue waiting for more samples. It is not safe
// for concurrent use; the owning Mixer serializes access.
type ParticipantBuffer struct {
	speakerID string
	frameSize int

	frames  [][]int16
	residue []int16
	active  bool

	samplesIn    uint64
	framesQueued uint64
	framesMixed  uint64
	lastActivity time.Time
}

// ParticipantStats is a snapshot of a ParticipantBuffer.
type ParticipantStats struct {
	SpeakerID      string    `json:"speaker_id"`
	Active         bool      `json:"active"`
	QueuedFrames   int       `json:"queued_frames"`
	ResidueSamples int       `json:"residue_samples"`
	SamplesIn      uint64    `json:"samples_in"`
	FramesQueued   uint64    `json:"frames_queued"`
	FramesMixed    uint64    `json:"frames_mixed"`
	LastActivity   time.Time `json:"last_activity"`
}

func newParticipantBuffer(speakerID string, frameSize int) *ParticipantBuffer {
	return &ParticipantBuffer{
		speakerID:    speakerID,
		frameSize:    frameSize,
		active:       true,
		lastActivity: time.Now(),
	}
}

// append splits samples into whole frames, carrying the remainder forward.
func (b *ParticipantBuffer) append(samples []int16) {
	b.samplesIn += uint64(len(samples))
	b.lastActivity = time.Now()

	pending := samples
	if len(b.residue) > 0 {
		pending = append(b.residue, samples...)
		b.residue = nil
	}

	for len(pending) >= b.frameSize {
		frame := make([]int16, b.frameSize)
		copy(frame, pending[:b.frameSize])
		b.frames = append(b.frames, frame)
		b.framesQueued++
		pending = pending[b.frameSize:]
	}

	if len(pending) > 0 {
		b.residue = append([]int16(nil), pending...)
	}
}

func (b *ParticipantBuffer) pop() ([]int16, bool) {
	if len(b.frames) == 0 {
		return nil, false
	}
	frame := b.frames[0]
	b.frames[0] = nil
	b.frames = b.frames[1:]
	b.framesMixed++
	return frame, true
}

// flushResidue zero-pads the residue into one last frame. The residue is
// consumed, so repeated calls queue at most one padded frame.
func (b *ParticipantBuffer) flushResidue() {
	if len(b.residue) == 0 {
		return
	}
	frame := make([]int16, b.frameSize)
	copy(frame, b.residue)
	b.frames = append(b.frames, frame)
	b.framesQueued++
	b.residue = nil
}

func (b *ParticipantBuffer) drained() bool {
	return !b.active && len(b.frames) == 0 && len(b.residue) == 0
}

// Stats returns a snapshot of the buffer counters.
func (b *ParticipantBuffer) Stats() ParticipantStats {
	return ParticipantStats{
		SpeakerID:      b.speakerID,
		Active:         b.active,
		QueuedFrames:   len(b.frames),
		ResidueSamples: len(b.residue),
		SamplesIn:      b.samplesIn,
		FramesQueued:   b.framesQueued,
		FramesMixed:    b.framesMixed,
		LastActivity:   b.lastActivity,
	}
}

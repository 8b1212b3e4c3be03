package audio

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Mixer merges independently arriving speaker streams into one mono stream
// of fixed-size frames. Writers never block each other beyond the short
// critical section that appends to their own buffer.
type Mixer struct {
	mu        sync.Mutex
	frameSize int
	buffers   map[string]*ParticipantBuffer

	ticks      uint64
	emitted    uint64
	suppressed uint64
}

// MixerStats summarizes mixer activity.
type MixerStats struct {
	FrameSize        int                `json:"frame_size"`
	Ticks            uint64             `json:"ticks"`
	FramesEmitted    uint64             `json:"frames_emitted"`
	SilentSuppressed uint64             `json:"silent_ticks_suppressed"`
	Speakers         []ParticipantStats `json:"speakers"`
}

// NewMixer creates a mixer producing frames of frameSize samples.
func NewMixer(frameSize int) *Mixer {
	return &Mixer{
		frameSize: frameSize,
		buffers:   make(map[string]*ParticipantBuffer),
	}
}

// FrameSize returns the number of samples per emitted frame.
func (m *Mixer) FrameSize() int {
	return m.frameSize
}

// Ensure creates an active buffer for the speaker, or reactivates an
// existing one whose stream had ended.
func (m *Mixer) Ensure(speakerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLocked(speakerID)
}

func (m *Mixer) ensureLocked(speakerID string) *ParticipantBuffer {
	b, ok := m.buffers[speakerID]
	if !ok {
		b = newParticipantBuffer(speakerID, m.frameSize)
		m.buffers[speakerID] = b
	}
	b.active = true
	return b
}

// Write appends mono samples for a speaker.
func (m *Mixer) Write(speakerID string, mono []int16) {
	if len(mono) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLocked(speakerID).append(mono)
}

// Deactivate marks a speaker inactive and zero-pads its residue into a final
// frame. The buffer is removed once its queued frames have been mixed.
func (m *Mixer) Deactivate(speakerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buffers[speakerID]
	if !ok || !b.active {
		return
	}
	b.active = false
	b.flushResidue()
	if b.drained() {
		delete(m.buffers, speakerID)
	}
}

// DeactivateAll deactivates every speaker.
func (m *Mixer) DeactivateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, b := range m.buffers {
		if b.active {
			b.active = false
			b.flushResidue()
		}
		if b.drained() {
			delete(m.buffers, id)
		}
	}
}

// Tick pops at most one frame from each speaker and mixes them. It reports
// false when no speaker had a frame ready; silent ticks produce no output.
func (m *Mixer) Tick() ([]int16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickLocked()
}

func (m *Mixer) tickLocked() ([]int16, bool) {
	m.ticks++

	var frames [][]int16
	for id, b := range m.buffers {
		if frame, ok := b.pop(); ok {
			frames = append(frames, frame)
		}
		if b.drained() {
			delete(m.buffers, id)
		}
	}

	if len(frames) == 0 {
		m.suppressed++
		return nil, false
	}
	m.emitted++
	return MixFrames(m.frameSize, frames...), true
}

// Drain mixes until every queued frame has been consumed and returns the
// resulting frames in order. Residue of still-active speakers stays buffered.
func (m *Mixer) Drain() [][]int16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]int16
	for {
		frame, ok := m.tickLocked()
		if !ok {
			return out
		}
		out = append(out, frame)
	}
}

// Run ticks every interval and passes emitted frames to emit until ctx is done.
func (m *Mixer) Run(ctx context.Context, interval time.Duration, emit func([]int16)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if frame, ok := m.Tick(); ok {
				emit(frame)
			}
		}
	}
}

// Speakers returns the number of buffered speakers.
func (m *Mixer) Speakers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}

// Stats returns a snapshot of mixer counters, speakers sorted by id.
func (m *Mixer) Stats() MixerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MixerStats{
		FrameSize:        m.frameSize,
		Ticks:            m.ticks,
		FramesEmitted:    m.emitted,
		SilentSuppressed: m.suppressed,
		Speakers:         make([]ParticipantStats, 0, len(m.buffers)),
	}
	for _, b := range m.buffers {
		stats.Speakers = append(stats.Speakers, b.Stats())
	}
	sort.Slice(stats.Speakers, func(i, j int) bool {
		return stats.Speakers[i].SpeakerID < stats.Speakers[j].SpeakerID
	})
	return stats
}

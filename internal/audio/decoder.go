package audio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrameSamples is the largest Opus frame (120ms) at 48kHz, per channel.
const maxOpusFrameSamples = 5760

// Decoder turns one transport packet into interleaved PCM samples.
type Decoder interface {
	Decode(packet []byte) ([]int16, error)
}

// OpusDecoder decodes Opus packets into interleaved PCM-16.
type OpusDecoder struct {
	dec      *opus.Decoder
	channels int
	pcm      []int16
}

// NewOpusDecoder creates a decoder for the given output rate and channel count.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:      dec,
		channels: channels,
		pcm:      make([]int16, maxOpusFrameSamples*channels),
	}, nil
}

// Decode returns a fresh slice holding the decoded interleaved samples.
func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	out := make([]int16, n*d.channels)
	copy(out, d.pcm[:n*d.channels])
	return out, nil
}

// Channels returns the number of interleaved output channels.
func (d *OpusDecoder) Channels() int {
	return d.channels
}

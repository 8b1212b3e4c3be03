package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// WAVHeaderSize is the size of the canonical PCM header written before sample data.
	WAVHeaderSize = 44

	riffSizeOffset = 4
	dataSizeOffset = 40
	bitsPerSample  = 16
)

// WAVHeader is the canonical 44-byte RIFF/WAVE header for mono 16-bit PCM.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

func newWAVHeader(sampleRate int, dataSize uint32) WAVHeader {
	const channels = 1
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * channels * bitsPerSample / 8,
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

func readWAVHeader(data []byte) (WAVHeader, error) {
	var header WAVHeader
	if len(data) < WAVHeaderSize {
		return header, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}
	if err := binary.Read(bytes.NewReader(data[:WAVHeaderSize]), binary.LittleEndian, &header); err != nil {
		return header, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return header, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return header, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(header.Subchunk1ID[:]) != "fmt ":
		return header, fmt.Errorf("invalid WAV file: missing fmt chunk")
	case string(header.Subchunk2ID[:]) != "data":
		return header, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	return header, nil
}

// WAVInfo summarizes a WAV file header.
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	RIFFSize      uint32  `json:"riff_size_bytes"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV header.
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	header, err := readWAVHeader(data)
	if err != nil {
		return nil, err
	}
	if header.SampleRate == 0 || header.BitsPerSample == 0 || header.NumChannels == 0 {
		return nil, fmt.Errorf("invalid WAV header: zero sample rate, bit depth or channel count")
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8) / uint32(header.NumChannels)
	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		RIFFSize:      header.ChunkSize,
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}

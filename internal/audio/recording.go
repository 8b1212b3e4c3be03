package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrRecordingFinalized is returned when writing to a recording after Finalize.
var ErrRecordingFinalized = errors.New("recording already finalized")

// Recording is a mono 16-bit WAV file written incrementally. The header is
// written with a zero data length on creation and patched by Finalize.
type Recording struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	sampleRate int
	dataBytes  uint32
	finalized  bool
}

// CreateRecording creates the file at path (and its parent directories) and
// writes a placeholder header.
func CreateRecording(path string, sampleRate int) (*Recording, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording %s: %w", path, err)
	}
	if err := binary.Write(file, binary.LittleEndian, newWAVHeader(sampleRate, 0)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write placeholder header: %w", err)
	}

	return &Recording{path: path, file: file, sampleRate: sampleRate}, nil
}

// WriteFrame appends samples to the data chunk.
func (r *Recording) WriteFrame(samples []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return ErrRecordingFinalized
	}

	n, err := r.file.Write(SamplesToBytes(samples))
	r.dataBytes += uint32(n)
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Finalize patches the RIFF and data sizes and closes the file. Calling it
// more than once is a no-op.
func (r *Recording) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return nil
	}
	r.finalized = true

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], 36+r.dataBytes)
	if _, err := r.file.WriteAt(size[:], riffSizeOffset); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to patch RIFF size: %w", err)
	}
	binary.LittleEndian.PutUint32(size[:], r.dataBytes)
	if _, err := r.file.WriteAt(size[:], dataSizeOffset); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to patch data size: %w", err)
	}

	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to sync recording: %w", err)
	}
	return r.file.Close()
}

// Abort closes and removes the recording without finalizing it.
func (r *Recording) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.finalized {
		r.finalized = true
		r.file.Close()
	}
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Path returns the file path of the recording.
func (r *Recording) Path() string {
	return r.path
}

// DataBytes returns the number of sample bytes written so far.
func (r *Recording) DataBytes() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dataBytes
}

// SampleRate returns the recording sample rate.
func (r *Recording) SampleRate() int {
	return r.sampleRate
}

// ReadRecordingInfo reads only the header of a finalized recording file.
func ReadRecordingInfo(path string) (*WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, WAVHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("failed to read recording header: %w", err)
	}
	return GetWAVInfo(bytes.Clone(header))
}

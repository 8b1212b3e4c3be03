package audio

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/zaf/resample"
)

// Resampler converts mono PCM-16 between sample rates and returns the
// converted audio as little-endian bytes. Equal rates pass through.
type Resampler struct {
	mu     sync.Mutex
	soxr   *resample.Resampler
	out    *bytes.Buffer
	closed bool
}

// NewResampler creates a mono resampler from inRate to outRate.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", inRate, outRate)
	}

	r := &Resampler{out: new(bytes.Buffer)}
	if inRate == outRate {
		return r, nil
	}

	soxr, err := resample.New(r.out, float64(inRate), float64(outRate), 1, resample.I16, resample.HighQ)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	r.soxr = soxr
	return r, nil
}

// Process converts one block of samples. The resampler keeps internal state
// between calls, so the output length can differ from the exact rate ratio.
func (r *Resampler) Process(samples []int16) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("resampler closed")
	}
	in := SamplesToBytes(samples)
	if r.soxr == nil {
		return in, nil
	}

	if _, err := r.soxr.Write(in); err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	return r.takeLocked(), nil
}

// Flush drains any samples held by the resampler and releases it.
func (r *Resampler) Flush() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, nil
	}
	r.closed = true
	if r.soxr == nil {
		return nil, nil
	}
	if err := r.soxr.Close(); err != nil {
		return nil, fmt.Errorf("resampler flush: %w", err)
	}
	return r.takeLocked(), nil
}

func (r *Resampler) takeLocked() []byte {
	if r.out.Len() == 0 {
		return nil
	}
	b := bytes.Clone(r.out.Bytes())
	r.out.Reset()
	return b
}

package audio

import "testing"

func TestDownmixStereo(t *testing.T) {
	tests := []struct {
		name string
		in   []int16
		want []int16
	}{
		{"equal channels", []int16{100, 100, -50, -50}, []int16{100, -50}},
		{"rounds half up", []int16{1, 2}, []int16{2}},
		{"rounds half away from zero", []int16{-1, -2}, []int16{-2}},
		{"extremes", []int16{32767, 32767, -32768, -32768}, []int16{32767, -32768}},
		{"odd trailing sample dropped", []int16{10, 20, 30}, []int16{15}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DownmixStereo(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d samples, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Sample %d: expected %d, got %d", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestSampleByteConversion(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	b := SamplesToBytes(samples)
	if len(b) != 10 {
		t.Fatalf("Expected 10 bytes, got %d", len(b))
	}
	if b[2] != 0x01 || b[3] != 0x00 {
		t.Errorf("Expected little-endian encoding of 1, got %x %x", b[2], b[3])
	}

	back := BytesToSamples(append(b, 0xff))
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], back[i])
		}
	}
}

func TestResamplerPassthrough(t *testing.T) {
	r, err := NewResampler(16000, 16000)
	if err != nil {
		t.Fatalf("NewResampler failed: %v", err)
	}
	out, err := r.Process([]int16{1, 2, 3})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(out) != 6 {
		t.Errorf("Expected 6 bytes, got %d", len(out))
	}
	if rest, err := r.Flush(); err != nil || len(rest) != 0 {
		t.Errorf("Expected empty flush, got %d bytes, err %v", len(rest), err)
	}
	if _, err := r.Process([]int16{1}); err == nil {
		t.Error("Expected error after flush")
	}
}

func TestResamplerDownsample(t *testing.T) {
	r, err := NewResampler(48000, 16000)
	if err != nil {
		t.Skipf("resampler backend unavailable: %v", err)
	}

	var total int
	for i := 0; i < 50; i++ {
		out, err := r.Process(filled(960, 1000))
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		total += len(out)
	}
	rest, err := r.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	total += len(rest)

	// 1s of 48kHz input should give roughly 16000 samples of output.
	samples := total / 2
	if samples < 15000 || samples > 17000 {
		t.Errorf("Expected about 16000 output samples, got %d", samples)
	}
}

package audio

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func filled(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestMixFramesSaturates(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	values := []int16{math.MaxInt16, math.MinInt16, 0, 1, -1, 20000, -20000}

	for i := 0; i < 2000; i++ {
		a := values[rng.Intn(len(values))]
		b := int16(rng.Intn(math.MaxUint16) + math.MinInt16)
		out := MixFrames(1, []int16{a}, []int16{b})

		want := int32(a) + int32(b)
		if want > math.MaxInt16 {
			want = math.MaxInt16
		}
		if want < math.MinInt16 {
			want = math.MinInt16
		}
		if int32(out[0]) != want {
			t.Fatalf("mix(%d, %d): expected %d, got %d", a, b, want, out[0])
		}
	}
}

func TestMixerTickSilentSuppressed(t *testing.T) {
	m := NewMixer(4)
	if _, ok := m.Tick(); ok {
		t.Error("Expected no frame with zero speakers")
	}

	m.Ensure("alice")
	if _, ok := m.Tick(); ok {
		t.Error("Expected no frame when no speaker has a full frame")
	}

	stats := m.Stats()
	if stats.FramesEmitted != 0 {
		t.Errorf("Expected 0 emitted frames, got %d", stats.FramesEmitted)
	}
	if stats.SilentSuppressed != 2 {
		t.Errorf("Expected 2 suppressed ticks, got %d", stats.SilentSuppressed)
	}
}

func TestMixerTwoSpeakersSaturate(t *testing.T) {
	m := NewMixer(4)
	m.Write("alice", filled(4, 30000))
	m.Write("bob", filled(4, 30000))

	frame, ok := m.Tick()
	if !ok {
		t.Fatal("Expected a mixed frame")
	}
	for i, s := range frame {
		if s != math.MaxInt16 {
			t.Errorf("Sample %d: expected %d, got %d", i, math.MaxInt16, s)
		}
	}
}

func TestMixerMissingSpeakerContributesSilence(t *testing.T) {
	m := NewMixer(2)
	m.Write("alice", []int16{5, 6, 7, 8})
	m.Write("bob", []int16{100, 100})

	first, _ := m.Tick()
	if first[0] != 105 || first[1] != 106 {
		t.Errorf("Expected [105 106], got %v", first)
	}
	second, ok := m.Tick()
	if !ok {
		t.Fatal("Expected second frame from alice alone")
	}
	if second[0] != 7 || second[1] != 8 {
		t.Errorf("Expected [7 8], got %v", second)
	}
}

func TestMixerResidueCarriedForward(t *testing.T) {
	m := NewMixer(4)
	m.Write("alice", []int16{1, 2, 3})
	if _, ok := m.Tick(); ok {
		t.Fatal("Expected no frame for a partial write")
	}
	m.Write("alice", []int16{4, 5})

	frame, ok := m.Tick()
	if !ok {
		t.Fatal("Expected a frame once residue completes")
	}
	want := []int16{1, 2, 3, 4}
	for i := range want {
		if frame[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, frame)
		}
	}
	if got := m.Stats().Speakers[0].ResidueSamples; got != 1 {
		t.Errorf("Expected 1 residue sample, got %d", got)
	}
}

func TestMixerDeactivateFlushesResidueOnce(t *testing.T) {
	m := NewMixer(4)
	m.Write("alice", []int16{1, 2, 3, 4, 9})

	m.Deactivate("alice")
	m.Deactivate("alice")
	m.DeactivateAll()

	frames := m.Drain()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames (one full, one padded), got %d", len(frames))
	}
	padded := frames[1]
	if padded[0] != 9 || padded[1] != 0 || padded[2] != 0 || padded[3] != 0 {
		t.Errorf("Expected zero-padded residue [9 0 0 0], got %v", padded)
	}
	if m.Speakers() != 0 {
		t.Errorf("Expected drained speaker to be removed, got %d speakers", m.Speakers())
	}
}

func TestMixerSpeakerFramesFIFO(t *testing.T) {
	m := NewMixer(1)
	for i := int16(1); i <= 5; i++ {
		m.Write("alice", []int16{i})
	}
	for i := int16(1); i <= 5; i++ {
		frame, ok := m.Tick()
		if !ok || frame[0] != i {
			t.Fatalf("Expected frame %d, got %v (ok=%v)", i, frame, ok)
		}
	}
}

func TestMixerReactivateAfterDeactivate(t *testing.T) {
	m := NewMixer(2)
	m.Write("alice", []int16{1})
	m.Deactivate("alice")
	m.Ensure("alice")
	m.Write("alice", []int16{2, 3})

	frames := m.Drain()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if frames[0][0] != 1 || frames[0][1] != 0 {
		t.Errorf("Expected padded frame [1 0], got %v", frames[0])
	}
	if frames[1][0] != 2 || frames[1][1] != 3 {
		t.Errorf("Expected frame [2 3], got %v", frames[1])
	}
	if !m.Stats().Speakers[0].Active {
		t.Error("Expected reactivated speaker to stay active")
	}
}

func TestMixerConcurrentWriters(t *testing.T) {
	m := NewMixer(960)
	ctx, cancel := context.WithCancel(context.Background())

	var emitted [][]int16
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond, func(f []int16) {
			mu.Lock()
			emitted = append(emitted, f)
			mu.Unlock()
		})
		close(done)
	}()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				m.Write(id, filled(960, 1))
			}
		}(id)
	}
	wg.Wait()

	cancel()
	<-done
	m.DeactivateAll()
	rest := m.Drain()

	mu.Lock()
	defer mu.Unlock()
	var total int64
	for _, f := range append(emitted, rest...) {
		for _, s := range f {
			total += int64(s)
		}
	}
	if total != 3*10*960 {
		t.Errorf("Expected total sample sum %d, got %d", 3*10*960, total)
	}
}

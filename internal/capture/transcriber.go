package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/meeting-scribe/internal/audio"
	"github.com/skypro1111/meeting-scribe/internal/metrics"
)

// SpeakerStream delivers one speaker's encoded voice packets. Packets is
// closed when the speaker's stream ends.
type SpeakerStream interface {
	Packets() <-chan []byte
	Close()
}

// VoiceSource is the part of a voice connection the transcriber consumes.
type VoiceSource interface {
	SubscribeSpeaker(userID string) (SpeakerStream, error)
	// OnSpeakingStart registers fn for speaking-start events and returns a
	// function that unregisters it.
	OnSpeakingStart(fn func(userID string)) (remove func())
}

// Recognizer receives mixed PCM for realtime transcription.
type Recognizer interface {
	Connect(ctx context.Context) error
	Enqueue(pcm []byte) bool
	Close() error
}

// DecoderFactory creates a decoder for one speaker stream.
type DecoderFactory func() (audio.Decoder, error)

// Config holds audio parameters for one capture session.
type Config struct {
	RecordingPath        string
	SampleRate           int
	Channels             int
	FrameSize            int
	MixInterval          time.Duration
	RecognizerSampleRate int
}

// Deps are the collaborators of a Transcriber.
type Deps struct {
	Source     VoiceSource
	Recognizer Recognizer
	NewDecoder DecoderFactory
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

type pipeline struct {
	userID  string
	stream  SpeakerStream
	decoder audio.Decoder
}

// Transcriber captures a meeting: it decodes each speaker, mixes them into
// one mono stream, records that stream to disk, and streams it to the
// recognizer.
type Transcriber struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics

	mixer     *audio.Mixer
	recording *audio.Recording
	resampler *audio.Resampler

	ctx     context.Context
	cancel  context.CancelFunc
	mixDone chan struct{}
	emitMu  sync.Mutex

	mu             sync.Mutex
	stopped        bool
	pipelines      map[string]*pipeline
	pipelinesWG    sync.WaitGroup
	removeSpeaking func()

	stopOnce sync.Once
	stopPath string
	stopErr  error
}

// Start opens the recording, connects the recognizer, and begins mixing.
// If any step fails, everything acquired so far is released before the
// error is returned.
func Start(ctx context.Context, cfg Config, deps Deps) (*Transcriber, error) {
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, fmt.Errorf("channels must be 1 or 2, got %d", cfg.Channels)
	}
	if cfg.FrameSize <= 0 || cfg.MixInterval <= 0 {
		return nil, fmt.Errorf("frame size and mix interval must be positive")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewDecoder == nil {
		deps.NewDecoder = func() (audio.Decoder, error) {
			return audio.NewOpusDecoder(cfg.SampleRate, cfg.Channels)
		}
	}

	// Fail fast if the codec backend cannot be initialized.
	if _, err := deps.NewDecoder(); err != nil {
		return nil, fmt.Errorf("voice decoder unavailable: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t := &Transcriber{
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger.With(slog.String("component", "transcriber")),
		metrics:   deps.Metrics,
		mixer:     audio.NewMixer(cfg.FrameSize),
		ctx:       runCtx,
		cancel:    cancel,
		pipelines: make(map[string]*pipeline),
	}

	if err := t.open(ctx); err != nil {
		t.Stop()
		if t.recording != nil {
			t.recording.Abort()
		}
		return nil, err
	}
	return t, nil
}

func (t *Transcriber) open(ctx context.Context) error {
	resampler, err := audio.NewResampler(t.cfg.SampleRate, t.cfg.RecognizerSampleRate)
	if err != nil {
		return err
	}
	t.resampler = resampler

	recording, err := audio.CreateRecording(t.cfg.RecordingPath, t.cfg.SampleRate)
	if err != nil {
		return err
	}
	t.recording = recording

	if err := t.deps.Recognizer.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect recognizer: %w", err)
	}

	t.mixDone = make(chan struct{})
	go func() {
		defer close(t.mixDone)
		t.mixer.Run(t.ctx, t.cfg.MixInterval, t.emit)
	}()
	t.removeSpeaking = t.deps.Source.OnSpeakingStart(t.SubscribeUser)

	t.logger.Info("Capture started",
		slog.String("recording", t.cfg.RecordingPath),
		slog.Int("sample_rate", t.cfg.SampleRate),
		slog.Int("frame_size", t.cfg.FrameSize))
	return nil
}

func (t *Transcriber) emit(frame []int16) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	if err := t.recording.WriteFrame(frame); err != nil {
		t.logger.Warn("Failed to write recording frame", slog.String("error", err.Error()))
	}
	t.metrics.RecordFrameMixed()

	pcm, err := t.resampler.Process(frame)
	if err != nil {
		t.logger.Warn("Failed to resample frame", slog.String("error", err.Error()))
		return
	}
	t.deps.Recognizer.Enqueue(pcm)
}

// SubscribeUser attaches a decode pipeline for the speaker. It does nothing
// if the speaker is already subscribed or the transcriber has stopped.
func (t *Transcriber) SubscribeUser(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.pipelines[userID] != nil {
		return
	}

	stream, err := t.deps.Source.SubscribeSpeaker(userID)
	if err != nil {
		t.logger.Warn("Failed to subscribe speaker",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return
	}
	decoder, err := t.deps.NewDecoder()
	if err != nil {
		stream.Close()
		t.logger.Warn("Failed to create speaker decoder",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return
	}

	p := &pipeline{userID: userID, stream: stream, decoder: decoder}
	t.pipelines[userID] = p
	t.mixer.Ensure(userID)
	t.metrics.RecordSpeakerSubscribed()

	t.pipelinesWG.Add(1)
	go t.runPipeline(p)

	t.logger.Debug("Speaker subscribed", slog.String("user_id", userID))
}

func (t *Transcriber) runPipeline(p *pipeline) {
	defer t.pipelinesWG.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case packet, ok := <-p.stream.Packets():
			if !ok {
				t.detach(p)
				return
			}
			if err := t.decodeInto(p, packet); err != nil {
				t.metrics.RecordDecodeError()
				t.logger.Warn("Dropping speaker stream after decode error",
					slog.String("user_id", p.userID),
					slog.String("error", err.Error()))
				t.detach(p)
				return
			}
		}
	}
}

func (t *Transcriber) decodeInto(p *pipeline, packet []byte) error {
	pcm, err := p.decoder.Decode(packet)
	if err != nil {
		return err
	}
	if t.cfg.Channels == 2 {
		pcm = audio.DownmixStereo(pcm)
	}
	t.mixer.Write(p.userID, pcm)
	return nil
}

// detach removes a pipeline whose stream ended; its residue is flushed.
func (t *Transcriber) detach(p *pipeline) {
	t.mu.Lock()
	if t.pipelines[p.userID] == p {
		delete(t.pipelines, p.userID)
	}
	t.mu.Unlock()

	p.stream.Close()
	t.mixer.Deactivate(p.userID)
}

// Stop ends capture and returns the finalized recording path. Concurrent
// and repeated calls run the shutdown once and all receive its result.
func (t *Transcriber) Stop() (string, error) {
	t.stopOnce.Do(func() {
		t.stopPath, t.stopErr = t.shutdown()
	})
	return t.stopPath, t.stopErr
}

func (t *Transcriber) shutdown() (string, error) {
	t.mu.Lock()
	t.stopped = true
	remaining := make([]*pipeline, 0, len(t.pipelines))
	for _, p := range t.pipelines {
		remaining = append(remaining, p)
	}
	t.pipelines = make(map[string]*pipeline)
	removeSpeaking := t.removeSpeaking
	t.mu.Unlock()

	if removeSpeaking != nil {
		removeSpeaking()
	}
	t.cancel()
	if t.mixDone != nil {
		<-t.mixDone
	}
	t.pipelinesWG.Wait()

	for _, p := range remaining {
		t.drainQueued(p)
		p.stream.Close()
	}
	t.mixer.DeactivateAll()

	if t.recording != nil {
		for _, frame := range t.mixer.Drain() {
			t.emit(frame)
		}
	}
	if t.resampler != nil {
		if rest, err := t.resampler.Flush(); err != nil {
			t.logger.Warn("Failed to flush resampler", slog.String("error", err.Error()))
		} else {
			t.deps.Recognizer.Enqueue(rest)
		}
	}

	if err := t.deps.Recognizer.Close(); err != nil {
		t.logger.Warn("Recognizer close reported error", slog.String("error", err.Error()))
	}

	if t.recording == nil {
		return "", nil
	}
	if err := t.recording.Finalize(); err != nil {
		return "", fmt.Errorf("failed to finalize recording: %w", err)
	}

	seconds := float64(t.recording.DataBytes()/2) / float64(t.cfg.SampleRate)
	t.logger.Info("Capture stopped",
		slog.String("recording", t.recording.Path()),
		slog.Float64("duration_seconds", seconds))
	return t.recording.Path(), nil
}

// drainQueued decodes packets still buffered in a speaker's channel.
func (t *Transcriber) drainQueued(p *pipeline) {
	for {
		select {
		case packet, ok := <-p.stream.Packets():
			if !ok {
				return
			}
			if err := t.decodeInto(p, packet); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Stats returns the current mixer statistics.
func (t *Transcriber) Stats() audio.MixerStats {
	return t.mixer.Stats()
}

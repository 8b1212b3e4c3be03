package meeting

import (
	"context"
	"log/slog"

	"github.com/skypro1111/meeting-scribe/internal/capture"
	"github.com/skypro1111/meeting-scribe/internal/metrics"
	"github.com/skypro1111/meeting-scribe/internal/transcription"
)

// NewCaptureFactory returns a CaptureFactory that streams each meeting to
// a realtime recognizer configured by rt while recording it per audio.
func NewCaptureFactory(audio capture.Config, rt transcription.RealtimeConfig, logger *slog.Logger, m *metrics.Metrics) CaptureFactory {
	return func(ctx context.Context, req CaptureRequest) (CaptureEngine, error) {
		sessionLogger := logger.With(slog.String("session_id", req.SessionID))

		cfg := audio
		cfg.RecordingPath = req.RecordingPath
		rtCfg := rt
		rtCfg.SampleRate = cfg.RecognizerSampleRate

		client := transcription.NewRealtimeClient(rtCfg, req.OnUpdate, sessionLogger, m)
		t, err := capture.Start(ctx, cfg, capture.Deps{
			Source:     req.Conn,
			Recognizer: client,
			Logger:     sessionLogger,
			Metrics:    m,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the meeting scribe. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Meeting lifecycle metrics
	ActiveMeetings        prometheus.Gauge
	MeetingsStarted       prometheus.Counter
	MeetingStartFailures  *prometheus.CounterVec
	MeetingsEnded         *prometheus.CounterVec
	MeetingDuration       prometheus.Histogram
	FinalizeStageFailures *prometheus.CounterVec
	OrphanedConnections   prometheus.Counter

	// Capture metrics
	SpeakersSubscribed prometheus.Counter
	DecodeErrors       prometheus.Counter
	FramesMixed        prometheus.Counter

	// Realtime transcription metrics
	RealtimeConnects        *prometheus.CounterVec
	RealtimeConnectDuration prometheus.Histogram
	AudioChunksSent         prometheus.Counter
	AudioBytesSent          prometheus.Counter
	TranscriptUpdates       *prometheus.CounterVec

	// Fan-out metrics
	FanoutDropped *prometheus.CounterVec

	// Batch transcription metrics
	BatchRequests        *prometheus.CounterVec
	BatchRequestDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveMeetings: f.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_active_meetings",
			Help: "Current number of active meeting sessions",
		}),
		MeetingsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_meetings_started_total",
			Help: "Total number of meetings started",
		}),
		MeetingStartFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_meeting_start_failures_total",
			Help: "Total number of rejected or failed meeting starts",
		}, []string{"reason"}),
		MeetingsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_meetings_ended_total",
			Help: "Total number of meetings finalized",
		}, []string{"reason"}),
		MeetingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_meeting_duration_seconds",
			Help:    "Duration of meetings from start to end request",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 30s to ~4h
		}),
		FinalizeStageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_finalize_stage_failures_total",
			Help: "Total number of degraded finalize stages",
		}, []string{"stage"}),
		OrphanedConnections: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_orphaned_connections_total",
			Help: "Total number of sessions released after a voice transport failure",
		}),

		SpeakersSubscribed: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_speakers_subscribed_total",
			Help: "Total number of speaker decode pipelines attached",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_decode_errors_total",
			Help: "Total number of speaker streams dropped after a decode error",
		}),
		FramesMixed: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_frames_mixed_total",
			Help: "Total number of mixed frames emitted",
		}),

		RealtimeConnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_realtime_connects_total",
			Help: "Total number of realtime socket connection attempts",
		}, []string{"result"}),
		RealtimeConnectDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_realtime_connect_duration_seconds",
			Help:    "Time from token request to session start",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		AudioChunksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audio_chunks_sent_total",
			Help: "Total number of audio chunk messages sent to the recognizer",
		}),
		AudioBytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audio_bytes_sent_total",
			Help: "Total number of PCM bytes sent to the recognizer",
		}),
		TranscriptUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_transcript_updates_total",
			Help: "Total number of transcript updates received",
		}, []string{"kind"}),

		FanoutDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_fanout_dropped_total",
			Help: "Total number of transcript updates dropped for a full subscriber queue",
		}, []string{"subscriber"}),

		BatchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_batch_requests_total",
			Help: "Total number of batch diarization requests",
		}, []string{"result"}),
		BatchRequestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_batch_request_duration_seconds",
			Help:    "Duration of batch diarization requests including retries",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4 minutes
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// SetActiveMeetings sets the current number of active meetings
func (m *Metrics) SetActiveMeetings(count int) {
	if m == nil {
		return
	}
	m.ActiveMeetings.Set(float64(count))
}

// RecordMeetingStarted increments the meetings started counter
func (m *Metrics) RecordMeetingStarted() {
	if m == nil {
		return
	}
	m.MeetingsStarted.Inc()
}

// RecordMeetingStartFailure records a rejected start by reason
func (m *Metrics) RecordMeetingStartFailure(reason string) {
	if m == nil {
		return
	}
	m.MeetingStartFailures.WithLabelValues(reason).Inc()
}

// RecordMeetingEnded records a finalized meeting and its duration
func (m *Metrics) RecordMeetingEnded(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.MeetingsEnded.WithLabelValues(reason).Inc()
	m.MeetingDuration.Observe(duration.Seconds())
}

// RecordFinalizeStageFailure records a degraded finalize stage
func (m *Metrics) RecordFinalizeStageFailure(stage string) {
	if m == nil {
		return
	}
	m.FinalizeStageFailures.WithLabelValues(stage).Inc()
}

// RecordOrphanedConnection increments the orphaned connection counter
func (m *Metrics) RecordOrphanedConnection() {
	if m == nil {
		return
	}
	m.OrphanedConnections.Inc()
}

// RecordSpeakerSubscribed increments the subscribed speakers counter
func (m *Metrics) RecordSpeakerSubscribed() {
	if m == nil {
		return
	}
	m.SpeakersSubscribed.Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// RecordFrameMixed increments the mixed frames counter
func (m *Metrics) RecordFrameMixed() {
	if m == nil {
		return
	}
	m.FramesMixed.Inc()
}

// RecordRealtimeConnect records a realtime connection attempt
func (m *Metrics) RecordRealtimeConnect(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.RealtimeConnects.WithLabelValues(result(err)).Inc()
	m.RealtimeConnectDuration.Observe(duration.Seconds())
}

// RecordAudioChunkSent records one audio chunk message
func (m *Metrics) RecordAudioChunkSent(bytes int) {
	if m == nil {
		return
	}
	m.AudioChunksSent.Inc()
	m.AudioBytesSent.Add(float64(bytes))
}

// RecordTranscriptUpdate records a received transcript update
func (m *Metrics) RecordTranscriptUpdate(committed bool) {
	if m == nil {
		return
	}
	kind := "partial"
	if committed {
		kind = "committed"
	}
	m.TranscriptUpdates.WithLabelValues(kind).Inc()
}

// RecordFanoutDropped records an update dropped for a subscriber
func (m *Metrics) RecordFanoutDropped(subscriber string) {
	if m == nil {
		return
	}
	m.FanoutDropped.WithLabelValues(subscriber).Inc()
}

// RecordBatchRequest records a batch diarization request
func (m *Metrics) RecordBatchRequest(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.BatchRequests.WithLabelValues(result(err)).Inc()
	m.BatchRequestDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

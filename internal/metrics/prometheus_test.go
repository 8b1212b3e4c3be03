package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.SetActiveMeetings(3)
	m.RecordMeetingEnded("manual", time.Minute)
	m.RecordAudioChunkSent(10)
	m.RecordHTTPRequest("GET", "/health", "200", 0.1)
}

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetActiveMeetings(2)
	if got := testutil.ToFloat64(m.ActiveMeetings); got != 2 {
		t.Errorf("Expected 2 active meetings, got %v", got)
	}

	m.RecordMeetingEnded("auto_empty", 90*time.Second)
	if got := testutil.ToFloat64(m.MeetingsEnded.WithLabelValues("auto_empty")); got != 1 {
		t.Errorf("Expected 1 auto_empty end, got %v", got)
	}

	m.RecordAudioChunkSent(1280)
	m.RecordAudioChunkSent(640)
	if got := testutil.ToFloat64(m.AudioBytesSent); got != 1920 {
		t.Errorf("Expected 1920 bytes sent, got %v", got)
	}

	m.RecordRealtimeConnect(time.Second, errors.New("boom"))
	if got := testutil.ToFloat64(m.RealtimeConnects.WithLabelValues("failure")); got != 1 {
		t.Errorf("Expected 1 failed connect, got %v", got)
	}

	m.RecordTranscriptUpdate(true)
	m.RecordTranscriptUpdate(false)
	m.RecordTranscriptUpdate(false)
	if got := testutil.ToFloat64(m.TranscriptUpdates.WithLabelValues("partial")); got != 2 {
		t.Errorf("Expected 2 partial updates, got %v", got)
	}
}

func TestIndependentRegistries(t *testing.T) {
	// Separate registries must not collide on collector names.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/meeting-scribe/internal/config"
	"github.com/skypro1111/meeting-scribe/internal/meeting"
	"github.com/skypro1111/meeting-scribe/internal/metrics"
	"github.com/skypro1111/meeting-scribe/internal/transcription"
)

// Meetings is the meeting manager surface exposed over HTTP.
type Meetings interface {
	StartMeeting(ctx context.Context, req meeting.StartRequest) (*meeting.Session, error)
	EndMeeting(ctx context.Context, guildID, reason string) (meeting.EndResult, error)
	Sessions() []meeting.SessionInfo
	Session(guildID string) (meeting.SessionInfo, bool)
	ActiveCount() int
}

// BatchStats reports counters of the batch diarization client.
type BatchStats interface {
	GetStats() transcription.BatchStats
}

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	meetings Meetings
	batch    BatchStats
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics

	startTime time.Time
}

type startMeetingRequest struct {
	GuildID        string `json:"guild_id"`
	VoiceChannelID string `json:"voice_channel_id"`
	TextChannelID  string `json:"text_channel_id"`
	StartedBy      string `json:"started_by"`
}

// NewHTTPServer creates a new HTTP API server. batch may be nil when batch
// diarization is unavailable.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	meetings Meetings, batch BatchStats, gatherer prometheus.Gatherer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http_server")),
		config:    appConfig,
		meetings:  meetings,
		batch:     batch,
		gatherer:  gatherer,
		metrics:   m,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // ending a meeting waits for finalization
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed API handler.
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("GET /meetings", h.withMetrics("/meetings", h.handleListMeetings))
	mux.HandleFunc("POST /meetings", h.withMetrics("/meetings", h.handleStartMeeting))
	mux.HandleFunc("GET /meetings/{guild_id}", h.withMetrics("/meetings/{guild_id}", h.handleMeetingDetail))
	mux.HandleFunc("DELETE /meetings/{guild_id}", h.withMetrics("/meetings/{guild_id}", h.handleEndMeeting))

	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	gatherer := h.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))

	return mux
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{
		"meetings": map[string]interface{}{
			"enabled":         h.config.Meeting.Enabled,
			"active_meetings": h.meetings.ActiveCount(),
		},
		"notes": map[string]interface{}{
			"enabled": h.config.Notes.Enabled,
		},
	}

	diarization := map[string]interface{}{"status": "unavailable"}
	if h.batch != nil {
		stats := h.batch.GetStats()
		successRate := 0.0
		if stats.TotalRequests > 0 {
			successRate = float64(stats.SuccessRequests) / float64(stats.TotalRequests)
		}
		diarization = map[string]interface{}{
			"status":            "running",
			"total_requests":    stats.TotalRequests,
			"failed_requests":   stats.FailedRequests,
			"total_retries":     stats.TotalRetries,
			"success_rate":      successRate,
			"active_requests":   stats.ActiveRequests,
			"avg_response_time": stats.AvgResponseTime.String(),
		}
	}
	components["diarization"] = diarization

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "meeting-scribe",
			"version": "1.0.0",
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

func (h *HTTPServer) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	sessions := h.meetings.Sessions()

	response := map[string]interface{}{
		"total_meetings": len(sessions),
		"timestamp":      time.Now().UTC(),
		"meetings":       sessions,
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *HTTPServer) handleMeetingDetail(w http.ResponseWriter, r *http.Request) {
	info, ok := h.meetings.Session(r.PathValue("guild_id"))
	if !ok {
		writeError(w, http.StatusNotFound, meeting.ErrNoActiveMeeting)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// handleStartMeeting implements POST /meetings
func (h *HTTPServer) handleStartMeeting(w http.ResponseWriter, r *http.Request) {
	var body startMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.GuildID == "" || body.VoiceChannelID == "" || body.TextChannelID == "" {
		writeError(w, http.StatusBadRequest, errors.New("guild_id, voice_channel_id and text_channel_id are required"))
		return
	}
	if body.StartedBy == "" {
		body.StartedBy = "http-api"
	}

	s, err := h.meetings.StartMeeting(r.Context(), meeting.StartRequest{
		GuildID:        body.GuildID,
		VoiceChannelID: body.VoiceChannelID,
		TextChannelID:  body.TextChannelID,
		StartedBy:      body.StartedBy,
	})
	if err != nil {
		h.logger.Warn("Meeting start rejected",
			slog.String("guild_id", body.GuildID),
			slog.String("error", err.Error()))
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, s.Info())
}

// handleEndMeeting implements DELETE /meetings/{guild_id}
func (h *HTTPServer) handleEndMeeting(w http.ResponseWriter, r *http.Request) {
	guildID := r.PathValue("guild_id")

	result, err := h.meetings.EndMeeting(r.Context(), guildID, meeting.ReasonManual)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	status := http.StatusOK
	if result.AlreadyEnding {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config.Sanitized())
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Meeting Scribe",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                       "API documentation",
			"GET /health":                 "Service health check",
			"GET /meetings":               "List active meetings",
			"POST /meetings":              "Start a meeting",
			"GET /meetings/{guild_id}":    "Get meeting details",
			"DELETE /meetings/{guild_id}": "End a meeting and post its notes",
			"GET /config":                 "Get service configuration",
			"GET /metrics":                "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

// statusFor maps meeting errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, meeting.ErrMeetingAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, meeting.ErrNoActiveMeeting):
		return http.StatusNotFound
	case errors.Is(err, meeting.ErrFeatureDisabled), errors.Is(err, meeting.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, meeting.ErrMissingCredentials):
		return http.StatusBadRequest
	case errors.Is(err, meeting.ErrVoiceJoinFailed), errors.Is(err, meeting.ErrTranscriberStart):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/skypro1111/meeting-scribe/internal/metrics"
	"github.com/skypro1111/meeting-scribe/internal/retry"
)

// BatchConfig configures the batch diarization client.
type BatchConfig struct {
	Endpoint      string
	APIKey        string
	ModelID       string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// BatchClient uploads finished recordings for speaker-diarized transcription.
type BatchClient struct {
	config     BatchConfig
	httpClient *http.Client
	semaphore  chan struct{}
	logger     *slog.Logger
	metrics    *metrics.Metrics

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// BatchStats reports batch client counters.
type BatchStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

type batchResponse struct {
	Text            string `json:"text"`
	Words           []Word `json:"words"`
	TranscriptionID string `json:"transcription_id"`
}

// NewBatchClient validates config and builds a client.
func NewBatchClient(config BatchConfig, logger *slog.Logger, m *metrics.Metrics) (*BatchClient, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.ModelID == "" {
		config.ModelID = "scribe_v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}

	return &BatchClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		semaphore: make(chan struct{}, config.MaxConcurrent),
		logger:    logger.With(slog.String("component", "batch_transcription")),
		metrics:   m,
	}, nil
}

// Transcribe uploads the recording at audioPath and returns its diarized
// transcript with words merged into speaker segments.
func (c *BatchClient) Transcribe(ctx context.Context, audioPath string) (*DiarizedTranscript, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	c.bump(&c.totalRequests)

	policy := retry.DefaultPolicy()
	policy.MaxRetries = c.config.MaxRetries
	policy.OnRetry = func(err error, delay time.Duration) {
		c.bump(&c.totalRetries)
		c.logger.Warn("Retrying batch transcription",
			slog.String("path", audioPath),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
	}

	resp, err := retry.Do(ctx, policy, func(ctx context.Context) (*batchResponse, error) {
		return c.doRequest(ctx, audioPath)
	})
	c.metrics.RecordBatchRequest(time.Since(start), err)
	if err != nil {
		c.bump(&c.failedRequests)
		return nil, fmt.Errorf("batch transcription failed: %w", err)
	}

	c.bump(&c.successRequests)
	c.updateAvgResponseTime(time.Since(start))

	return &DiarizedTranscript{
		ID:       resp.TranscriptionID,
		Text:     resp.Text,
		Segments: MergeWords(resp.Words),
	}, nil
}

func (c *BatchClient) doRequest(ctx context.Context, audioPath string) (*batchResponse, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, retry.Permanent(fmt.Errorf("recording unavailable: %w", err))
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeForm(form, audioPath))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, pr)
	if err != nil {
		pr.Close()
		return nil, retry.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("xi-api-key", c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	body, err := retry.ReadResponse(resp)
	if err != nil {
		return nil, err
	}

	var out batchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to parse response JSON: %w", err))
	}
	return &out, nil
}

// writeForm streams the multipart body so long recordings are never held in memory.
func (c *BatchClient) writeForm(form *multipart.Writer, audioPath string) error {
	fields := [][2]string{
		{"model_id", c.config.ModelID},
		{"diarize", "true"},
		{"timestamps_granularity", "word"},
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer file.Close()

	part, err := form.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	return form.Close()
}

func (c *BatchClient) bump(counter *uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*counter++
}

func (c *BatchClient) updateAvgResponseTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.avgResponseTime == 0 {
		c.avgResponseTime = d
	} else {
		c.avgResponseTime = (c.avgResponseTime + d) / 2
	}
}

// GetStats returns current client statistics.
func (c *BatchClient) GetStats() BatchStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return BatchStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

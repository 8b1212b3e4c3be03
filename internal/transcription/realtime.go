package transcription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/meeting-scribe/internal/metrics"
	"github.com/skypro1111/meeting-scribe/internal/retry"
)

var (
	// ErrStartupTimeout means the recognizer did not confirm the session in time.
	ErrStartupTimeout = errors.New("realtime session start timed out")
	// ErrRecognizerRejected means the recognizer sent an error during startup.
	ErrRecognizerRejected = errors.New("realtime recognizer rejected session")
	// ErrClientClosed is returned by Connect after Close.
	ErrClientClosed = errors.New("realtime client closed")
)

const (
	msgSessionStarted  = "session_started"
	msgPartial         = "partial_transcript"
	msgCommitted       = "committed_transcript"
	msgCommittedWithTS = "committed_transcript_with_timestamps"
	msgInputAudioChunk = "input_audio_chunk"
	msgErrorType       = "error"
	msgErrorTypeSuffix = "_error"
)

// Update is one transcript event from the recognizer.
type Update struct {
	Text      string `json:"text"`
	Committed bool   `json:"committed"`
}

// ConnState is the lifecycle state of a RealtimeClient connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// RealtimeConfig configures the realtime socket.
type RealtimeConfig struct {
	APIKey         string
	TokenURL       string
	URL            string
	ModelID        string
	SampleRate     int
	CommitStrategy string
	StartupTimeout time.Duration
	FlushInterval  time.Duration
	CloseTimeout   time.Duration
	MaxRetries     int
}

type outboundChunk struct {
	MessageType string `json:"message_type"`
	AudioBase64 string `json:"audio_base_64"`
	SampleRate  int    `json:"sample_rate"`
	Commit      bool   `json:"commit"`
}

type inboundMessage struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
	Error       string `json:"error"`
	Message     string `json:"message"`
}

// RealtimeClient streams PCM audio to the recognizer and reports transcript
// updates through a callback. Audio is queued by Enqueue and sent in batches
// every flush interval.
type RealtimeClient struct {
	cfg        RealtimeConfig
	httpClient *http.Client
	dialer     *websocket.Dialer
	onUpdate   func(Update)
	logger     *slog.Logger
	metrics    *metrics.Metrics

	stateMu  sync.Mutex
	state    ConnState
	stateErr error
	closed   bool

	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   [][]byte
	accepting bool

	stopFlush chan struct{}
	flushDone chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
}

// NewRealtimeClient creates a disconnected client. onUpdate is called from
// the socket reader goroutine and must not block for long.
func NewRealtimeClient(cfg RealtimeConfig, onUpdate func(Update), logger *slog.Logger, m *metrics.Metrics) *RealtimeClient {
	if cfg.ModelID == "" {
		cfg.ModelID = "scribe_v2_realtime"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.CommitStrategy == "" {
		cfg.CommitStrategy = "vad"
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 10 * time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 40 * time.Millisecond
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 2 * time.Second
	}
	if onUpdate == nil {
		onUpdate = func(Update) {}
	}

	return &RealtimeClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.StartupTimeout,
		},
		onUpdate:  onUpdate,
		logger:    logger.With(slog.String("component", "realtime_transcription")),
		metrics:   m,
		stopFlush: make(chan struct{}),
		flushDone: make(chan struct{}),
		readDone:  make(chan struct{}),
	}
}

// State returns the current connection state and, when failed, its cause.
func (c *RealtimeClient) State() (ConnState, error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state, c.stateErr
}

// setState is the only place the connection state changes.
func (c *RealtimeClient) setState(next ConnState, cause error) {
	c.stateMu.Lock()
	prev := c.state
	c.state = next
	c.stateErr = cause
	c.stateMu.Unlock()

	if prev == next {
		return
	}
	attrs := []any{slog.String("from", prev.String()), slog.String("to", next.String())}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	c.logger.Debug("Realtime connection state changed", attrs...)
}

// Connect acquires a token, opens the socket, and waits for the recognizer to
// confirm the session. On failure the client is left in StateFailed with no
// open socket.
func (c *RealtimeClient) Connect(ctx context.Context) error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return ErrClientClosed
	}
	c.stateMu.Unlock()

	start := time.Now()
	c.setState(StateConnecting, nil)

	conn, err := c.open(ctx)
	c.metrics.RecordRealtimeConnect(time.Since(start), err)
	if err != nil {
		c.setState(StateFailed, err)
		return err
	}

	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.stateMu.Unlock()

	c.pendingMu.Lock()
	c.accepting = true
	c.pendingMu.Unlock()

	c.setState(StateConnected, nil)
	c.logger.Info("Realtime transcription session started",
		slog.String("model_id", c.cfg.ModelID),
		slog.Int("sample_rate", c.cfg.SampleRate),
		slog.Duration("startup", time.Since(start)))

	go c.readLoop(conn)
	go c.flushLoop()
	return nil
}

func (c *RealtimeClient) open(ctx context.Context) (*websocket.Conn, error) {
	policy := retry.DefaultPolicy()
	policy.MaxRetries = c.cfg.MaxRetries
	token, err := FetchToken(ctx, c.httpClient, c.cfg.TokenURL, c.cfg.APIKey, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire realtime token: %w", err)
	}

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model_id", c.cfg.ModelID)
	q.Set("audio_format", fmt.Sprintf("pcm_%d", c.cfg.SampleRate))
	q.Set("commit_strategy", c.cfg.CommitStrategy)
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := c.awaitSessionStarted(conn); err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (c *RealtimeClient) awaitSessionStarted(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(c.cfg.StartupTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ErrStartupTimeout
			}
			return fmt.Errorf("realtime socket closed during startup: %w", err)
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch {
		case msg.MessageType == msgSessionStarted:
			return nil
		case isErrorType(msg.MessageType):
			detail := msg.Error
			if detail == "" {
				detail = msg.Message
			}
			return fmt.Errorf("%w: %s: %s", ErrRecognizerRejected, msg.MessageType, detail)
		}
	}
}

func isErrorType(t string) bool {
	return t == msgErrorType || strings.HasSuffix(t, msgErrorTypeSuffix)
}

// Enqueue queues PCM bytes for the next flush. It reports false once the
// client is not accepting audio.
func (c *RealtimeClient) Enqueue(pcm []byte) bool {
	if len(pcm) == 0 {
		return true
	}
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if !c.accepting {
		return false
	}
	c.pending = append(c.pending, append([]byte(nil), pcm...))
	return true
}

func (c *RealtimeClient) flushLoop() {
	defer close(c.flushDone)

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopFlush:
			return
		case <-ticker.C:
			if err := c.flush(false); err != nil {
				c.logger.Warn("Failed to send audio chunk", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *RealtimeClient) flush(commit bool) error {
	c.pendingMu.Lock()
	queued := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	size := 0
	for _, p := range queued {
		size += len(p)
	}
	if size == 0 && !commit {
		return nil
	}

	audio := make([]byte, 0, size)
	for _, p := range queued {
		audio = append(audio, p...)
	}

	msg := outboundChunk{
		MessageType: msgInputAudioChunk,
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
		SampleRate:  c.cfg.SampleRate,
		Commit:      commit,
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write audio chunk: %w", err)
	}
	c.metrics.RecordAudioChunkSent(len(audio))
	return nil
}

func (c *RealtimeClient) readLoop(conn *websocket.Conn) {
	defer close(c.readDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Realtime socket closed by peer")
				return
			}
			c.stateMu.Lock()
			closing := c.closed
			c.stateMu.Unlock()
			if !closing {
				c.logger.Warn("Realtime socket read failed", slog.String("error", err.Error()))
				c.setState(StateFailed, err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *RealtimeClient) handleMessage(data []byte) {
	if !utf8.Valid(data) {
		c.logger.Debug("Ignoring non UTF-8 realtime message")
		return
	}
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("Ignoring malformed realtime message", slog.String("error", err.Error()))
		return
	}

	var committed bool
	switch msg.MessageType {
	case msgPartial:
	case msgCommitted, msgCommittedWithTS:
		committed = true
	default:
		if isErrorType(msg.MessageType) {
			c.logger.Warn("Realtime recognizer reported error",
				slog.String("message_type", msg.MessageType),
				slog.String("error", msg.Error+msg.Message))
		}
		return
	}

	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	c.metrics.RecordTranscriptUpdate(committed)
	c.onUpdate(Update{Text: msg.Text, Committed: committed})
}

// Close stops accepting audio, sends the remaining queue with commit set,
// and closes the socket, waiting up to the close timeout for the peer's
// acknowledgment. It is safe to call more than once.
func (c *RealtimeClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.shutdown()
	})
	return err
}

func (c *RealtimeClient) shutdown() error {
	c.pendingMu.Lock()
	c.accepting = false
	c.pendingMu.Unlock()

	c.stateMu.Lock()
	c.closed = true
	conn := c.conn
	c.stateMu.Unlock()

	if conn == nil {
		c.setState(StateDisconnected, nil)
		return nil
	}

	close(c.stopFlush)
	<-c.flushDone

	flushErr := c.flush(true)
	if flushErr != nil {
		c.logger.Warn("Failed to send final commit", slog.String("error", flushErr.Error()))
	}

	c.writeMu.Lock()
	deadline := time.Now().Add(c.cfg.CloseTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	closeErr := conn.WriteControl(websocket.CloseMessage, msg, deadline)
	c.writeMu.Unlock()

	if closeErr == nil {
		select {
		case <-c.readDone:
		case <-time.After(c.cfg.CloseTimeout):
			c.logger.Warn("Realtime close acknowledgment timed out",
				slog.Duration("timeout", c.cfg.CloseTimeout))
		}
	}
	conn.Close()
	<-c.readDone

	c.setState(StateDisconnected, nil)
	return flushErr
}

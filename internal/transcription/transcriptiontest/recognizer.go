// Package transcriptiontest provides an in-process fake of the external
// speech recognizer: token endpoint, realtime socket, and batch diarization.
package transcriptiontest

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Paths served by Recognizer.Handler.
const (
	TokenPath    = "/v1/single-use-token/realtime_scribe"
	RealtimePath = "/v1/speech-to-text/realtime"
	BatchPath    = "/v1/speech-to-text"
)

// Startup behaviors for the realtime socket.
const (
	StartupOK     = "ok"
	StartupReject = "reject"
	StartupSilent = "silent"
)

// Chunk is one input_audio_chunk received on the realtime socket.
type Chunk struct {
	Audio      []byte
	SampleRate int
	Commit     bool
}

// BatchForm records the fields of one batch diarization upload.
type BatchForm struct {
	APIKey      string
	ModelID     string
	Diarize     string
	Granularity string
	Filename    string
	Size        int
}

// Recognizer is a configurable fake recognizer. Zero values give a
// well-behaved service; set fields before serving to change behavior.
type Recognizer struct {
	APIKey string
	Token  string

	// Startup selects how the realtime socket answers a new session.
	Startup string
	// OnChunk returns the messages to send back for a received chunk.
	OnChunk func(Chunk) []map[string]any
	// HoldOnClose keeps the socket open without acknowledging a close frame.
	HoldOnClose time.Duration

	BatchStatus   int
	BatchResponse any

	Logger *slog.Logger

	mu            sync.Mutex
	tokenRequests int
	chunks        []Chunk
	queries       []url.Values
	batchForms    []BatchForm
	closedCleanly bool
}

// NewServer starts an httptest server backed by r.
func NewServer(r *Recognizer) *httptest.Server {
	return httptest.NewServer(r.Handler())
}

// Handler returns the HTTP handler for all recognizer endpoints.
func (r *Recognizer) Handler() http.Handler {
	if r.Logger == nil {
		r.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, r.handleToken)
	mux.HandleFunc(RealtimePath, r.handleRealtime)
	mux.HandleFunc(BatchPath, r.handleBatch)
	return mux
}

// RealtimeURL returns the ws:// URL of the realtime endpoint on srv.
func RealtimeURL(srv *httptest.Server) string {
	return "ws" + srv.URL[len("http"):] + RealtimePath
}

func (r *Recognizer) authorized(req *http.Request) bool {
	return r.APIKey == "" || req.Header.Get("xi-api-key") == r.APIKey
}

func (r *Recognizer) token() string {
	if r.Token == "" {
		return "test-token"
	}
	return r.Token
}

func (r *Recognizer) handleToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.mu.Lock()
	r.tokenRequests++
	r.mu.Unlock()

	if !r.authorized(req) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": r.token()})
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (r *Recognizer) handleRealtime(w http.ResponseWriter, req *http.Request) {
	if req.URL.Query().Get("token") != r.token() {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.Logger.Error("Upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	r.mu.Lock()
	r.queries = append(r.queries, req.URL.Query())
	r.mu.Unlock()

	switch r.Startup {
	case StartupReject:
		conn.WriteJSON(map[string]any{"message_type": "auth_error", "error": "token rejected"})
		return
	case StartupSilent:
	default:
		conn.WriteJSON(map[string]any{"message_type": "session_started", "session_id": "fake-session"})
	}

	if r.HoldOnClose > 0 {
		conn.SetCloseHandler(func(int, string) error { return nil })
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				r.mu.Lock()
				r.closedCleanly = true
				r.mu.Unlock()
				if r.HoldOnClose > 0 {
					time.Sleep(r.HoldOnClose)
				}
			}
			return
		}

		var msg struct {
			MessageType string `json:"message_type"`
			AudioBase64 string `json:"audio_base_64"`
			SampleRate  int    `json:"sample_rate"`
			Commit      bool   `json:"commit"`
		}
		if err := json.Unmarshal(data, &msg); err != nil || msg.MessageType != "input_audio_chunk" {
			continue
		}
		audio, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
		if err != nil {
			conn.WriteJSON(map[string]any{"message_type": "input_error", "error": "bad base64"})
			continue
		}

		chunk := Chunk{Audio: audio, SampleRate: msg.SampleRate, Commit: msg.Commit}
		r.mu.Lock()
		r.chunks = append(r.chunks, chunk)
		r.mu.Unlock()

		if r.OnChunk == nil {
			continue
		}
		for _, reply := range r.OnChunk(chunk) {
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}
}

func (r *Recognizer) handleBatch(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	form := BatchForm{
		APIKey:      req.Header.Get("xi-api-key"),
		ModelID:     req.FormValue("model_id"),
		Diarize:     req.FormValue("diarize"),
		Granularity: req.FormValue("timestamps_granularity"),
	}
	if file, header, err := req.FormFile("file"); err == nil {
		data, _ := io.ReadAll(file)
		file.Close()
		form.Filename = header.Filename
		form.Size = len(data)
	}

	r.mu.Lock()
	r.batchForms = append(r.batchForms, form)
	r.mu.Unlock()

	if !r.authorized(req) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
		return
	}
	if r.BatchStatus != 0 && r.BatchStatus != http.StatusOK {
		http.Error(w, `{"detail":"batch failure"}`, r.BatchStatus)
		return
	}

	resp := r.BatchResponse
	if resp == nil {
		resp = map[string]any{"text": "", "words": []any{}}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// TokenRequests returns how many token requests were received.
func (r *Recognizer) TokenRequests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokenRequests
}

// Chunks returns the audio chunks received so far.
func (r *Recognizer) Chunks() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Chunk(nil), r.chunks...)
}

// Queries returns the query strings of every realtime session.
func (r *Recognizer) Queries() []url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]url.Values(nil), r.queries...)
}

// BatchForms returns the recorded batch uploads.
func (r *Recognizer) BatchForms() []BatchForm {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]BatchForm(nil), r.batchForms...)
}

// ClosedCleanly reports whether a client sent a normal close frame.
func (r *Recognizer) ClosedCleanly() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closedCleanly
}

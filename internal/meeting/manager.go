package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/meeting-scribe/internal/fanout"
	"github.com/skypro1111/meeting-scribe/internal/metrics"
	"github.com/skypro1111/meeting-scribe/internal/transcription"
)

// End reasons.
const (
	ReasonManual    = "manual"
	ReasonAutoEmpty = "auto_empty"
	ReasonShutdown  = "shutdown"
)

// Config controls meeting behavior.
type Config struct {
	Enabled           bool
	RecordingsDir     string
	KeepRecordings    bool
	VoiceReadyTimeout time.Duration
	MessageLimit      int
	SystemPrompt      string

	QueueCapacity     int
	DraftDebounce     time.Duration
	CommitBatchSize   int
	CommitBatchWindow time.Duration

	// Credentials maps a credential name to its value; any empty value
	// makes StartMeeting fail with ErrMissingCredentials.
	Credentials map[string]string
}

// Deps are the collaborators of a Manager. Notes may be nil to disable
// external persistence.
type Deps struct {
	Voice      VoiceTransport
	Messenger  Messenger
	NewCapture CaptureFactory
	Diarizer   Diarizer
	Summarizer Summarizer
	Notes      NotesStore
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// StartRequest identifies where a meeting runs and who started it.
type StartRequest struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	StartedBy      string
}

// EndResult reports the outcome of EndMeeting.
type EndResult struct {
	ChannelID       string `json:"channel_id"`
	ThreadID        string `json:"thread_id"`
	ExternalPageURL string `json:"external_page_url,omitempty"`
	AlreadyEnding   bool   `json:"already_ending"`
	Reason          string `json:"reason"`
}

// VoiceStateUpdate is a user's voice channel change within a guild.
// ChannelID is empty when the user left voice.
type VoiceStateUpdate struct {
	GuildID           string
	UserID            string
	ChannelID         string
	PreviousChannelID string
	Bot               bool
}

// Manager owns the active meeting sessions, keyed by guild.
type Manager struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	starting map[string]struct{}
	ending   map[string]*Session
	closed   bool

	background sync.WaitGroup
}

// NewManager creates a manager. Voice, Messenger and NewCapture are required.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Voice == nil || deps.Messenger == nil || deps.NewCapture == nil {
		return nil, fmt.Errorf("voice transport, messenger and capture factory are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.VoiceReadyTimeout <= 0 {
		cfg.VoiceReadyTimeout = 15 * time.Second
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = 2000
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.DraftDebounce <= 0 {
		cfg.DraftDebounce = 500 * time.Millisecond
	}
	if cfg.CommitBatchSize <= 0 {
		cfg.CommitBatchSize = 6
	}
	if cfg.CommitBatchWindow <= 0 {
		cfg.CommitBatchWindow = time.Second
	}

	return &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With(slog.String("component", "meeting_manager")),
		metrics:  deps.Metrics,
		sessions: make(map[string]*Session),
		starting: make(map[string]struct{}),
		ending:   make(map[string]*Session),
	}, nil
}

// StartMeeting joins the voice channel, opens a thread for the meeting and
// starts live transcription. On error nothing acquired is left behind.
func (m *Manager) StartMeeting(ctx context.Context, req StartRequest) (*Session, error) {
	if !m.cfg.Enabled {
		m.metrics.RecordMeetingStartFailure("disabled")
		return nil, ErrFeatureDisabled
	}
	if missing := m.missingCredentials(); len(missing) > 0 {
		m.metrics.RecordMeetingStartFailure("credentials")
		return nil, fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	_, active := m.sessions[req.GuildID]
	_, reserved := m.starting[req.GuildID]
	if active || reserved {
		m.mu.Unlock()
		m.metrics.RecordMeetingStartFailure("already_active")
		return nil, ErrMeetingAlreadyActive
	}
	m.starting[req.GuildID] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.starting, req.GuildID)
		m.mu.Unlock()
	}()

	logger := m.logger.With(
		slog.String("guild_id", req.GuildID),
		slog.String("voice_channel_id", req.VoiceChannelID),
	)

	conn, err := m.joinVoice(ctx, req)
	if err != nil {
		m.metrics.RecordMeetingStartFailure("voice_join")
		logger.Error("Failed to join voice channel", slog.String("error", err.Error()))
		return nil, err
	}

	s := m.newSession(ctx, req, conn)
	logger = logger.With(slog.String("session_id", s.ID))

	engine, err := m.deps.NewCapture(ctx, CaptureRequest{
		SessionID:     s.ID,
		RecordingPath: s.recordingPath,
		Conn:          conn,
		OnUpdate:      s.broadcaster.Publish,
	})
	if err != nil {
		s.stopConsumers()
		conn.Destroy()
		m.closeThread(ctx, s, logger)
		m.metrics.RecordMeetingStartFailure("transcriber")
		logger.Error("Failed to start transcriber", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrTranscriberStart, err)
	}
	s.engine = engine

	m.subscribePresent(s, logger)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.discard(s)
		m.closeThread(ctx, s, logger)
		return nil, ErrShuttingDown
	}
	m.sessions[req.GuildID] = s
	m.metrics.SetActiveMeetings(len(m.sessions))
	m.background.Add(1)
	m.mu.Unlock()
	go m.watchConnection(s)

	m.metrics.RecordMeetingStarted()
	logger.Info("Meeting started",
		slog.String("thread_id", s.ThreadID),
		slog.String("started_by", req.StartedBy),
		slog.Bool("had_human", s.hadHuman.Load()),
	)

	if err := s.post(ctx, "🎙️ Live transcription started. Committed speech will appear here."); err != nil {
		logger.Warn("Failed to post start notice", slog.String("error", err.Error()))
	}
	return s, nil
}

// joinVoice joins and waits for the connection to become ready. The
// connection is destroyed on every failure path.
func (m *Manager) joinVoice(ctx context.Context, req StartRequest) (VoiceConnection, error) {
	conn, err := m.deps.Voice.JoinVoice(ctx, req.GuildID, req.VoiceChannelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVoiceJoinFailed, err)
	}

	timer := time.NewTimer(m.cfg.VoiceReadyTimeout)
	defer timer.Stop()

	select {
	case <-conn.Ready():
		return conn, nil
	case err := <-conn.Failed():
		conn.Destroy()
		if err == nil {
			err = errors.New("connection closed")
		}
		return nil, fmt.Errorf("%w: %v", ErrVoiceJoinFailed, err)
	case <-timer.C:
		conn.Destroy()
		return nil, fmt.Errorf("%w: not ready after %s", ErrVoiceJoinFailed, m.cfg.VoiceReadyTimeout)
	case <-ctx.Done():
		conn.Destroy()
		return nil, fmt.Errorf("%w: %v", ErrVoiceJoinFailed, ctx.Err())
	}
}

// newSession creates the meeting thread and starts both transcript consumers.
func (m *Manager) newSession(ctx context.Context, req StartRequest, conn VoiceConnection) *Session {
	id := uuid.NewString()
	startedAt := time.Now()
	logger := m.logger.With(slog.String("guild_id", req.GuildID), slog.String("session_id", id))

	threadID := req.TextChannelID
	name := "Meeting " + startedAt.UTC().Format("2006-01-02 15:04 UTC")
	if tid, err := m.deps.Messenger.CreateThread(ctx, req.TextChannelID, name); err != nil {
		logger.Warn("Failed to create meeting thread, using channel",
			slog.String("channel_id", req.TextChannelID),
			slog.String("error", err.Error()))
	} else {
		threadID = tid
	}

	s := &Session{
		ID:             id,
		GuildID:        req.GuildID,
		VoiceChannelID: req.VoiceChannelID,
		TextChannelID:  req.TextChannelID,
		ThreadID:       threadID,
		StartedBy:      req.StartedBy,
		StartedAt:      startedAt,
		conn:           conn,
		recordingPath:  filepath.Join(m.cfg.RecordingsDir, fmt.Sprintf("%s-%s.wav", req.GuildID, id)),
		broadcaster:    fanout.NewBroadcaster[transcription.Update](m.cfg.QueueCapacity, logger, m.metrics),
		done:           make(chan struct{}),
		messenger:      m.deps.Messenger,
		messageLimit:   m.cfg.MessageLimit,
		logger:         logger,
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	s.cancelConsumers = cancel
	s.draft = fanout.NewDraftConsumer(s, m.cfg.DraftDebounce, logger)
	committed := fanout.NewCommittedConsumer(s, s.draft, m.cfg.CommitBatchSize, m.cfg.CommitBatchWindow, logger)

	draftUpdates := s.broadcaster.Subscribe(draftSubscriber)
	committedUpdates := s.broadcaster.Subscribe(committedSubscriber)

	s.consumersWG.Add(2)
	go func() {
		defer s.consumersWG.Done()
		s.draft.Run(consumerCtx, draftUpdates)
	}()
	go func() {
		defer s.consumersWG.Done()
		committed.Run(consumerCtx, committedUpdates)
	}()
	return s
}

// subscribePresent subscribes every human already in the voice channel.
func (m *Manager) subscribePresent(s *Session, logger *slog.Logger) {
	members, err := m.deps.Voice.VoiceMembers(s.GuildID, s.VoiceChannelID)
	if err != nil {
		logger.Warn("Failed to list voice members", slog.String("error", err.Error()))
		return
	}
	for _, member := range members {
		if member.Bot {
			continue
		}
		s.engine.SubscribeUser(member.UserID)
		s.hadHuman.Store(true)
	}
}

func (m *Manager) missingCredentials() []string {
	var missing []string
	for name, value := range m.cfg.Credentials {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// EndMeeting ends the guild's meeting and runs the finalize pipeline.
// Concurrent callers that lose the race get AlreadyEnding with no side
// effects. Post-establishment failures are logged, never returned.
func (m *Manager) EndMeeting(ctx context.Context, guildID, reason string) (EndResult, error) {
	return m.end(ctx, guildID, nil, reason)
}

// end claims the guild's session, or only want when non-nil, and finalizes it.
func (m *Manager) end(ctx context.Context, guildID string, want *Session, reason string) (EndResult, error) {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	if !ok || (want != nil && s != want) {
		e, finalizing := m.ending[guildID]
		m.mu.Unlock()
		if finalizing && (want == nil || e == want) {
			return EndResult{
				ChannelID:     e.TextChannelID,
				ThreadID:      e.ThreadID,
				AlreadyEnding: true,
				Reason:        reason,
			}, nil
		}
		return EndResult{}, ErrNoActiveMeeting
	}
	if !s.ending.CompareAndSwap(false, true) {
		m.mu.Unlock()
		return EndResult{ChannelID: s.TextChannelID, ThreadID: s.ThreadID, AlreadyEnding: true, Reason: reason}, nil
	}
	delete(m.sessions, guildID)
	m.ending[guildID] = s
	m.metrics.SetActiveMeetings(len(m.sessions))
	m.mu.Unlock()

	result := m.finalize(ctx, s, reason)

	m.mu.Lock()
	if m.ending[guildID] == s {
		delete(m.ending, guildID)
	}
	m.mu.Unlock()
	return result, nil
}

// HandleVoiceStateUpdate subscribes humans joining a meeting's voice
// channel and ends the meeting once the last human has left.
func (m *Manager) HandleVoiceStateUpdate(ctx context.Context, u VoiceStateUpdate) {
	m.mu.Lock()
	s, ok := m.sessions[u.GuildID]
	m.mu.Unlock()
	if !ok {
		return
	}

	joined := u.ChannelID == s.VoiceChannelID
	left := u.PreviousChannelID == s.VoiceChannelID && !joined
	if !joined && !left {
		return
	}

	if joined && !u.Bot {
		s.engine.SubscribeUser(u.UserID)
		s.hadHuman.Store(true)
		s.logger.Debug("Participant joined meeting", slog.String("user_id", u.UserID))
	}

	members, err := m.deps.Voice.VoiceMembers(s.GuildID, s.VoiceChannelID)
	if err != nil {
		s.logger.Warn("Failed to list voice members", slog.String("error", err.Error()))
		return
	}
	humans := 0
	for _, member := range members {
		if !member.Bot {
			humans++
		}
	}
	if humans > 0 || !s.hadHuman.Load() {
		return
	}
	if !s.autoEnded.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.background.Add(1)
	m.mu.Unlock()

	s.logger.Info("Voice channel empty, ending meeting")
	go func() {
		defer m.background.Done()
		if _, err := m.end(context.WithoutCancel(ctx), s.GuildID, s, ReasonAutoEmpty); err != nil && !errors.Is(err, ErrNoActiveMeeting) {
			s.logger.Error("Automatic meeting end failed", slog.String("error", err.Error()))
		}
	}()
}

// watchConnection releases the session if its voice connection fails
// outside of a normal end.
func (m *Manager) watchConnection(s *Session) {
	defer m.background.Done()

	select {
	case err := <-s.conn.Failed():
		m.handleConnectionLost(s, s.conn, err)
	case <-s.done:
	}
}

// handleConnectionLost removes the session owning conn and releases its
// resources without posting notes or persisting anything.
func (m *Manager) handleConnectionLost(s *Session, conn VoiceConnection, cause error) {
	m.mu.Lock()
	current, ok := m.sessions[s.GuildID]
	if !ok || current != s || current.conn != conn || !s.ending.CompareAndSwap(false, true) {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.GuildID)
	m.metrics.SetActiveMeetings(len(m.sessions))
	m.mu.Unlock()

	attrs := []any{slog.Duration("duration", time.Since(s.StartedAt))}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	s.logger.Error("Voice connection lost, discarding meeting", attrs...)

	m.discard(s)
	m.metrics.RecordOrphanedConnection()
}

// discard releases every resource of a session that will not be finalized.
func (m *Manager) discard(s *Session) {
	s.closeDone()
	path, err := s.engine.Stop()
	if err != nil {
		s.logger.Warn("Capture stopped with error", slog.String("error", err.Error()))
	}
	s.stopConsumers()
	if err := s.ClearDraft(context.Background()); err != nil {
		s.logger.Warn("Failed to clear draft", slog.String("error", err.Error()))
	}
	s.conn.Destroy()
	m.removeRecording(s, path)
}

// ShutdownAll ends every meeting at process teardown. Sessions are removed
// first and then finalized one at a time; a panic while finalizing one
// session does not affect the others.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	var snapshot []*Session
	for guildID, s := range m.sessions {
		if s.ending.CompareAndSwap(false, true) {
			snapshot = append(snapshot, s)
			m.ending[guildID] = s
		}
	}
	m.sessions = make(map[string]*Session)
	m.metrics.SetActiveMeetings(0)
	m.mu.Unlock()

	m.logger.Info("Shutting down meetings", slog.Int("count", len(snapshot)))

	for _, s := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Panic while finalizing meeting", slog.Any("panic", r))
				}
			}()
			m.finalize(ctx, s, ReasonShutdown)
		}()

		m.mu.Lock()
		if m.ending[s.GuildID] == s {
			delete(m.ending, s.GuildID)
		}
		m.mu.Unlock()
	}

	m.background.Wait()
	m.logger.Info("Meeting manager stopped")
}

// Sessions returns every active session, oldest first.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Session returns the active session for a guild.
func (m *Manager) Session(guildID string) (SessionInfo, bool) {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	m.mu.Unlock()
	if !ok {
		return SessionInfo{}, false
	}
	return s.Info(), true
}

// ActiveCount returns the number of active sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

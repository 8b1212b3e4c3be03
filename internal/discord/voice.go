package discord

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/skypro1111/meeting-scribe/internal/capture"
)

const (
	speakerQueueSize = 64
	healthInterval   = 2 * time.Second
)

// voiceConn demultiplexes a voice connection's opus packets into one
// stream per speaker, using speaking updates to map SSRCs to users.
type voiceConn struct {
	logger *slog.Logger
	ready  chan struct{}
	failed chan error
	stop   chan struct{}

	failOnce sync.Once
	stopOnce sync.Once

	mu          sync.Mutex
	vc          *discordgo.VoiceConnection
	destroyed   bool
	users       map[uint32]string
	streams     map[string]*speakerStream
	handlers    map[int]func(string)
	nextHandler int
}

type speakerStream struct {
	conn   *voiceConn
	userID string
	ch     chan []byte
	closed bool
}

func newVoiceConn(logger *slog.Logger) *voiceConn {
	return &voiceConn{
		logger:   logger,
		ready:    make(chan struct{}),
		failed:   make(chan error, 1),
		stop:     make(chan struct{}),
		users:    make(map[uint32]string),
		streams:  make(map[string]*speakerStream),
		handlers: make(map[int]func(string)),
	}
}

// attach takes ownership of a joined connection. A connection destroyed
// while the join was in flight is disconnected immediately.
func (c *voiceConn) attach(vc *discordgo.VoiceConnection) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		vc.Disconnect()
		return
	}
	c.vc = vc
	c.mu.Unlock()

	vc.AddHandler(c.onSpeaking)
	go c.receive(vc.OpusRecv)
	go c.monitor(vc)
	close(c.ready)
	c.logger.Info("Voice connection ready")
}

func (c *voiceConn) Ready() <-chan struct{} { return c.ready }
func (c *voiceConn) Failed() <-chan error   { return c.failed }

func (c *voiceConn) fail(err error) {
	c.failOnce.Do(func() {
		c.failed <- err
	})
}

func (c *voiceConn) onSpeaking(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}

	c.mu.Lock()
	c.users[uint32(vs.SSRC)] = vs.UserID
	var handlers []func(string)
	if vs.Speaking {
		for _, h := range c.handlers {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(vs.UserID)
	}
}

func (c *voiceConn) receive(packets <-chan *discordgo.Packet) {
	for {
		select {
		case <-c.stop:
			return
		case p, ok := <-packets:
			if !ok {
				c.fail(errors.New("voice receive channel closed"))
				return
			}
			c.route(p)
		}
	}
}

// route delivers a packet to its speaker's stream. Packets from unknown
// SSRCs or unsubscribed speakers are dropped, as are packets for a full queue.
func (c *voiceConn) route(p *discordgo.Packet) {
	if p == nil || len(p.Opus) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	userID, ok := c.users[p.SSRC]
	if !ok {
		return
	}
	s, ok := c.streams[userID]
	if !ok {
		return
	}
	select {
	case s.ch <- p.Opus:
	default:
		c.logger.Debug("Speaker queue full, dropping packet", slog.String("user_id", userID))
	}
}

// monitor reports a failure when the connection stops being ready without
// Destroy having been called.
func (c *voiceConn) monitor(vc *discordgo.VoiceConnection) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			vc.RLock()
			ready := vc.Ready
			vc.RUnlock()
			if !ready {
				c.fail(errors.New("voice connection lost"))
				return
			}
		}
	}
}

// SubscribeSpeaker opens a packet stream for userID, replacing any
// previous stream for the same user.
func (c *voiceConn) SubscribeSpeaker(userID string) (capture.SpeakerStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil, errors.New("voice connection destroyed")
	}
	if old, ok := c.streams[userID]; ok {
		old.closeLocked()
	}
	s := &speakerStream{conn: c, userID: userID, ch: make(chan []byte, speakerQueueSize)}
	c.streams[userID] = s
	return s, nil
}

func (c *voiceConn) OnSpeakingStart(fn func(userID string)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextHandler
	c.nextHandler++
	c.handlers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

// Destroy leaves the voice channel and ends every speaker stream.
func (c *voiceConn) Destroy() {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	c.destroyed = true
	vc := c.vc
	c.vc = nil
	for _, s := range c.streams {
		s.closeLocked()
	}
	c.handlers = make(map[int]func(string))
	c.mu.Unlock()

	if vc != nil {
		if err := vc.Disconnect(); err != nil {
			c.logger.Warn("Failed to disconnect voice", slog.String("error", err.Error()))
		}
	}
}

func (s *speakerStream) Packets() <-chan []byte { return s.ch }

func (s *speakerStream) Close() {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	s.closeLocked()
}

func (s *speakerStream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	if s.conn.streams[s.userID] == s {
		delete(s.conn.streams, s.userID)
	}
}

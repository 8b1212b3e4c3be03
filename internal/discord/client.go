package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/skypro1111/meeting-scribe/internal/meeting"
)

var (
	_ meeting.VoiceTransport = (*Client)(nil)
	_ meeting.Messenger      = (*Client)(nil)
)

// Config configures the bot connection.
type Config struct {
	Token string
	// ThreadAutoArchive is the thread auto-archive duration in minutes.
	ThreadAutoArchive int
}

// Client is a connected bot session.
type Client struct {
	session *discordgo.Session
	cfg     Config
	logger  *slog.Logger
}

// New creates a client. The gateway is not opened until Open.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token cannot be empty")
	}
	if cfg.ThreadAutoArchive <= 0 {
		cfg.ThreadAutoArchive = 1440
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages

	return &Client{
		session: session,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "discord")),
	}, nil
}

// Open connects to the gateway.
func (c *Client) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	c.logger.Info("Discord gateway connected")
	return nil
}

// Close disconnects from the gateway.
func (c *Client) Close() error {
	return c.session.Close()
}

// OnVoiceStateUpdate registers fn for voice state changes and returns a
// function that unregisters it.
func (c *Client) OnVoiceStateUpdate(fn func(meeting.VoiceStateUpdate)) func() {
	return c.session.AddHandler(func(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
		fn(c.toVoiceStateUpdate(vsu))
	})
}

func (c *Client) toVoiceStateUpdate(vsu *discordgo.VoiceStateUpdate) meeting.VoiceStateUpdate {
	u := convertVoiceState(vsu)
	if vsu.VoiceState != nil && vsu.Member == nil {
		u.Bot = c.isBot(vsu.GuildID, vsu.UserID)
	}
	return u
}

func convertVoiceState(vsu *discordgo.VoiceStateUpdate) meeting.VoiceStateUpdate {
	var u meeting.VoiceStateUpdate
	if vsu.VoiceState != nil {
		u.GuildID = vsu.GuildID
		u.UserID = vsu.UserID
		u.ChannelID = vsu.ChannelID
		if vsu.Member != nil && vsu.Member.User != nil {
			u.Bot = vsu.Member.User.Bot
		}
	}
	if vsu.BeforeUpdate != nil {
		u.PreviousChannelID = vsu.BeforeUpdate.ChannelID
	}
	return u
}

// JoinVoice starts joining a voice channel. The returned connection's
// Ready channel closes once the join completes.
func (c *Client) JoinVoice(ctx context.Context, guildID, channelID string) (meeting.VoiceConnection, error) {
	conn := newVoiceConn(c.logger.With(slog.String("guild_id", guildID), slog.String("voice_channel_id", channelID)))

	go func() {
		vc, err := c.session.ChannelVoiceJoin(guildID, channelID, true, false)
		if err != nil {
			conn.fail(fmt.Errorf("voice join failed: %w", err))
			return
		}
		conn.attach(vc)
	}()
	return conn, nil
}

// VoiceMembers lists users in a voice channel from the gateway state cache.
func (c *Client) VoiceMembers(guildID, channelID string) ([]meeting.Member, error) {
	guild, err := c.session.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s not in state: %w", guildID, err)
	}

	var members []meeting.Member
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		var bot bool
		if vs.Member != nil && vs.Member.User != nil {
			bot = vs.Member.User.Bot
		} else {
			bot = c.isBot(guildID, vs.UserID)
		}
		members = append(members, meeting.Member{UserID: vs.UserID, Bot: bot})
	}
	return members, nil
}

func (c *Client) isBot(guildID, userID string) bool {
	if userID == c.session.State.User.ID {
		return true
	}
	if m, err := c.session.State.Member(guildID, userID); err == nil && m.User != nil {
		return m.User.Bot
	}
	u, err := c.session.User(userID)
	if err != nil {
		c.logger.Warn("Failed to look up user", slog.String("user_id", userID), slog.String("error", err.Error()))
		return false
	}
	return u.Bot
}

// Send posts a message and returns its id.
func (c *Client) Send(ctx context.Context, channelID, text string) (string, error) {
	msg, err := c.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	return msg.ID, nil
}

// Edit replaces a message's content.
func (c *Client) Edit(ctx context.Context, channelID, messageID, text string) error {
	_, err := c.session.ChannelMessageEdit(channelID, messageID, text, discordgo.WithContext(ctx))
	return mapError(err)
}

// Delete removes a message.
func (c *Client) Delete(ctx context.Context, channelID, messageID string) error {
	return mapError(c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

// CreateThread starts a public thread in channelID.
func (c *Client) CreateThread(ctx context.Context, channelID, name string) (string, error) {
	ch, err := c.session.ThreadStart(channelID, name, discordgo.ChannelTypeGuildPublicThread, c.cfg.ThreadAutoArchive, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	return ch.ID, nil
}

// LockThread prevents further replies in a thread.
func (c *Client) LockThread(ctx context.Context, threadID string) error {
	locked := true
	_, err := c.session.ChannelEdit(threadID, &discordgo.ChannelEdit{Locked: &locked}, discordgo.WithContext(ctx))
	return mapError(err)
}

// ArchiveThread archives a thread.
func (c *Client) ArchiveThread(ctx context.Context, threadID string) error {
	archived := true
	_, err := c.session.ChannelEdit(threadID, &discordgo.ChannelEdit{Archived: &archived}, discordgo.WithContext(ctx))
	return mapError(err)
}

// mapError turns unknown-message responses into meeting.ErrMessageNotFound.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage {
			return fmt.Errorf("%w: %v", meeting.ErrMessageNotFound, err)
		}
		if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v", meeting.ErrMessageNotFound, err)
		}
	}
	return err
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvDiscordToken     = "DISCORD_TOKEN"
	EnvElevenLabsAPIKey = "ELEVENLABS_API_KEY"
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvNotionAPIKey     = "NOTION_API_KEY"
	EnvNotionDatabaseID = "NOTION_DATABASE_ID"
	EnvLogLevel         = "SCRIBE_LOG_LEVEL"
	EnvMeetingEnabled   = "SCRIBE_MEETINGS_ENABLED"
)

// Config represents the complete service configuration
type Config struct {
	Meeting       MeetingConfig       `yaml:"meeting"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Fanout        FanoutConfig        `yaml:"fanout"`
	Summary       SummaryConfig       `yaml:"summary"`
	Notes         NotesConfig         `yaml:"notes"`
	Discord       DiscordConfig       `yaml:"discord"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// MeetingConfig controls meeting sessions
type MeetingConfig struct {
	Enabled           bool   `yaml:"enabled"`
	RecordingsDir     string `yaml:"recordings_dir"`
	KeepRecordings    bool   `yaml:"keep_recordings"`
	VoiceReadyTimeout int    `yaml:"voice_ready_timeout"` // seconds
	MessageLimit      int    `yaml:"message_limit"`       // characters
}

// AudioConfig contains capture and mixing parameters
type AudioConfig struct {
	SampleRate    int `yaml:"sample_rate"`
	Channels      int `yaml:"channels"`
	FrameSize     int `yaml:"frame_size"`      // samples per channel
	MixIntervalMs int `yaml:"mix_interval_ms"` // milliseconds
}

// TranscriptionConfig contains realtime and batch recognizer settings
type TranscriptionConfig struct {
	APIKey             string `yaml:"api_key"`
	TokenURL           string `yaml:"token_url"`
	RealtimeURL        string `yaml:"realtime_url"`
	RealtimeModel      string `yaml:"realtime_model"`
	RealtimeSampleRate int    `yaml:"realtime_sample_rate"`
	CommitStrategy     string `yaml:"commit_strategy"`
	StartupTimeout     int    `yaml:"startup_timeout"`   // seconds
	FlushIntervalMs    int    `yaml:"flush_interval_ms"` // milliseconds
	CloseTimeout       int    `yaml:"close_timeout"`     // seconds
	BatchURL           string `yaml:"batch_url"`
	BatchModel         string `yaml:"batch_model"`
	BatchTimeout       int    `yaml:"batch_timeout"` // seconds
	MaxRetries         int    `yaml:"max_retries"`
	MaxConcurrent      int    `yaml:"max_concurrent"`
}

// FanoutConfig controls the live draft and committed transcript consumers
type FanoutConfig struct {
	QueueCapacity       int `yaml:"queue_capacity"`
	DraftDebounceMs     int `yaml:"draft_debounce_ms"`
	CommitBatchSize     int `yaml:"commit_batch_size"`
	CommitBatchWindowMs int `yaml:"commit_batch_window_ms"`
}

// SummaryConfig contains text completion settings
type SummaryConfig struct {
	APIKey       string `yaml:"api_key"`
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	MaxTokens    int    `yaml:"max_tokens"`
	Timeout      int    `yaml:"timeout"` // seconds
	MaxRetries   int    `yaml:"max_retries"`
	SystemPrompt string `yaml:"system_prompt"`
}

// NotesConfig contains Notion persistence settings
type NotesConfig struct {
	Enabled       bool   `yaml:"enabled"`
	APIKey        string `yaml:"api_key"`
	DatabaseID    string `yaml:"database_id"`
	Endpoint      string `yaml:"endpoint"`
	Version       string `yaml:"version"`
	TitleProperty string `yaml:"title_property"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
}

// DiscordConfig contains bot settings
type DiscordConfig struct {
	Token             string `yaml:"token"`
	ThreadAutoArchive int    `yaml:"thread_auto_archive"` // minutes
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for any value the file omits.
func Default() Config {
	return Config{
		Meeting: MeetingConfig{
			Enabled:           true,
			RecordingsDir:     "./recordings",
			VoiceReadyTimeout: 15,
			MessageLimit:      2000,
		},
		Audio: AudioConfig{
			SampleRate:    48000,
			Channels:      2,
			FrameSize:     960,
			MixIntervalMs: 20,
		},
		Transcription: TranscriptionConfig{
			TokenURL:           "https://api.elevenlabs.io/v1/single-use-token/realtime_scribe",
			RealtimeURL:        "wss://api.elevenlabs.io/v1/speech-to-text/realtime",
			RealtimeModel:      "scribe_v2_realtime",
			RealtimeSampleRate: 16000,
			CommitStrategy:     "vad",
			StartupTimeout:     10,
			FlushIntervalMs:    40,
			CloseTimeout:       2,
			BatchURL:           "https://api.elevenlabs.io/v1/speech-to-text",
			BatchModel:         "scribe_v1",
			BatchTimeout:       300,
			MaxRetries:         3,
			MaxConcurrent:      2,
		},
		Fanout: FanoutConfig{
			QueueCapacity:       64,
			DraftDebounceMs:     500,
			CommitBatchSize:     6,
			CommitBatchWindowMs: 1000,
		},
		Summary: SummaryConfig{
			Endpoint:   "https://api.anthropic.com/v1/messages",
			Model:      "claude-haiku-4-5",
			MaxTokens:  4096,
			Timeout:    120,
			MaxRetries: 2,
		},
		Notes: NotesConfig{
			Endpoint:      "https://api.notion.com",
			Version:       "2022-06-28",
			TitleProperty: "Name",
			Timeout:       30,
			MaxRetries:    2,
		},
		Discord: DiscordConfig{
			ThreadAutoArchive: 1440,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads a .env file from the working directory when present, then
// parses the configuration file over the defaults and applies environment
// overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadFile(path)
}

// LoadFile parses the configuration file over the defaults, applies
// environment overrides and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyEnv overrides secrets and selected settings from the environment.
func (c *Config) ApplyEnv() error {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	override(&c.Discord.Token, EnvDiscordToken)
	override(&c.Transcription.APIKey, EnvElevenLabsAPIKey)
	override(&c.Summary.APIKey, EnvAnthropicAPIKey)
	override(&c.Notes.APIKey, EnvNotionAPIKey)
	override(&c.Notes.DatabaseID, EnvNotionDatabaseID)
	override(&c.Logging.Level, EnvLogLevel)

	if v := os.Getenv(EnvMeetingEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvMeetingEnabled, v, err)
		}
		c.Meeting.Enabled = enabled
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Meeting.Validate(); err != nil {
		return fmt.Errorf("meeting config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Fanout.Validate(); err != nil {
		return fmt.Errorf("fanout config: %w", err)
	}

	if err := c.Summary.Validate(); err != nil {
		return fmt.Errorf("summary config: %w", err)
	}

	if err := c.Notes.Validate(); err != nil {
		return fmt.Errorf("notes config: %w", err)
	}

	if err := c.Discord.Validate(); err != nil {
		return fmt.Errorf("discord config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// MeetingCredentials returns the credentials a meeting needs, keyed by
// environment variable name. Empty values are missing credentials.
func (c *Config) MeetingCredentials() map[string]string {
	creds := map[string]string{
		EnvElevenLabsAPIKey: c.Transcription.APIKey,
		EnvAnthropicAPIKey:  c.Summary.APIKey,
	}
	if c.Notes.Enabled {
		creds[EnvNotionAPIKey] = c.Notes.APIKey
	}
	return creds
}

// Validate validates meeting configuration
func (m *MeetingConfig) Validate() error {
	if m.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir cannot be empty")
	}

	if m.VoiceReadyTimeout < 1 {
		return fmt.Errorf("voice_ready_timeout must be at least 1 second, got %d", m.VoiceReadyTimeout)
	}

	if m.MessageLimit < 100 || m.MessageLimit > 2000 {
		return fmt.Errorf("message_limit must be between 100 and 2000, got %d", m.MessageLimit)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	validRates := map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}
	if !validRates[a.SampleRate] {
		return fmt.Errorf("sample_rate must be an opus rate (8000, 12000, 16000, 24000, 48000), got %d", a.SampleRate)
	}

	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	if a.FrameSize < 1 {
		return fmt.Errorf("frame_size must be positive, got %d", a.FrameSize)
	}

	if a.MixIntervalMs < 1 {
		return fmt.Errorf("mix_interval_ms must be positive, got %d", a.MixIntervalMs)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.TokenURL == "" || t.RealtimeURL == "" || t.BatchURL == "" {
		return fmt.Errorf("token_url, realtime_url and batch_url cannot be empty")
	}

	if t.RealtimeSampleRate < 8000 || t.RealtimeSampleRate > 48000 {
		return fmt.Errorf("realtime_sample_rate must be between 8000 and 48000, got %d", t.RealtimeSampleRate)
	}

	if t.CommitStrategy != "vad" && t.CommitStrategy != "manual" {
		return fmt.Errorf("commit_strategy must be 'vad' or 'manual', got '%s'", t.CommitStrategy)
	}

	if t.StartupTimeout < 1 {
		return fmt.Errorf("startup_timeout must be at least 1 second, got %d", t.StartupTimeout)
	}

	if t.FlushIntervalMs < 1 {
		return fmt.Errorf("flush_interval_ms must be positive, got %d", t.FlushIntervalMs)
	}

	if t.CloseTimeout < 1 {
		return fmt.Errorf("close_timeout must be at least 1 second, got %d", t.CloseTimeout)
	}

	if t.BatchTimeout < 1 {
		return fmt.Errorf("batch_timeout must be at least 1 second, got %d", t.BatchTimeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates fan-out configuration
func (f *FanoutConfig) Validate() error {
	if f.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", f.QueueCapacity)
	}

	if f.DraftDebounceMs < 0 {
		return fmt.Errorf("draft_debounce_ms cannot be negative, got %d", f.DraftDebounceMs)
	}

	if f.CommitBatchSize < 1 {
		return fmt.Errorf("commit_batch_size must be at least 1, got %d", f.CommitBatchSize)
	}

	if f.CommitBatchWindowMs < 1 {
		return fmt.Errorf("commit_batch_window_ms must be positive, got %d", f.CommitBatchWindowMs)
	}

	return nil
}

// Validate validates summary configuration
func (s *SummaryConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if s.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", s.MaxTokens)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	return nil
}

// Validate validates notes configuration
func (n *NotesConfig) Validate() error {
	if !n.Enabled {
		return nil
	}

	if n.DatabaseID == "" {
		return fmt.Errorf("database_id cannot be empty when notes are enabled")
	}

	if n.Endpoint == "" || n.Version == "" {
		return fmt.Errorf("endpoint and version cannot be empty when notes are enabled")
	}

	if n.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", n.Timeout)
	}

	return nil
}

// Validate validates Discord configuration
func (d *DiscordConfig) Validate() error {
	validArchive := map[int]bool{60: true, 1440: true, 4320: true, 10080: true}
	if !validArchive[d.ThreadAutoArchive] {
		return fmt.Errorf("thread_auto_archive must be one of [60, 1440, 4320, 10080] minutes, got %d", d.ThreadAutoArchive)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Any other output value is treated as a file path.
	return nil
}

// Sanitized returns a copy with every secret masked, safe to expose over HTTP.
func (c Config) Sanitized() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.Transcription.APIKey = mask(c.Transcription.APIKey)
	c.Summary.APIKey = mask(c.Summary.APIKey)
	c.Notes.APIKey = mask(c.Notes.APIKey)
	c.Discord.Token = mask(c.Discord.Token)
	return c
}

// GetVoiceReadyTimeout returns the voice ready timeout as a time.Duration
func (m *MeetingConfig) GetVoiceReadyTimeout() time.Duration {
	return time.Duration(m.VoiceReadyTimeout) * time.Second
}

// GetMixInterval returns the mixing tick as a time.Duration
func (a *AudioConfig) GetMixInterval() time.Duration {
	return time.Duration(a.MixIntervalMs) * time.Millisecond
}

// GetStartupTimeout returns the realtime startup timeout as a time.Duration
func (t *TranscriptionConfig) GetStartupTimeout() time.Duration {
	return time.Duration(t.StartupTimeout) * time.Second
}

// GetFlushInterval returns the realtime flush interval as a time.Duration
func (t *TranscriptionConfig) GetFlushInterval() time.Duration {
	return time.Duration(t.FlushIntervalMs) * time.Millisecond
}

// GetCloseTimeout returns the realtime close timeout as a time.Duration
func (t *TranscriptionConfig) GetCloseTimeout() time.Duration {
	return time.Duration(t.CloseTimeout) * time.Second
}

// GetBatchTimeout returns the batch request timeout as a time.Duration
func (t *TranscriptionConfig) GetBatchTimeout() time.Duration {
	return time.Duration(t.BatchTimeout) * time.Second
}

// GetDraftDebounce returns the draft debounce window as a time.Duration
func (f *FanoutConfig) GetDraftDebounce() time.Duration {
	return time.Duration(f.DraftDebounceMs) * time.Millisecond
}

// GetCommitBatchWindow returns the committed batch window as a time.Duration
func (f *FanoutConfig) GetCommitBatchWindow() time.Duration {
	return time.Duration(f.CommitBatchWindowMs) * time.Millisecond
}

// GetTimeoutDuration returns the summary timeout as a time.Duration
func (s *SummaryConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetTimeoutDuration returns the notes timeout as a time.Duration
func (n *NotesConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(n.Timeout) * time.Second
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "defaults are valid",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name: "empty recordings dir",
			mutate: func(c *Config) {
				c.Meeting.RecordingsDir = ""
			},
			expectError: true,
			errorMsg:    "recordings_dir cannot be empty",
		},
		{
			name: "message limit above Discord maximum",
			mutate: func(c *Config) {
				c.Meeting.MessageLimit = 4000
			},
			expectError: true,
			errorMsg:    "message_limit must be between 100 and 2000",
		},
		{
			name: "non-opus sample rate",
			mutate: func(c *Config) {
				c.Audio.SampleRate = 44100
			},
			expectError: true,
			errorMsg:    "sample_rate must be an opus rate",
		},
		{
			name: "three channels",
			mutate: func(c *Config) {
				c.Audio.Channels = 3
			},
			expectError: true,
			errorMsg:    "channels must be 1 or 2",
		},
		{
			name: "unknown commit strategy",
			mutate: func(c *Config) {
				c.Transcription.CommitStrategy = "eager"
			},
			expectError: true,
			errorMsg:    "commit_strategy must be 'vad' or 'manual'",
		},
		{
			name: "zero queue capacity",
			mutate: func(c *Config) {
				c.Fanout.QueueCapacity = 0
			},
			expectError: true,
			errorMsg:    "queue_capacity must be at least 1",
		},
		{
			name: "empty summary model",
			mutate: func(c *Config) {
				c.Summary.Model = ""
			},
			expectError: true,
			errorMsg:    "model cannot be empty",
		},
		{
			name: "notes enabled without database",
			mutate: func(c *Config) {
				c.Notes.Enabled = true
			},
			expectError: true,
			errorMsg:    "database_id cannot be empty",
		},
		{
			name: "notes disabled without database",
			mutate: func(c *Config) {
				c.Notes.Enabled = false
				c.Notes.DatabaseID = ""
			},
			expectError: false,
		},
		{
			name: "invalid thread auto archive",
			mutate: func(c *Config) {
				c.Discord.ThreadAutoArchive = 90
			},
			expectError: true,
			errorMsg:    "thread_auto_archive must be one of",
		},
		{
			name: "missing credentials are not a validation error",
			mutate: func(c *Config) {
				c.Transcription.APIKey = ""
				c.Summary.APIKey = ""
				c.Discord.Token = ""
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(&config)
			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvMeetingEnabled, "")

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
meeting:
  enabled: true
  recordings_dir: "/tmp/recordings"
  voice_ready_timeout: 20
audio:
  sample_rate: 48000
  channels: 2
  frame_size: 960
  mix_interval_ms: 20
fanout:
  draft_debounce_ms: 250
summary:
  model: "claude-haiku-4-5"
logging:
  level: "debug"
  format: "text"
  output: "stdout"
`,
			expectError: false,
		},
		{
			name:        "empty file uses defaults",
			configYAML:  "",
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
audio:
  sample_rate: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid value",
			configYAML: `
meeting:
  recordings_dir: ""
`,
			expectError: true,
			errorMsg:    "recordings_dir cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to write test config file: %v", err)
			}

			config, err := LoadFile(configPath)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if config == nil {
				t.Fatalf("Expected config but got nil")
			}
		})
	}
}

func TestConfigLoadMergesDefaults(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvMeetingEnabled, "")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
fanout:
  draft_debounce_ms: 250
`
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	config, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if config.Fanout.DraftDebounceMs != 250 {
		t.Errorf("Expected draft debounce 250, got %d", config.Fanout.DraftDebounceMs)
	}
	if config.Fanout.CommitBatchSize != 6 {
		t.Errorf("Expected default commit batch size 6, got %d", config.Fanout.CommitBatchSize)
	}
	if config.Audio.SampleRate != 48000 {
		t.Errorf("Expected default sample rate 48000, got %d", config.Audio.SampleRate)
	}
	if config.Logging.Level != "info" {
		t.Errorf("Expected default level info, got %s", config.Logging.Level)
	}
}

func TestConfigLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvDiscordToken, "discord-token")
	t.Setenv(EnvElevenLabsAPIKey, "eleven-key")
	t.Setenv(EnvAnthropicAPIKey, "anthropic-key")
	t.Setenv(EnvNotionAPIKey, "notion-key")
	t.Setenv(EnvNotionDatabaseID, "db-123")
	t.Setenv(EnvLogLevel, "WARN")
	t.Setenv(EnvMeetingEnabled, "false")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
transcription:
  api_key: "file-key"
notes:
  enabled: true
`
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	config, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if config.Discord.Token != "discord-token" {
		t.Errorf("Expected discord token from env, got %s", config.Discord.Token)
	}
	if config.Transcription.APIKey != "eleven-key" {
		t.Errorf("Expected env to override file api key, got %s", config.Transcription.APIKey)
	}
	if config.Notes.DatabaseID != "db-123" {
		t.Errorf("Expected database id from env, got %s", config.Notes.DatabaseID)
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Expected level warn, got %s", config.Logging.Level)
	}
	if config.Meeting.Enabled {
		t.Errorf("Expected meetings disabled by env")
	}
}

func TestConfigLoadInvalidEnvBool(t *testing.T) {
	t.Setenv(EnvMeetingEnabled, "maybe")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(""), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	if _, err := LoadFile(configPath); err == nil {
		t.Errorf("Expected error for invalid boolean but got none")
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := LoadFile("/nonexistent/config.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	}

	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading config file, got: %v", err)
	}
}

func TestMeetingCredentials(t *testing.T) {
	config := Default()
	config.Transcription.APIKey = "eleven"

	creds := config.MeetingCredentials()
	if len(creds) != 2 {
		t.Errorf("Expected 2 credentials without notes, got %d", len(creds))
	}
	if creds[EnvElevenLabsAPIKey] != "eleven" {
		t.Errorf("Expected transcription key, got %q", creds[EnvElevenLabsAPIKey])
	}
	if creds[EnvAnthropicAPIKey] != "" {
		t.Errorf("Expected empty summary key, got %q", creds[EnvAnthropicAPIKey])
	}

	config.Notes.Enabled = true
	creds = config.MeetingCredentials()
	if _, ok := creds[EnvNotionAPIKey]; !ok {
		t.Errorf("Expected notion key to be required when notes are enabled")
	}
}

func TestSanitized(t *testing.T) {
	config := Default()
	config.Discord.Token = "secret-token"
	config.Summary.APIKey = "secret-key"

	clean := config.Sanitized()
	if clean.Discord.Token != "***" {
		t.Errorf("Expected masked token, got %s", clean.Discord.Token)
	}
	if clean.Summary.APIKey != "***" {
		t.Errorf("Expected masked summary key, got %s", clean.Summary.APIKey)
	}
	if clean.Transcription.APIKey != "" {
		t.Errorf("Expected empty key to stay empty, got %s", clean.Transcription.APIKey)
	}
	if config.Discord.Token != "secret-token" {
		t.Errorf("Expected original config to be untouched")
	}
}

func TestDurationHelpers(t *testing.T) {
	config := Default()

	if got := config.Meeting.GetVoiceReadyTimeout(); got != 15*time.Second {
		t.Errorf("Expected voice ready timeout 15s, got %v", got)
	}
	if got := config.Audio.GetMixInterval(); got != 20*time.Millisecond {
		t.Errorf("Expected mix interval 20ms, got %v", got)
	}
	if got := config.Fanout.GetDraftDebounce(); got != 500*time.Millisecond {
		t.Errorf("Expected draft debounce 500ms, got %v", got)
	}
	if got := config.Fanout.GetCommitBatchWindow(); got != time.Second {
		t.Errorf("Expected commit batch window 1s, got %v", got)
	}
	if got := config.Transcription.GetBatchTimeout(); got != 5*time.Minute {
		t.Errorf("Expected batch timeout 5m, got %v", got)
	}
	if got := config.Summary.GetTimeoutDuration(); got != 2*time.Minute {
		t.Errorf("Expected summary timeout 2m, got %v", got)
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		config      LoggingConfig
		expectError bool
	}{
		{"valid json", LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, false},
		{"valid text to file", LoggingConfig{Level: "debug", Format: "text", Output: "/var/log/scribe.log"}, false},
		{"invalid level", LoggingConfig{Level: "verbose", Format: "json", Output: "stdout"}, true},
		{"invalid format", LoggingConfig{Level: "info", Format: "xml", Output: "stdout"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/skypro1111/meeting-scribe/internal/capture"
	"github.com/skypro1111/meeting-scribe/internal/config"
	"github.com/skypro1111/meeting-scribe/internal/discord"
	"github.com/skypro1111/meeting-scribe/internal/meeting"
	"github.com/skypro1111/meeting-scribe/internal/metrics"
	"github.com/skypro1111/meeting-scribe/internal/notes"
	"github.com/skypro1111/meeting-scribe/internal/server"
	"github.com/skypro1111/meeting-scribe/internal/summary"
	"github.com/skypro1111/meeting-scribe/internal/transcription"
)

// shutdownTimeout bounds finalization of every open meeting on exit.
const shutdownTimeout = 5 * time.Minute

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the HTTP control API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return serve(path, cfg)
		},
	}
}

func serve(configPath string, cfg *config.Config) error {
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.Bool("meetings_enabled", cfg.Meeting.Enabled),
		slog.String("recordings_dir", cfg.Meeting.RecordingsDir),
		slog.Bool("keep_recordings", cfg.Meeting.KeepRecordings),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("realtime_sample_rate", cfg.Transcription.RealtimeSampleRate),
		slog.String("summary_model", cfg.Summary.Model),
		slog.Bool("notes_enabled", cfg.Notes.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	if missing := missingCredentials(cfg); len(missing) > 0 {
		logger.Warn("Credentials missing, meetings will be rejected until configured",
			slog.Any("missing", missing))
	}

	if err := os.MkdirAll(cfg.Meeting.RecordingsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create recordings directory: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	bot, err := discord.New(discord.Config{
		Token:             cfg.Discord.Token,
		ThreadAutoArchive: cfg.Discord.ThreadAutoArchive,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create discord client: %w", err)
	}

	deps := meeting.Deps{
		Voice:     bot,
		Messenger: bot,
		NewCapture: meeting.NewCaptureFactory(capture.Config{
			SampleRate:           cfg.Audio.SampleRate,
			Channels:             cfg.Audio.Channels,
			FrameSize:            cfg.Audio.FrameSize,
			MixInterval:          cfg.Audio.GetMixInterval(),
			RecognizerSampleRate: cfg.Transcription.RealtimeSampleRate,
		}, transcription.RealtimeConfig{
			APIKey:         cfg.Transcription.APIKey,
			TokenURL:       cfg.Transcription.TokenURL,
			URL:            cfg.Transcription.RealtimeURL,
			ModelID:        cfg.Transcription.RealtimeModel,
			CommitStrategy: cfg.Transcription.CommitStrategy,
			StartupTimeout: cfg.Transcription.GetStartupTimeout(),
			FlushInterval:  cfg.Transcription.GetFlushInterval(),
			CloseTimeout:   cfg.Transcription.GetCloseTimeout(),
			MaxRetries:     cfg.Transcription.MaxRetries,
		}, logger, appMetrics),
		Logger:  logger,
		Metrics: appMetrics,
	}

	var batchStats server.BatchStats
	if batch, err := transcription.NewBatchClient(transcription.BatchConfig{
		Endpoint:      cfg.Transcription.BatchURL,
		APIKey:        cfg.Transcription.APIKey,
		ModelID:       cfg.Transcription.BatchModel,
		Timeout:       cfg.Transcription.GetBatchTimeout(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	}, logger, appMetrics); err != nil {
		logger.Warn("Batch diarization unavailable", slog.String("error", err.Error()))
	} else {
		deps.Diarizer = batch
		batchStats = batch
	}

	if completer, err := summary.NewAnthropicClient(summary.Config{
		APIKey:     cfg.Summary.APIKey,
		Endpoint:   cfg.Summary.Endpoint,
		Model:      cfg.Summary.Model,
		MaxTokens:  cfg.Summary.MaxTokens,
		Timeout:    cfg.Summary.GetTimeoutDuration(),
		MaxRetries: cfg.Summary.MaxRetries,
	}, logger); err != nil {
		logger.Warn("Summary generation unavailable", slog.String("error", err.Error()))
	} else {
		deps.Summarizer = completer
	}

	if cfg.Notes.Enabled {
		store, err := notes.NewNotionClient(notes.Config{
			APIKey:        cfg.Notes.APIKey,
			DatabaseID:    cfg.Notes.DatabaseID,
			Endpoint:      cfg.Notes.Endpoint,
			Version:       cfg.Notes.Version,
			TitleProperty: cfg.Notes.TitleProperty,
			Timeout:       cfg.Notes.GetTimeoutDuration(),
			MaxRetries:    cfg.Notes.MaxRetries,
		}, logger)
		if err != nil {
			logger.Warn("Notes persistence unavailable", slog.String("error", err.Error()))
		} else {
			deps.Notes = store
		}
	}

	manager, err := meeting.NewManager(meeting.Config{
		Enabled:           cfg.Meeting.Enabled,
		RecordingsDir:     cfg.Meeting.RecordingsDir,
		KeepRecordings:    cfg.Meeting.KeepRecordings,
		VoiceReadyTimeout: cfg.Meeting.GetVoiceReadyTimeout(),
		MessageLimit:      cfg.Meeting.MessageLimit,
		SystemPrompt:      cfg.Summary.SystemPrompt,
		QueueCapacity:     cfg.Fanout.QueueCapacity,
		DraftDebounce:     cfg.Fanout.GetDraftDebounce(),
		CommitBatchSize:   cfg.Fanout.CommitBatchSize,
		CommitBatchWindow: cfg.Fanout.GetCommitBatchWindow(),
		Credentials:       cfg.MeetingCredentials(),
	}, deps)
	if err != nil {
		return fmt.Errorf("failed to create meeting manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	removeHandler := bot.OnVoiceStateUpdate(func(u meeting.VoiceStateUpdate) {
		manager.HandleVoiceStateUpdate(ctx, u)
	})
	defer removeHandler()

	if err := bot.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, manager, batchStats, registry, appMetrics)
		if err := httpServer.Start(); err != nil {
			bot.Close()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	logger.Info("Service started successfully, waiting for signals...")
	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(httpCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		httpCancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	manager.ShutdownAll(shutdownCtx)

	if err := bot.Close(); err != nil {
		logger.Error("Error closing discord session", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
	return nil
}

func missingCredentials(cfg *config.Config) []string {
	var missing []string
	for name, value := range cfg.MeetingCredentials() {
		if value == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skillvee/audio-stream-service/internal/config"
	"github.com/skillvee/audio-stream-service/internal/metrics"
	"github.com/skillvee/audio-stream-service/internal/server"
	"github.com/skillvee/audio-stream-service/internal/store"
	"github.com/skillvee/audio-stream-service/internal/stream"
	"github.com/skillvee/audio-stream-service/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "audio-stream-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_concurrent_sessions", cfg.Server.MaxConcurrentSessions),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("chunk_capacity", cfg.Audio.ChunkCapacity),
		slog.Bool("flush_partial_on_close", cfg.Audio.FlushPartialOnClose),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Open the session store
	st, err := store.Open(ctx, cfg.Storage.Path)
	if err != nil {
		logger.Error("Failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session store opened", slog.String("path", st.Path()))

	// Create session manager configuration
	managerConfig := stream.ManagerConfig{
		DefaultSampleRate:   cfg.Audio.SampleRate,
		ChunkCapacity:       cfg.Audio.ChunkCapacity,
		MaxSequenceGap:      cfg.Audio.MaxSequenceGap,
		FlushPartialOnClose: cfg.Audio.FlushPartialOnClose,
		SessionTimeout:      cfg.Audio.GetSessionTimeoutDuration(),
		MaxSessions:         cfg.Server.MaxConcurrentSessions,

		MeterMinRMS:    cfg.Meter.MinRMSLevel,
		MeterSmoothing: cfg.Meter.Smoothing,

		Transcription: transcription.Config{
			Endpoint:      cfg.Transcription.Endpoint,
			APIKey:        cfg.Transcription.APIKey,
			Timeout:       cfg.Transcription.GetTimeoutDuration(),
			MaxRetries:    cfg.Transcription.MaxRetries,
			MaxConcurrent: cfg.Transcription.MaxConcurrent,
			Format:        cfg.Transcription.Format,
			Language:      cfg.Transcription.Language,
			Model:         cfg.Transcription.Model,
		},

		ArchiveEnabled: cfg.Archive.Enabled,
		ArchiveDir:     cfg.Archive.Dir,
	}

	// Initialize session manager
	sessionMgr, err := stream.NewManager(logger, managerConfig, st, appMetrics)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Audio.GetSessionTimeoutDuration()),
		slog.Int("chunk_capacity", cfg.Audio.ChunkCapacity),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
	)

	// Initialize WebSocket ingest server
	wsServer := server.NewWSServer(&cfg.Server, logger, sessionMgr, appMetrics)
	logger.Info("WebSocket ingest server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sessionMgr, wsServer, st, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start WebSocket ingest server
	if err := wsServer.Start(); err != nil {
		logger.Error("Failed to start WebSocket server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("ingest_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop WebSocket server (stop accepting new frames)
	if err := wsServer.Stop(); err != nil {
		logger.Error("Error stopping WebSocket server", slog.String("error", err.Error()))
	}

	// Stop session manager (finalize sessions and stop background routines)
	sessionMgr.Stop()

	// Close the session store last so final session updates land
	if err := st.Close(); err != nil {
		logger.Error("Error closing store", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := wsServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("connections_total", stats.ConnectionsTotal),
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("frames_processed", stats.FramesProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bosley/medscribe/config"
	"github.com/bosley/medscribe/engine"
	"github.com/bosley/medscribe/scribe"
	"github.com/bosley/medscribe/staging"
	"github.com/bosley/medscribe/telemetry"
	"github.com/bosley/medscribe/transcription"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file (overrides MEDSCRIBE_CONFIG_FILE)")
	envFile := flag.String("env", ".env", "Path to .env file; missing files are ignored")
	stub := flag.Bool("stub", false, "Use the stub engine instead of whisper-cli")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Loader{EnvFiles: []string{*envFile}, File: *configFile}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *stub {
		cfg.UseStubEngine = true
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting medscribe",
		"listen_addr", cfg.ListenAddr,
		"model", cfg.ModelSize,
		"device", cfg.Device,
		"staging_dir", cfg.StagingDir,
	)

	handle := engine.Load(cfg, logger)
	defer func() {
		if err := handle.Close(); err != nil {
			logger.Warn("failed to close engine", "error", err)
		}
	}()

	stager, err := staging.New(cfg.StagingDir, logger)
	if err != nil {
		logger.Error("failed to initialise staging directory", "error", err)
		os.Exit(1)
	}
	watcher, err := stager.Watch(ctx)
	if err != nil {
		logger.Warn("staging watcher disabled", "error", err)
	}
	defer watcher.Close()

	recorder := telemetry.NewRecorder(logger)
	service := transcription.NewService(handle, stager, recorder, logger)

	scribeService, err := scribe.New(scribe.Config{
		HTTPAddr:       cfg.ListenAddr,
		CertFile:       cfg.TLSCert,
		KeyFile:        cfg.TLSKey,
		GRPCHealthAddr: cfg.GRPCHealthAddr,
		MaxBodyBytes:   cfg.MaxBodyBytes(),
		RequestTimeout: cfg.RequestTimeout,
		Language:       cfg.Language,
		AllowedOrigins: cfg.AllowedOrigins,
	}, scribe.Deps{
		Engine:  handle,
		Service: service,
		Watcher: watcher,
		Metrics: recorder,
	}, logger)
	if err != nil {
		logger.Error("failed to initialise scribe", "error", err)
		os.Exit(1)
	}

	if err := scribeService.Start(ctx); err != nil {
		logger.Error("scribe service failed", "error", err)
	}

	if snapshot := recorder.Snapshot(); snapshot.TotalRequests > 0 {
		logger.Info("telemetry totals",
			"total_requests", snapshot.TotalRequests,
			"completed", snapshot.Completed,
			"rejected", snapshot.Rejected,
			"unavailable", snapshot.Unavailable,
			"failed", snapshot.Failed,
			"total_segments", snapshot.TotalSegments,
			"audio_seconds", snapshot.AudioSeconds,
		)
	}
	logger.Info("medscribe stopped")
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

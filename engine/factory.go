package engine

import (
	"log/slog"

	"github.com/bosley/medscribe/config"
)

// Load builds the process-wide Handle. A load failure is logged and recorded
// on the Handle; the service keeps running and reports itself unavailable.
func Load(cfg config.Config, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.UseStubEngine {
		logger.Warn("stub engine forced by configuration")
		return NewHandle(NewStubBackend(logger, cfg.ModelSize), nil, cfg.ModelSize, cfg.Device, logger)
	}

	logger.Info("loading whisper model",
		"model", cfg.ModelSize,
		"model_path", cfg.ModelFile(),
		"device", cfg.Device,
		"compute_type", cfg.ComputeType,
	)
	backend, err := NewCLIBackend(CLIConfig{
		WhisperPath:  cfg.WhisperPath,
		FFmpegPath:   cfg.FFmpegPath,
		ModelPath:    cfg.ModelFile(),
		VADModelPath: cfg.VADModelPath,
		Threads:      cfg.Threads,
		UseGPU:       cfg.Device == config.DeviceCUDA,
	}, logger)
	if err != nil {
		logger.Error("failed to load whisper model", "error", err)
		return NewHandle(nil, err, cfg.ModelSize, cfg.Device, logger)
	}
	if cfg.VADModelPath == "" {
		logger.Warn("no vad model configured; voice-activity filtering disabled")
	}
	logger.Info("whisper model loaded", "backend", backend.Name())
	return NewHandle(backend, nil, cfg.ModelSize, cfg.Device, logger)
}

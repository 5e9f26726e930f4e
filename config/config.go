package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultListenAddr     = ":8000"
	DefaultModel          = "base"
	DefaultModelsDir      = "models"
	DefaultComputeType    = "int8"
	DefaultWhisperPath    = "whisper-cli"
	DefaultFFmpegPath     = "ffmpeg"
	DefaultLanguage       = "pt"
	DefaultLogLevel       = "info"
	DefaultMaxBodyMB      = 100
	DefaultRequestTimeout = 10 * time.Minute

	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"

	// uploadLimitMB is the validator ceiling; the body cap must sit above it.
	uploadLimitMB = 25
)

// Config captures process configuration resolved from the environment, .env
// files and an optional YAML file.
type Config struct {
	ListenAddr     string
	ModelSize      string
	ModelPath      string
	ModelsDir      string
	Device         string
	ComputeType    string
	WhisperPath    string
	FFmpegPath     string
	VADModelPath   string
	Threads        int
	Language       string
	StagingDir     string
	MaxBodyMB      float64
	RequestTimeout time.Duration
	LogLevel       string
	UseStubEngine  bool
	TLSCert        string
	TLSKey         string
	GRPCHealthAddr string
	AllowedOrigins []string
}

// Defaults returns a Config with every optional field populated.
func Defaults() Config {
	return Config{
		ListenAddr:     DefaultListenAddr,
		ModelSize:      DefaultModel,
		ModelsDir:      DefaultModelsDir,
		Device:         DeviceCPU,
		ComputeType:    DefaultComputeType,
		WhisperPath:    DefaultWhisperPath,
		FFmpegPath:     DefaultFFmpegPath,
		Language:       DefaultLanguage,
		StagingDir:     filepath.Join(os.TempDir(), "medscribe"),
		MaxBodyMB:      DefaultMaxBodyMB,
		RequestTimeout: DefaultRequestTimeout,
		LogLevel:       DefaultLogLevel,
	}
}

// Validate applies defaults to empty fields and rejects out-of-range values.
func (c *Config) Validate() error {
	d := Defaults()
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.ModelSize == "" {
		c.ModelSize = d.ModelSize
	}
	if c.ModelsDir == "" {
		c.ModelsDir = d.ModelsDir
	}
	if c.ComputeType == "" {
		c.ComputeType = d.ComputeType
	}
	if c.WhisperPath == "" {
		c.WhisperPath = d.WhisperPath
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = d.FFmpegPath
	}
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.StagingDir == "" {
		c.StagingDir = d.StagingDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.MaxBodyMB == 0 {
		c.MaxBodyMB = d.MaxBodyMB
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}

	c.Device = strings.ToLower(strings.TrimSpace(c.Device))
	switch c.Device {
	case "":
		c.Device = DeviceCPU
	case DeviceCPU, DeviceCUDA:
	default:
		return fmt.Errorf("config: device must be %q or %q, got %q", DeviceCPU, DeviceCUDA, c.Device)
	}
	if c.Threads < 0 {
		return fmt.Errorf("config: threads must be >= 0, got %d", c.Threads)
	}
	if c.MaxBodyMB <= uploadLimitMB {
		return fmt.Errorf("config: max body must exceed %dMB, got %.2fMB", uploadLimitMB, c.MaxBodyMB)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("config: request timeout must be positive, got %s", c.RequestTimeout)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("config: tls cert and key must be set together")
	}
	return nil
}

// ModelFile returns the explicit model path or the conventional ggml file name
// for the configured size inside ModelsDir.
func (c Config) ModelFile() string {
	if c.ModelPath != "" {
		return c.ModelPath
	}
	return filepath.Join(c.ModelsDir, "ggml-"+c.ModelSize+".bin")
}

// MaxBodyBytes returns the request body cap in bytes.
func (c Config) MaxBodyBytes() int64 {
	return int64(c.MaxBodyMB * 1024 * 1024)
}

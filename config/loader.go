package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var fileSchema []byte

// Loader resolves configuration. Lookup defaults to os.LookupEnv; tests can
// override it to inject deterministic maps. Values from the process
// environment win over EnvFiles, which win over the YAML File.
type Loader struct {
	Lookup   func(string) (string, bool)
	EnvFiles []string
	File     string
}

// Load retrieves the configuration and validates it.
func (l Loader) Load() (Config, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	dotenv, err := readEnvFiles(l.EnvFiles)
	if err != nil {
		return Config{}, err
	}
	get := func(key string) (string, bool) {
		if value, ok := lookup(key); ok {
			return value, true
		}
		value, ok := dotenv[key]
		return value, ok
	}

	cfg := Defaults()

	path := l.File
	if path == "" {
		if value, ok := get("MEDSCRIBE_CONFIG_FILE"); ok {
			path = strings.TrimSpace(value)
		}
	}
	if path != "" {
		if err := applyFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if port, ok := get("PORT"); ok && strings.TrimSpace(port) != "" {
		cfg.ListenAddr = ":" + strings.TrimSpace(port)
	}
	overrideString(get, "MEDSCRIBE_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(get, "WHISPER_MODEL_SIZE", &cfg.ModelSize)
	overrideString(get, "MEDSCRIBE_MODEL_PATH", &cfg.ModelPath)
	overrideString(get, "MEDSCRIBE_MODELS_DIR", &cfg.ModelsDir)
	overrideString(get, "MEDSCRIBE_DEVICE", &cfg.Device)
	overrideString(get, "MEDSCRIBE_COMPUTE_TYPE", &cfg.ComputeType)
	overrideString(get, "MEDSCRIBE_WHISPER_PATH", &cfg.WhisperPath)
	overrideString(get, "MEDSCRIBE_FFMPEG_PATH", &cfg.FFmpegPath)
	overrideString(get, "MEDSCRIBE_VAD_MODEL_PATH", &cfg.VADModelPath)
	overrideString(get, "MEDSCRIBE_LANGUAGE", &cfg.Language)
	overrideString(get, "MEDSCRIBE_STAGING_DIR", &cfg.StagingDir)
	overrideString(get, "MEDSCRIBE_LOG_LEVEL", &cfg.LogLevel)
	overrideString(get, "MEDSCRIBE_TLS_CERT", &cfg.TLSCert)
	overrideString(get, "MEDSCRIBE_TLS_KEY", &cfg.TLSKey)
	overrideString(get, "MEDSCRIBE_GRPC_HEALTH_ADDR", &cfg.GRPCHealthAddr)
	overrideList(get, "MEDSCRIBE_ALLOWED_ORIGINS", &cfg.AllowedOrigins)

	if err := overrideInt(get, "MEDSCRIBE_THREADS", &cfg.Threads); err != nil {
		return Config{}, err
	}
	if err := overrideFloat(get, "MEDSCRIBE_MAX_BODY_MB", &cfg.MaxBodyMB); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(get, "MEDSCRIBE_REQUEST_TIMEOUT", &cfg.RequestTimeout); err != nil {
		return Config{}, err
	}
	if err := overrideBool(get, "MEDSCRIBE_USE_STUB_ENGINE", &cfg.UseStubEngine); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readEnvFiles merges the given .env files; earlier files take precedence and
// missing files are skipped.
func readEnvFiles(paths []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range paths {
		if p == "" {
			continue
		}
		values, err := godotenv.Read(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: read %s: %w", p, err)
		}
		for k, v := range values {
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
	}
	return out, nil
}

type fileConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	ModelSize      string   `yaml:"model_size"`
	ModelPath      string   `yaml:"model_path"`
	ModelsDir      string   `yaml:"models_dir"`
	Device         string   `yaml:"device"`
	ComputeType    string   `yaml:"compute_type"`
	WhisperPath    string   `yaml:"whisper_path"`
	FFmpegPath     string   `yaml:"ffmpeg_path"`
	VADModelPath   string   `yaml:"vad_model_path"`
	Threads        *int     `yaml:"threads"`
	Language       string   `yaml:"language"`
	StagingDir     string   `yaml:"staging_dir"`
	MaxBodyMB      *float64 `yaml:"max_body_mb"`
	RequestTimeout string   `yaml:"request_timeout"`
	LogLevel       string   `yaml:"log_level"`
	UseStubEngine  *bool    `yaml:"use_stub_engine"`
	TLSCert        string   `yaml:"tls_cert"`
	TLSKey         string   `yaml:"tls_key"`
	GRPCHealthAddr string   `yaml:"grpc_health_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func applyFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := validateFile(raw); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}

	setString(&cfg.ListenAddr, fc.ListenAddr)
	setString(&cfg.ModelSize, fc.ModelSize)
	setString(&cfg.ModelPath, fc.ModelPath)
	setString(&cfg.ModelsDir, fc.ModelsDir)
	setString(&cfg.Device, fc.Device)
	setString(&cfg.ComputeType, fc.ComputeType)
	setString(&cfg.WhisperPath, fc.WhisperPath)
	setString(&cfg.FFmpegPath, fc.FFmpegPath)
	setString(&cfg.VADModelPath, fc.VADModelPath)
	setString(&cfg.Language, fc.Language)
	setString(&cfg.StagingDir, fc.StagingDir)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.TLSCert, fc.TLSCert)
	setString(&cfg.TLSKey, fc.TLSKey)
	setString(&cfg.GRPCHealthAddr, fc.GRPCHealthAddr)
	if fc.Threads != nil {
		cfg.Threads = *fc.Threads
	}
	if fc.MaxBodyMB != nil {
		cfg.MaxBodyMB = *fc.MaxBodyMB
	}
	if fc.UseStubEngine != nil {
		cfg.UseStubEngine = *fc.UseStubEngine
	}
	if fc.RequestTimeout != "" {
		d, err := time.ParseDuration(fc.RequestTimeout)
		if err != nil {
			return fmt.Errorf("config: request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if len(fc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	return nil
}

// validateFile checks the YAML document against the embedded JSON schema. The
// document is round-tripped through JSON so the validator sees plain JSON
// types.
func validateFile(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	if doc == nil {
		return nil
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert to json: %w", err)
	}
	var generic any
	if err := json.Unmarshal(asJSON, &generic); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(fileSchema)); err != nil {
		return fmt.Errorf("schema resource: %w", err)
	}
	s, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return s.Validate(generic)
}

func setString(target *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*target = trimmed
	}
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideList(lookup func(string) (string, bool), key string, target *[]string) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*target = out
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = n
	return nil
}

func overrideFloat(lookup func(string) (string, bool), key string, target *float64) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = f
	return nil
}

func overrideDuration(lookup func(string) (string, bool), key string, target *time.Duration) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = d
	return nil
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = b
	return nil
}

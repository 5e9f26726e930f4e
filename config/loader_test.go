package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/medscribe/config"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := config.Loader{Lookup: mapLookup(nil)}.Load()
	require.NoError(t, err)

	assert.Equal(t, config.DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, config.DefaultModel, cfg.ModelSize)
	assert.Equal(t, config.DeviceCPU, cfg.Device)
	assert.Equal(t, config.DefaultComputeType, cfg.ComputeType)
	assert.Equal(t, config.DefaultLanguage, cfg.Language)
	assert.Equal(t, config.DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, filepath.Join(config.DefaultModelsDir, "ggml-base.bin"), cfg.ModelFile())
	assert.Equal(t, int64(100*1024*1024), cfg.MaxBodyBytes())
	assert.False(t, cfg.UseStubEngine)
}

func TestLoaderOverrides(t *testing.T) {
	env := map[string]string{
		"PORT":                      "9100",
		"WHISPER_MODEL_SIZE":        "small",
		"MEDSCRIBE_DEVICE":          "CUDA",
		"MEDSCRIBE_THREADS":         "6",
		"MEDSCRIBE_MAX_BODY_MB":     "40",
		"MEDSCRIBE_REQUEST_TIMEOUT": "90s",
		"MEDSCRIBE_USE_STUB_ENGINE": "true",
		"MEDSCRIBE_ALLOWED_ORIGINS": "http://localhost:3000, https://app.example.com",
		"MEDSCRIBE_MODEL_PATH":      "/srv/models/custom.bin",
	}
	cfg, err := config.Loader{Lookup: mapLookup(env)}.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "small", cfg.ModelSize)
	assert.Equal(t, config.DeviceCUDA, cfg.Device)
	assert.Equal(t, 6, cfg.Threads)
	assert.Equal(t, 40.0, cfg.MaxBodyMB)
	assert.Equal(t, 90*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.UseStubEngine)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "/srv/models/custom.bin", cfg.ModelFile())
}

func TestLoaderPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("WHISPER_MODEL_SIZE=medium\nMEDSCRIBE_LANGUAGE=en\n"), 0o644))

	yamlFile := filepath.Join(dir, "medscribe.yaml")
	require.NoError(t, os.WriteFile(yamlFile, []byte(
		"model_size: tiny\nlanguage: es\nlog_level: debug\nthreads: 2\nrequest_timeout: 2m\n",
	), 0o644))

	loader := config.Loader{
		Lookup:   mapLookup(map[string]string{"MEDSCRIBE_LANGUAGE": "fr"}),
		EnvFiles: []string{envFile, filepath.Join(dir, "missing.env")},
		File:     yamlFile,
	}
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "fr", cfg.Language, "process env wins")
	assert.Equal(t, "medium", cfg.ModelSize, ".env wins over file")
	assert.Equal(t, "debug", cfg.LogLevel, "file wins over defaults")
	assert.Equal(t, 2, cfg.Threads)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
}

func TestLoaderConfigFileFromEnv(t *testing.T) {
	yamlFile := filepath.Join(t.TempDir(), "medscribe.yaml")
	require.NoError(t, os.WriteFile(yamlFile, []byte("use_stub_engine: true\n"), 0o644))

	cfg, err := config.Loader{Lookup: mapLookup(map[string]string{"MEDSCRIBE_CONFIG_FILE": yamlFile})}.Load()
	require.NoError(t, err)
	assert.True(t, cfg.UseStubEngine)
}

func TestLoaderRejectsInvalidFile(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "modle_size: base\n",
		"bad device":     "device: tpu\n",
		"negative":       "threads: -1\n",
		"body too small": "max_body_mb: 10\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			_, err := config.Loader{Lookup: mapLookup(nil), File: path}.Load()
			assert.Error(t, err)
		})
	}
}

func TestLoaderRejectsInvalidEnv(t *testing.T) {
	cases := map[string]map[string]string{
		"threads":   {"MEDSCRIBE_THREADS": "many"},
		"device":    {"MEDSCRIBE_DEVICE": "tpu"},
		"body":      {"MEDSCRIBE_MAX_BODY_MB": "25"},
		"tls":       {"MEDSCRIBE_TLS_CERT": "cert.pem"},
		"stub flag": {"MEDSCRIBE_USE_STUB_ENGINE": "maybe"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Loader{Lookup: mapLookup(env)}.Load()
			assert.Error(t, err)
		})
	}
}

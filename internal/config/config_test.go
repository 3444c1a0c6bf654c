package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"KAGI_TOKEN", "ACCESS_TOKEN", "KAGIAPI_PORT", "LOGGING_LEVEL", "CHROME_PATH", "CONFIG_FILE"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAGI_TOKEN", "kagi-session")
	t.Setenv("ACCESS_TOKEN", "inbound")

	cfg, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, "kagi-session", cfg.Kagi.Token)
	assert.Equal(t, "inbound", cfg.Auth.AccessToken)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
	assert.Equal(t, "https://kagi.com", cfg.Kagi.BaseURL)
	assert.Equal(t, 5, cfg.Kagi.PollAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Kagi.PollInterval)
}

func TestLoadFromFile_MissingTokens(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromFile("")
	assert.ErrorIs(t, err, ErrMissingKagiToken)

	t.Setenv("KAGI_TOKEN", "kagi-session")
	_, err = LoadFromFile("")
	assert.ErrorIs(t, err, ErrMissingAccessToken)
}

func TestLoadFromFile_YAMLWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9100
  host: 127.0.0.1
auth:
  access_token: from-file
kagi:
  token: file-session
  base_url: https://kagi.example/
  timeout: 15s
  poll_attempts: 3
search:
  rate_limit: 2
  rate_burst: 4
log:
  level: debug
`)
	t.Setenv("KAGIAPI_PORT", "9200")
	t.Setenv("ACCESS_TOKEN", "from-env")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "from-env", cfg.Auth.AccessToken)
	assert.Equal(t, "file-session", cfg.Kagi.Token)
	assert.Equal(t, "https://kagi.example", cfg.Kagi.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Kagi.Timeout)
	assert.Equal(t, 3, cfg.Kagi.PollAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Kagi.PollInterval)
	assert.Equal(t, 2.0, cfg.Search.RateLimit)
	assert.Equal(t, 4, cfg.Search.RateBurst)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
}

func TestLoadFromFile_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 70000
kagi:
  token: s
  poll_attempts: -1
auth:
  access_token: a
search:
  rate_limit: -3
log:
  level: chatty
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Kagi.PollAttempts)
	assert.Equal(t, 0.0, cfg.Search.RateLimit)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
}

func TestLoadFromFile_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfig(t, "server: [not, a, map"))
	assert.Error(t, err)

	t.Setenv("KAGIAPI_PORT", "eighty")
	_, err = LoadFromFile("")
	assert.Error(t, err)
}

func TestLogLevel_PythonStyleNames(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"DEBUG", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"WARNING", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"CRITICAL", zerolog.FatalLevel},
		{"NOTSET", zerolog.TraceLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := Config{Log: LogConfig{Level: tt.level}}
			assert.Equal(t, tt.want, cfg.LogLevel())
		})
	}
}

func TestGetProxyURL(t *testing.T) {
	cfg := DefaultConfig
	assert.Empty(t, cfg.GetProxyURL())

	cfg.Proxy.Enabled = true
	assert.Equal(t, "http://127.0.0.1:7890", cfg.GetProxyURL())
}

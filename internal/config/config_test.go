package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "STATIC_DIR", "MAX_REQ_SIZE", "OPENAI_API_KEY", "OPENAI_BASE_URL", "MODEL_NAME",
	"MAX_TOKENS", "SYSTEM_MESSAGE", "DATABASE_URL", "DEV_SESSIONS", "SESSION_TTL",
	"SLACK_BOT_TOKEN", "SLACK_SIGNING_SECRET", "SLACK_STREAM_MODE", "WORKER_POOL_SIZE",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, int64(1<<20), cfg.MaxReqSize)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, 1024, cfg.MaxTokens)
	assert.Equal(t, "static", cfg.StaticDir)
	assert.Equal(t, StreamModeUpdate, cfg.StreamMode)
	assert.Equal(t, 10, cfg.WorkerPoolSize)
	assert.Equal(t, 30*24*time.Hour, cfg.SessionTTL)
	assert.Empty(t, cfg.OpenAIBaseURL)
	assert.False(t, cfg.SlackEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-1")
	t.Setenv("SLACK_SIGNING_SECRET", "shh")
	t.Setenv("SLACK_STREAM_MODE", "thread")
	t.Setenv("DEV_SESSIONS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "https://api.openai.com", cfg.OpenAIBaseURL)
	assert.Equal(t, StreamModeThread, cfg.StreamMode)
	assert.True(t, cfg.DevSessions)
	assert.True(t, cfg.SlackEnabled())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "port", key: "PORT", val: "http"},
		{name: "max req size", key: "MAX_REQ_SIZE", val: "0"},
		{name: "dev sessions", key: "DEV_SESSIONS", val: "maybe"},
		{name: "ttl", key: "SESSION_TTL", val: "forever"},
		{name: "half slack", key: "SLACK_BOT_TOKEN", val: "xoxb-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

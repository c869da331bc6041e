package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StreamModeUpdate = "update"
	StreamModeThread = "thread"
)

type Config struct {
	Port       int
	StaticDir  string
	MaxReqSize int64

	OpenAIKey     string
	OpenAIBaseURL string // empty: run the built-in mock backend
	Model         string
	MaxTokens     int
	SystemMessage string

	DatabaseURL string // empty: in-memory store
	DevSessions bool
	SessionTTL  time.Duration

	SlackBotToken      string
	SlackSigningSecret string
	StreamMode         string // "update" or "thread"
	WorkerPoolSize     int

	OTLPEndpoint string
}

// SlackEnabled reports whether the Slack relay should be mounted.
func (c Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackSigningSecret != ""
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		StaticDir:          getenv("STATIC_DIR", "static"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		Model:              getenv("MODEL_NAME", "gpt-4o-mini"),
		SystemMessage:      getenv("SYSTEM_MESSAGE", "You are RetroGPT, a helpful assistant living inside a retro desktop. Keep answers concise."),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackSigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),
		StreamMode:         getenv("SLACK_STREAM_MODE", StreamModeUpdate),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.Port, err = getint("PORT", 3000); err != nil {
		return Config{}, err
	}
	maxReq, err := getint("MAX_REQ_SIZE", 1<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxReqSize = int64(maxReq)
	if cfg.MaxTokens, err = getint("MAX_TOKENS", 1024); err != nil {
		return Config{}, err
	}
	if cfg.WorkerPoolSize, err = getint("WORKER_POOL_SIZE", 10); err != nil {
		return Config{}, err
	}
	if cfg.DevSessions, err = getbool("DEV_SESSIONS", false); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = getduration("SESSION_TTL", 30*24*time.Hour); err != nil {
		return Config{}, err
	}

	if cfg.OpenAIBaseURL == "" && cfg.OpenAIKey != "" {
		cfg.OpenAIBaseURL = "https://api.openai.com"
	}
	if cfg.StreamMode != StreamModeThread {
		cfg.StreamMode = StreamModeUpdate
	}
	if (cfg.SlackBotToken == "") != (cfg.SlackSigningSecret == "") {
		return Config{}, fmt.Errorf("SLACK_BOT_TOKEN and SLACK_SIGNING_SECRET must be set together")
	}
	if cfg.MaxReqSize <= 0 || cfg.WorkerPoolSize <= 0 || cfg.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("MAX_REQ_SIZE, MAX_TOKENS and WORKER_POOL_SIZE must be positive")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getbool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getduration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

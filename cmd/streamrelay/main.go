package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goslack "github.com/slack-go/slack"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/ffaiyaz23/streamrelay/internal/api"
	"github.com/ffaiyaz23/streamrelay/internal/backend"
	"github.com/ffaiyaz23/streamrelay/internal/config"
	"github.com/ffaiyaz23/streamrelay/internal/metrics"
	"github.com/ffaiyaz23/streamrelay/internal/otel"
	"github.com/ffaiyaz23/streamrelay/internal/server"
	"github.com/ffaiyaz23/streamrelay/internal/slack"
	"github.com/ffaiyaz23/streamrelay/internal/store"
	"github.com/ffaiyaz23/streamrelay/internal/stream"
)

const shutdownGrace = 15 * time.Second

func main() {
	// 0) Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// 1) Initialize Zap logger and replace globals
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg); err != nil {
		zap.S().Fatalw("streamrelay failed", "error", err)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2) Initialize OpenTelemetry tracing
	tp, err := otel.InitTracer(ctx, otel.Options{ServiceName: "streamrelay", Endpoint: cfg.OTLPEndpoint})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

	// 3) Storage
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		st = pg
		zap.S().Infow("using postgres store")
	} else {
		st = store.NewMemory()
		zap.S().Warnw("DATABASE_URL not set, chats are kept in memory only")
	}

	// 4) Auto-start mock backend if OPENAI_BASE_URL is blank
	baseURL := cfg.OpenAIBaseURL
	if baseURL == "" {
		mock, addr, err := backend.StartMockServer("127.0.0.1:0", backend.MockOptions{Delay: 100 * time.Millisecond})
		if err != nil {
			return err
		}
		defer mock.Close()
		baseURL = "http://" + addr
	}
	completions := backend.NewClient(baseURL, cfg.OpenAIKey)
	zap.S().Infow("using completion backend", "url", baseURL, "model", cfg.Model)

	// 5) Broker
	collector := metrics.NewCollector()
	registry := stream.NewRegistry(collector)

	// Jobs outlive the request that started them but not the process.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	a := api.New(jobCtx, api.Options{
		MaxReqSize:    cfg.MaxReqSize,
		Model:         cfg.Model,
		MaxTokens:     cfg.MaxTokens,
		SystemMessage: cfg.SystemMessage,
		DevSessions:   cfg.DevSessions,
		SessionTTL:    cfg.SessionTTL,
	}, st, registry, completions, collector)

	mounts := api.Mounts{Metrics: collector.Handler()}
	if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
		mounts.StaticDir = cfg.StaticDir
	} else {
		zap.S().Infow("static dir not found, serving API only", "dir", cfg.StaticDir)
	}

	// 6) Slack relay, if configured
	var relay *slack.Relay
	if cfg.SlackEnabled() {
		sc := goslack.New(cfg.SlackBotToken)
		var botID string
		if auth, err := sc.AuthTestContext(ctx); err != nil {
			zap.S().Warnw("slack auth test failed, mentions of any user will be stripped", "error", err)
		} else {
			botID = auth.UserID
		}
		relay = slack.New(sc, completions, registry, collector, slack.Options{
			SigningSecret: cfg.SlackSigningSecret,
			BotUserID:     botID,
			PoolSize:      cfg.WorkerPoolSize,
			StreamMode:    cfg.StreamMode,
			Model:         cfg.Model,
			MaxTokens:     cfg.MaxTokens,
			SystemMessage: cfg.SystemMessage,
			PostInterval:  50 * time.Millisecond,
		})
		relay.Start(jobCtx)
		mounts.Slack = relay
	}

	// 7) Start HTTP server
	root := api.Root(a, mounts)
	handler := chi.Chain(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Heartbeat("/healthz"),
	).Handler(otelhttp.NewHandler(root, "streamrelay"))

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	err = server.Serve(ctx, ln, handler, shutdownGrace)

	cancelJobs()
	a.Wait()
	if relay != nil {
		relay.Wait()
	}
	zap.S().Infow("shutdown complete", "pending_jobs", registry.Len())
	return err
}

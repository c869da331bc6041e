package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ffaiyaz23/streamrelay/internal/backend"
	"github.com/ffaiyaz23/streamrelay/internal/server"
	"github.com/ffaiyaz23/streamrelay/internal/stream"
)

const (
	ModeUpdate = "update"
	ModeThread = "thread"

	maxEventBody = 1 << 20
	placeholder  = "🤖 Thinking…"
)

var tracer = otel.Tracer("streamrelay/slack")

// poster is the part of the Slack Web API the relay uses. *slack.Client
// implements it.
type poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
}

// Completions opens streaming completions. *backend.Client implements it.
type Completions interface {
	Stream(ctx context.Context, req backend.ChatRequest) (*backend.ChunkStream, error)
}

// JobObserver is told about every finished generation job.
type JobObserver interface {
	ObserveJob(res stream.Result, d time.Duration)
}

type Options struct {
	SigningSecret string
	BotUserID     string
	PoolSize      int
	StreamMode    string // ModeUpdate or ModeThread

	Model         string
	MaxTokens     int
	SystemMessage string

	// PostInterval spaces out Slack API calls.
	PostInterval time.Duration
}

// workItem is a single mention to process.
type workItem struct {
	channel string
	user    string
	query   string
}

// updateItem is the text (plus final flag) to post back.
type updateItem struct {
	channel string
	ts      string
	text    string
	final   bool
}

// Relay answers app mentions by starting a generation job, attaching to it
// straight away through the registry, and relaying the frames to Slack.
// Events flow dispatcher → worker pool → poster.
type Relay struct {
	api         poster
	completions Completions
	registry    *stream.Registry
	jobs        JobObserver
	opts        Options

	workCh   chan workItem
	updateCh chan updateItem
	wg       sync.WaitGroup
}

// New constructs the relay. jobs may be nil.
func New(api poster, completions Completions, reg *stream.Registry, jobs JobObserver, opts Options) *Relay {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 1
	}
	if opts.StreamMode != ModeThread {
		opts.StreamMode = ModeUpdate
	}
	return &Relay{
		api:         api,
		completions: completions,
		registry:    reg,
		jobs:        jobs,
		opts:        opts,
		workCh:      make(chan workItem, opts.PoolSize),
		updateCh:    make(chan updateItem, opts.PoolSize*2),
	}
}

// NewClient is New with a Slack Web API client for botToken.
func NewClient(botToken string, completions Completions, reg *stream.Registry, jobs JobObserver, opts Options) *Relay {
	return New(slack.New(botToken), completions, reg, jobs, opts)
}

// Start fires up the poster and the worker pool. They stop when ctx is
// done; Wait blocks until they have.
func (c *Relay) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.startPoster(ctx)
	}()
	for i := 0; i < c.opts.PoolSize; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.startWorker(ctx)
		}()
	}
}

func (c *Relay) Wait() {
	c.wg.Wait()
}

func (c *Relay) startWorker(ctx context.Context) {
	for {
		select {
		case wi := <-c.workCh:
			c.process(ctx, wi)
		case <-ctx.Done():
			return
		}
	}
}

// process handles one mention: placeholder, job, immediate attach, relay.
func (c *Relay) process(ctx context.Context, wi workItem) {
	ctx, span := tracer.Start(ctx, "ProcessAppMention",
		trace.WithAttributes(
			attribute.String("slack.user_id", wi.user),
			attribute.String("slack.channel_id", wi.channel),
		),
	)
	defer span.End()
	log := zap.S().With(
		"trace_id", span.SpanContext().TraceID().String(),
		"span_id", span.SpanContext().SpanID().String(),
		"channel", wi.channel,
	)

	channelID, ts, err := c.api.PostMessage(wi.channel, slack.MsgOptionText(placeholder, false))
	if err != nil {
		span.RecordError(err)
		log.Errorw("failed to post placeholder", "error", err)
		return
	}

	src, err := c.completions.Stream(ctx, backend.ChatRequest{
		Model:     c.opts.Model,
		MaxTokens: c.opts.MaxTokens,
		User:      wi.user,
		Messages: []backend.Message{
			{Role: backend.RoleSystem, Content: c.opts.SystemMessage},
			{Role: backend.RoleUser, Content: wi.query},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend stream")
		log.Errorw("backend stream error", "error", err)
		c.enqueue(ctx, updateItem{channel: channelID, ts: ts, text: "⚠ Backend error", final: true})
		return
	}

	job, err := stream.NewJob(c.registry)
	if err != nil {
		src.Close()
		span.RecordError(err)
		log.Errorw("failed to register job", "error", err)
		c.enqueue(ctx, updateItem{channel: channelID, ts: ts, text: "⚠ Internal error", final: true})
		return
	}
	rx, ok := c.registry.TryAttach(job.Token())
	if !ok {
		// Nothing else knows the token yet, so this cannot happen.
		log.Errorw("job vanished before attach", "job", job.Token().String())
		src.Close()
		return
	}

	results := make(chan stream.Result, 1)
	start := time.Now()
	go func() { results <- job.Run(ctx, src) }()

	log.Infow("relaying job", "job", job.Token().String(), "ts", ts, "query", wi.query)

	full := ""
	for {
		frame, err := rx.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rx.Close()
			break
		}
		full += string(frame)
		if c.opts.StreamMode == ModeUpdate {
			c.enqueue(ctx, updateItem{channel: channelID, ts: ts, text: full})
		}
	}

	res := <-results
	if c.jobs != nil {
		c.jobs.ObserveJob(res, time.Since(start))
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		full += "\n⚠ Response cut short"
	}
	c.enqueue(ctx, updateItem{channel: channelID, ts: ts, text: full, final: true})
}

func (c *Relay) enqueue(ctx context.Context, ui updateItem) {
	select {
	case c.updateCh <- ui:
	case <-ctx.Done():
	}
}

// startPoster serializes updateItems back to Slack, tracing each API call
// and logging any errors.
func (c *Relay) startPoster(ctx context.Context) {
	for {
		var ui updateItem
		select {
		case ui = <-c.updateCh:
		case <-ctx.Done():
			return
		}

		_, span := tracer.Start(ctx, "PostSlackUpdate",
			trace.WithAttributes(attribute.Int("chunk_final", boolToInt(ui.final))),
		)
		switch {
		case c.opts.StreamMode == ModeThread && ui.final:
			if _, _, err := c.api.PostMessage(ui.channel,
				slack.MsgOptionText(ui.text, false),
				slack.MsgOptionTS(ui.ts),
			); err != nil {
				span.RecordError(err)
				zap.S().Errorw("threaded post error", "error", err)
			}
		case c.opts.StreamMode == ModeUpdate:
			if _, _, _, err := c.api.UpdateMessage(ui.channel, ui.ts,
				slack.MsgOptionText(ui.text, false),
			); err != nil {
				span.RecordError(err)
				zap.S().Errorw("message update error", "error", err)
			}
		}
		span.End()

		if c.opts.PostInterval > 0 {
			time.Sleep(c.opts.PostInterval) // smooth API calls
		}
	}
}

// Handle serves the Slack Events API endpoint:
// 1) verifies Slack signatures,
// 2) handles URLVerification challenges,
// 3) parses AppMention callbacks,
// 4) and dispatches them into the worker pool.
func (c *Relay) Handle(r *http.Request) (*server.Response, error) {
	if r.Method != http.MethodPost {
		return nil, server.NewError(http.StatusMethodNotAllowed, "method not allowed", nil)
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		return nil, server.NewError(http.StatusBadRequest, "read body error", err)
	}

	verifier, err := slack.NewSecretsVerifier(r.Header, c.opts.SigningSecret)
	if err != nil {
		return nil, server.NewError(http.StatusUnauthorized, "missing signature", err)
	}
	verifier.Write(raw)
	if err := verifier.Ensure(); err != nil {
		return nil, server.NewError(http.StatusUnauthorized, "invalid signature", err)
	}

	evt, err := slackevents.ParseEvent(raw, slackevents.OptionNoVerifyToken())
	if err != nil {
		return nil, server.NewError(http.StatusBadRequest, "parse event error", err)
	}
	if evt.Type == slackevents.URLVerification {
		var ch slackevents.ChallengeResponse
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, server.NewError(http.StatusBadRequest, "parse challenge error", err)
		}
		return server.Text(http.StatusOK, ch.Challenge), nil
	}

	if evt.Type == slackevents.CallbackEvent {
		if ev, ok := evt.InnerEvent.Data.(*slackevents.AppMentionEvent); ok {
			wi := workItem{
				channel: ev.Channel,
				user:    ev.User,
				query:   ParseAppMentionText(ev.Text, c.opts.BotUserID),
			}
			select {
			case c.workCh <- wi:
				zap.S().Infow("enqueued work", "channel", wi.channel, "user", wi.user)
			case <-r.Context().Done():
				return nil, r.Context().Err()
			}
		}
	}
	return server.NewResponse(http.StatusOK, nil), nil
}

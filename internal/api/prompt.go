package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ffaiyaz23/streamrelay/internal/backend"
	"github.com/ffaiyaz23/streamrelay/internal/server"
	"github.com/ffaiyaz23/streamrelay/internal/store"
	"github.com/ffaiyaz23/streamrelay/internal/stream"
)

const (
	attachTokenHeader = "X-Attach-Token"
	chatIDHeader      = "X-Chat-ID"
)

type promptInput struct {
	Text   string `json:"text"`
	ChatID *int64 `json:"chat_id"`
}

// Prompt appends the user's message to a chat (creating the chat when no
// chat_id is given) and starts a generation job for the reply. The job
// token is returned in X-Attach-Token so that any connection can claim the
// output later; the response body itself streams the reply live.
func (a *API) Prompt(r *http.Request) (*server.Response, error) {
	if r.Method != http.MethodPost {
		return nil, methodNotAllowed()
	}
	if err := checkBodySize(r, a.opts.MaxReqSize); err != nil {
		return nil, err
	}
	sess, err := a.session(r)
	if err != nil {
		return nil, err
	}
	var in promptInput
	if err := decodeJSON(r, a.opts.MaxReqSize, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, server.NewError(http.StatusBadRequest, "text is required", nil)
	}

	ctx := r.Context()
	var chat store.Chat
	newChat := in.ChatID == nil
	if newChat {
		if chat, err = a.store.CreateChat(ctx, sess.UserID); err != nil {
			return nil, fmt.Errorf("create chat: %w", err)
		}
	} else if chat, err = a.ownedChat(ctx, sess, *in.ChatID); err != nil {
		return nil, err
	}

	if _, err := a.store.AppendMessage(ctx, chat.ID, store.SenderUser, in.Text); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	chain, err := a.store.MessageChain(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("load message chain: %w", err)
	}
	req := ChatRequest(a.opts.Model, a.opts.MaxTokens, a.opts.SystemMessage, chain)
	req.User = strconv.FormatInt(sess.UserID, 10)

	token, live, err := a.startJob(req, func(text string, genErr error) {
		a.persistReply(chat, newChat, in.Text, text, genErr)
	})
	if err != nil {
		return nil, err
	}

	zap.S().Infow("generation job started",
		"job", token.String(),
		"chat_id", chat.ID,
		"user_id", sess.UserID,
		"req_id", middleware.GetReqID(ctx),
	)

	resp := server.NewResponse(http.StatusOK, server.FuncBody(live.Recv, live.Close))
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Header.Set("Cache-Control", "no-cache")
	resp.Header.Set(attachTokenHeader, token.String())
	resp.Header.Set(chatIDHeader, strconv.FormatInt(chat.ID, 10))
	return resp, nil
}

// startJob opens the completion stream and runs a job over it in the
// background. onFinish runs on its own goroutine once generation ends.
func (a *API) startJob(req backend.ChatRequest, onFinish func(text string, err error)) (stream.Token, *stream.Receiver, error) {
	src, err := a.completions.Stream(a.ctx, req)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			return stream.Token{}, nil, server.NewError(http.StatusBadGateway, "completion backend rejected the request", err)
		}
		return stream.Token{}, nil, fmt.Errorf("start completion: %w", err)
	}

	job, err := stream.NewJob(a.registry)
	if err != nil {
		src.Close()
		return stream.Token{}, nil, fmt.Errorf("register job: %w", err)
	}
	live := job.Live()
	job.OnFinish = func(text string, err error) {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			onFinish(text, err)
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		start := time.Now()
		res := job.Run(a.ctx, src)
		if a.jobs != nil {
			a.jobs.ObserveJob(res, time.Since(start))
		}
	}()
	return job.Token(), live, nil
}

// persistReply stores the generated reply and, for a new chat, asks the
// completion API for a title.
func (a *API) persistReply(chat store.Chat, newChat bool, prompt, reply string, genErr error) {
	ctx := context.WithoutCancel(a.ctx)
	log := zap.S().With("chat_id", chat.ID)

	if genErr != nil {
		log.Warnw("generation ended early, storing partial reply", "error", genErr, "reply_bytes", len(reply))
	}
	if reply != "" {
		if _, err := a.store.AppendMessage(ctx, chat.ID, store.SenderAI, reply); err != nil {
			log.Errorw("failed to store reply", "error", err)
		}
	}
	if !newChat {
		return
	}

	title, err := a.completions.Complete(ctx, backend.ChatRequest{
		Model:     a.opts.Model,
		MaxTokens: a.opts.MaxTokens,
		Messages:  []backend.Message{{Role: backend.RoleUser, Content: titlePrompt(prompt)}},
	})
	if err != nil {
		log.Warnw("failed to generate chat title", "error", err)
		return
	}
	title = strings.Trim(strings.TrimSpace(title), `"`)
	if title == "" {
		return
	}
	if err := a.store.RenameChat(ctx, chat.ID, title); err != nil {
		log.Errorw("failed to store chat title", "error", err)
	}
}

func titlePrompt(userMsg string) string {
	return "Generate a title for the following chat to be displayed. It must be less than 5 words.\n" +
		"Do not respond with anything but the title\n\n" +
		"Chat Content:\nUser: " + userMsg
}

// Package api is the HTTP surface of the relay: starting generation jobs,
// attaching to them over WebSocket and browsing chat history.
package api

import (
	"context"
	"sync"
	"time"

	"github.com/ffaiyaz23/streamrelay/internal/backend"
	"github.com/ffaiyaz23/streamrelay/internal/store"
	"github.com/ffaiyaz23/streamrelay/internal/stream"
)

// Completions is the completion API the relay generates text with.
// *backend.Client implements it.
type Completions interface {
	Stream(ctx context.Context, req backend.ChatRequest) (*backend.ChunkStream, error)
	Complete(ctx context.Context, req backend.ChatRequest) (string, error)
}

// JobObserver is told about every finished generation job.
type JobObserver interface {
	ObserveJob(res stream.Result, d time.Duration)
}

type Options struct {
	MaxReqSize    int64
	Model         string
	MaxTokens     int
	SystemMessage string
	DevSessions   bool
	SessionTTL    time.Duration
}

// API holds the collaborators shared by all handlers.
type API struct {
	ctx         context.Context
	opts        Options
	store       store.Store
	registry    *stream.Registry
	completions Completions
	jobs        JobObserver

	wg sync.WaitGroup
}

// New builds the API. ctx bounds background jobs: once it is cancelled,
// jobs nobody attached to are abandoned. jobs may be nil.
func New(ctx context.Context, opts Options, st store.Store, reg *stream.Registry, c Completions, jobs JobObserver) *API {
	return &API{
		ctx:         ctx,
		opts:        opts,
		store:       st,
		registry:    reg,
		completions: c,
		jobs:        jobs,
	}
}

// Wait blocks until every background job and persistence task has ended.
func (a *API) Wait() {
	a.wg.Wait()
}

// ChatRequest builds a completion request from a message chain, prefixed
// with the system message. Messages from unknown senders are skipped.
func ChatRequest(model string, maxTokens int, system string, chain []store.Msg) backend.ChatRequest {
	msgs := make([]backend.Message, 0, len(chain)+1)
	msgs = append(msgs, backend.Message{Role: backend.RoleSystem, Content: system})
	for _, m := range chain {
		switch m.Sender {
		case store.SenderAI:
			msgs = append(msgs, backend.Message{Role: backend.RoleAssistant, Content: m.Body})
		case store.SenderUser:
			msgs = append(msgs, backend.Message{Role: backend.RoleUser, Content: m.Body})
		}
	}
	return backend.ChatRequest{Model: model, MaxTokens: maxTokens, Messages: msgs}
}

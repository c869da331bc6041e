package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MockOptions tunes the mock completion server.
type MockOptions struct {
	// Delay is slept between streamed words.
	Delay time.Duration
	// FirstChunkDelay is slept after the response headers are sent and
	// before the first word.
	FirstChunkDelay time.Duration
	// FailAfter, when positive, drops the connection after that many
	// streamed words.
	FailAfter int
}

// MockReply is the text the mock server answers req with.
func MockReply(req ChatRequest) string {
	return fmt.Sprintf("Echo: %s", req.LastUserMessage())
}

// MockHandler serves an OpenAI-compatible /v1/chat/completions endpoint that
// echoes the last user message, word by word when streaming.
func MockHandler(opts MockOptions) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":{"message":"invalid JSON"}}`, http.StatusBadRequest)
			return
		}
		full := MockReply(req)

		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			resp := map[string]any{
				"choices": []map[string]any{
					{"message": Message{Role: RoleAssistant, Content: full}},
				},
			}
			if err := json.NewEncoder(w).Encode(resp); err != nil {
				zap.S().Warnw("mock backend: write JSON", "error", err)
			}
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		flusher.Flush()
		if opts.FirstChunkDelay > 0 {
			select {
			case <-time.After(opts.FirstChunkDelay):
			case <-r.Context().Done():
				return
			}
		}

		words := strings.Split(full, " ")
		for i, word := range words {
			if opts.FailAfter > 0 && i == opts.FailAfter {
				panic(http.ErrAbortHandler)
			}
			if i < len(words)-1 {
				word += " "
			}
			chunk := streamChunk{Choices: []chunkChoice{{Delta: delta{Content: word}}}}
			data, _ := json.Marshal(chunk)
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				zap.S().Debugw("mock backend: client went away", "error", err)
				return
			}
			flusher.Flush()
			if opts.Delay > 0 {
				select {
				case <-time.After(opts.Delay):
				case <-r.Context().Done():
					return
				}
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	})
	return mux
}

// StartMockServer starts the mock completion server on addr (e.g. ":0").
// It returns the server instance and the actual listening address.
func StartMockServer(addr string, opts MockOptions) (*http.Server, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("mock backend listen: %w", err)
	}
	server := &http.Server{Handler: MockHandler(opts), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		zap.S().Infow("mock backend listening", "address", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorw("mock backend stopped", "error", err)
		}
	}()
	return server, ln.Addr().String(), nil
}

package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxErrorBody = 4 << 10

// Client talks to an OpenAI-compatible chat completions API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a client pointing at baseURL (e.g. https://api.openai.com).
// Outgoing requests are traced.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Stream starts a streaming completion. The returned stream must be closed.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (*ChunkStream, error) {
	req.Stream = true
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	return &ChunkStream{body: resp.Body, scanner: sc}, nil
}

// Complete runs a non-streaming completion and returns the reply text.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	req.Stream = false
	resp, err := c.post(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out completion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, req ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	r.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if req.Stream {
		r.Header.Set("Accept", "text/event-stream")
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(r)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

// ChunkStream yields the content deltas of a streaming completion.
type ChunkStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// ErrTruncated reports a stream that ended before the API sent [DONE].
var ErrTruncated = fmt.Errorf("completion stream ended without [DONE]: %w", io.ErrUnexpectedEOF)

// Next returns the next non-empty content delta, or io.EOF once the API
// sends [DONE]. A stream that ends without [DONE] yields ErrTruncated.
func (s *ChunkStream) Next(ctx context.Context) (string, error) {
	for !s.done {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !s.scanner.Scan() {
			s.done = true
			if err := s.scanner.Err(); err != nil {
				return "", fmt.Errorf("read completion stream: %w", err)
			}
			return "", ErrTruncated
		}

		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("decode completion chunk: %w", err)
		}
		if chunk.Error != nil {
			s.done = true
			return "", fmt.Errorf("completion stream: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return chunk.Choices[0].Delta.Content, nil
		}
	}
	return "", io.EOF
}

// Close releases the underlying connection.
func (s *ChunkStream) Close() error {
	return s.body.Close()
}

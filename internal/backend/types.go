package backend

import "fmt"

// Chat roles understood by OpenAI-compatible completion APIs.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload sent to /v1/chat/completions.
// User identifies the end user on whose behalf the request is made.
type ChatRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	User      string    `json:"user,omitempty"`
}

// LastUserMessage returns the content of the most recent user turn.
func (r ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// APIError is returned when the completion API answers with a non-2xx status.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion api returned %d: %s", e.Status, e.Body)
}

type delta struct {
	Content string `json:"content"`
}

type chunkChoice struct {
	Delta delta `json:"delta"`
}

type streamChunk struct {
	Choices []chunkChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type completion struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

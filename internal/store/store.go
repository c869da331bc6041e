// Package store persists users, sessions, chats and the message chains
// behind them. Chats point at their newest message and every message
// points at its parent, so a conversation is read back by walking from
// the head to the root.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrSessionExpired = errors.New("store: session expired")
)

// Message senders.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// DefaultChatName is shown for chats that have not been titled yet.
const DefaultChatName = "Untitled Chat"

type User struct {
	ID        int64
	Email     string
	CreatedAt time.Time
}

type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}

// Chat is a conversation owned by one user. HeadMsg is 0 while the chat is
// empty and Name is empty until a title is set.
type Chat struct {
	ID        int64
	UserID    int64
	HeadMsg   int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName returns the chat name or DefaultChatName.
func (c Chat) DisplayName() string {
	if c.Name == "" {
		return DefaultChatName
	}
	return c.Name
}

// Msg is one message. ParentID is 0 for the first message of a chat.
type Msg struct {
	ID        int64
	ChatID    int64
	Body      string
	Sender    string
	UserID    int64
	ParentID  int64
	CreatedAt time.Time
}

// Store is implemented by Memory and Postgres.
type Store interface {
	CreateUser(ctx context.Context, email string) (User, error)
	CreateSession(ctx context.Context, userID int64, ttl time.Duration) (Session, error)
	// ValidateSession returns ErrNotFound for unknown tokens and
	// ErrSessionExpired once the session is past its expiry.
	ValidateSession(ctx context.Context, token string) (Session, error)

	CreateChat(ctx context.Context, userID int64) (Chat, error)
	GetChat(ctx context.Context, chatID int64) (Chat, error)
	// UserChats lists a user's chats, most recently updated first.
	UserChats(ctx context.Context, userID int64) ([]Chat, error)
	RenameChat(ctx context.Context, chatID int64, name string) error
	DeleteChat(ctx context.Context, chatID int64) error

	// AppendMessage adds a message whose parent is the current head of the
	// chat and makes it the new head.
	AppendMessage(ctx context.Context, chatID int64, sender, body string) (Msg, error)
	// MessageChain returns the chat's messages from the root to the head.
	MessageChain(ctx context.Context, chatID int64) ([]Msg, error)
}

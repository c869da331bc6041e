package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ffaiyaz23/streamrelay/internal/server"
	"github.com/ffaiyaz23/streamrelay/internal/store"
)

type chatIDInput struct {
	ChatID int64 `json:"chat_id"`
}

type chatMsg struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

type chatSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ChatMsgs lists the messages of one of the caller's chats, oldest first.
func (a *API) ChatMsgs(r *http.Request) (*server.Response, error) {
	if r.Method != http.MethodPost {
		return nil, methodNotAllowed()
	}
	sess, err := a.session(r)
	if err != nil {
		return nil, err
	}
	var in chatIDInput
	if err := decodeJSON(r, a.opts.MaxReqSize, &in); err != nil {
		return nil, err
	}
	chat, err := a.ownedChat(r.Context(), sess, in.ChatID)
	if err != nil {
		return nil, err
	}
	chain, err := a.store.MessageChain(r.Context(), chat.ID)
	if err != nil {
		return nil, fmt.Errorf("load message chain: %w", err)
	}

	out := make([]chatMsg, 0, len(chain))
	for _, m := range chain {
		out = append(out, chatMsg{Text: m.Body, Sender: m.Sender})
	}
	return server.JSON(http.StatusOK, out)
}

// UserChats lists the caller's chats, most recently active first.
func (a *API) UserChats(r *http.Request) (*server.Response, error) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		return nil, methodNotAllowed()
	}
	if err := checkBodySize(r, a.opts.MaxReqSize); err != nil {
		return nil, err
	}
	sess, err := a.session(r)
	if err != nil {
		return nil, err
	}
	chats, err := a.store.UserChats(r.Context(), sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	out := make([]chatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatSummary{ID: c.ID, Name: c.DisplayName()})
	}
	return server.JSON(http.StatusOK, out)
}

// DeleteChat removes one of the caller's chats and its messages.
func (a *API) DeleteChat(r *http.Request) (*server.Response, error) {
	if r.Method != http.MethodPost {
		return nil, methodNotAllowed()
	}
	sess, err := a.session(r)
	if err != nil {
		return nil, err
	}
	var in chatIDInput
	if err := decodeJSON(r, a.opts.MaxReqSize, &in); err != nil {
		return nil, err
	}
	chat, err := a.ownedChat(r.Context(), sess, in.ChatID)
	if err != nil {
		return nil, err
	}
	if err := a.store.DeleteChat(r.Context(), chat.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("delete chat: %w", err)
	}
	return server.NewResponse(http.StatusNoContent, nil), nil
}

type appendInput struct {
	ChatID int64  `json:"chat_id"`
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

// AppendToChat adds a message to one of the caller's chats without
// generating a reply.
func (a *API) AppendToChat(r *http.Request) (*server.Response, error) {
	if r.Method != http.MethodPost {
		return nil, methodNotAllowed()
	}
	sess, err := a.session(r)
	if err != nil {
		return nil, err
	}
	var in appendInput
	if err := decodeJSON(r, a.opts.MaxReqSize, &in); err != nil {
		return nil, err
	}
	if in.Sender != store.SenderUser && in.Sender != store.SenderAI {
		return nil, server.NewError(http.StatusBadRequest, "sender must be user or ai", nil)
	}
	chat, err := a.ownedChat(r.Context(), sess, in.ChatID)
	if err != nil {
		return nil, err
	}
	msg, err := a.store.AppendMessage(r.Context(), chat.ID, in.Sender, in.Body)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return server.JSON(http.StatusCreated, map[string]int64{"id": msg.ID})
}

type sessionOutput struct {
	Token     string `json:"token"`
	UserID    int64  `json:"user_id"`
	ExpiresAt string `json:"expires_at"`
}

// DefaultSession creates a throwaway user and a session for it. It is only
// routed when dev sessions are enabled.
func (a *API) DefaultSession(r *http.Request) (*server.Response, error) {
	if r.Method != http.MethodPost {
		return nil, methodNotAllowed()
	}
	user, err := a.store.CreateUser(r.Context(), "")
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	sess, err := a.store.CreateSession(r.Context(), user.ID, a.opts.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return server.JSON(http.StatusOK, sessionOutput{
		Token:     sess.Token,
		UserID:    sess.UserID,
		ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ffaiyaz23/streamrelay/internal/server"
	"github.com/ffaiyaz23/streamrelay/internal/store"
)

const sessionHeader = "X-Session-Token"

var (
	errMissingSession = server.NewError(http.StatusUnauthorized, "missing session token", nil)
	errInvalidSession = server.NewError(http.StatusUnauthorized, "invalid session", nil)
)

// checkBodySize rejects requests that declare a body larger than max before
// anything else is done with them.
func checkBodySize(r *http.Request, max int64) error {
	if r.ContentLength > max {
		return server.NewError(http.StatusRequestEntityTooLarge, "request body too large", nil)
	}
	return nil
}

// decodeJSON reads at most max bytes of the body into v. Bodies without a
// Content-Length are cut off at the limit as they are read.
func decodeJSON(r *http.Request, max int64, v any) error {
	if err := checkBodySize(r, max); err != nil {
		return err
	}
	body := http.MaxBytesReader(nil, r.Body, max)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return server.NewError(http.StatusRequestEntityTooLarge, "request body too large", err)
		}
		if errors.Is(err, io.EOF) {
			return server.NewError(http.StatusBadRequest, "empty request body", err)
		}
		return server.NewError(http.StatusBadRequest, "invalid JSON body", err)
	}
	return nil
}

// session validates the session token carried by the request header.
func (a *API) session(r *http.Request) (store.Session, error) {
	return a.validateSession(r.Context(), r.Header.Get(sessionHeader))
}

func (a *API) validateSession(ctx context.Context, token string) (store.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return store.Session{}, errMissingSession
	}
	sess, err := a.store.ValidateSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrSessionExpired) {
		return store.Session{}, errInvalidSession
	}
	if err != nil {
		return store.Session{}, err
	}
	return sess, nil
}

// ownedChat loads a chat and checks that sess owns it.
func (a *API) ownedChat(ctx context.Context, sess store.Session, chatID int64) (store.Chat, error) {
	chat, err := a.store.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Chat{}, server.NewError(http.StatusNotFound, "chat not found", err)
	}
	if err != nil {
		return store.Chat{}, err
	}
	if chat.UserID != sess.UserID {
		return store.Chat{}, server.NewError(http.StatusForbidden, "chat belongs to another user", nil)
	}
	return chat, nil
}

func methodNotAllowed() error {
	return server.NewError(http.StatusMethodNotAllowed, "method not allowed", nil)
}

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ffaiyaz23/streamrelay/internal/server"
	"github.com/ffaiyaz23/streamrelay/internal/stream"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 512
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers cannot set X-Session-Token on a WebSocket; the session
	// travels in the query string instead, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Attach claims the output of a generation job and relays it over a
// WebSocket, one text message per frame. The job token is the last path
// segment. A token can be claimed once; later attempts get 404.
func (a *API) Attach(r *http.Request) (*server.Response, error) {
	if r.Method != http.MethodGet {
		return nil, methodNotAllowed()
	}
	if err := checkBodySize(r, a.opts.MaxReqSize); err != nil {
		return nil, err
	}
	token, err := stream.ParseToken(lastSegment(r.URL.Path))
	if err != nil {
		return nil, server.NewError(http.StatusBadRequest, "invalid attach token", err)
	}

	sessToken := r.URL.Query().Get("token")
	if sessToken == "" {
		sessToken = r.Header.Get(sessionHeader)
	}
	if _, err := a.validateSession(r.Context(), sessToken); err != nil {
		return nil, err
	}
	if !websocket.IsWebSocketUpgrade(r) {
		return nil, server.NewError(http.StatusBadRequest, "websocket upgrade required", nil)
	}

	rx, ok := a.registry.TryAttach(token)
	if !ok {
		return nil, server.NewError(http.StatusNotFound, "no such job", nil)
	}

	return &server.Response{Takeover: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written an error response.
			rx.Close()
			return
		}
		relay(r.Context(), conn, rx, zap.S().With(
			"job", token.String(),
			"req_id", middleware.GetReqID(r.Context()),
		))
	})}, nil
}

// relay forwards rx to conn until the job closes the channel, then closes
// the socket with a normal-closure frame. A client that goes away closes
// rx, which the job notices on its next send.
func relay(ctx context.Context, conn *websocket.Conn, rx *stream.Receiver, log *zap.SugaredLogger) {
	defer conn.Close()
	defer rx.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn.SetReadLimit(wsMaxMessageSize)
	go func() {
		// Incoming messages are ignored; reading is what surfaces close
		// frames and dropped connections.
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	frames := 0
	for {
		frame, err := rx.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Infow("attach client went away", "frames", frames, "error", err)
			return
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Infow("attach write failed", "frames", frames, "error", err)
			return
		}
		frames++
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		log.Debugw("attach close frame failed", "error", err)
	}
	log.Infow("attach stream delivered", "frames", frames)
}

func lastSegment(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

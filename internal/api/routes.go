package api

import (
	"net/http"

	"github.com/ffaiyaz23/streamrelay/internal/server"
)

// Prefix is where the API service is mounted.
const Prefix = "/api"

// AttachPrefix is the top-level attach path, /attach/{token}.
const AttachPrefix = "/attach/"

// apiNotFound is the fallback of the API service.
var apiNotFound = server.HandlerFunc(func(r *http.Request) (*server.Response, error) {
	return server.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
})

// Service returns the API routes. Requests under Prefix that match none of
// them get a JSON 404 from the API's own fallback.
func (a *API) Service() *server.Service {
	b := server.NewBuilder().
		Handle(server.PathEq(Prefix+"/prompt"), server.HandlerFunc(a.Prompt)).
		Handle(server.PathPrefix(Prefix+AttachPrefix), server.HandlerFunc(a.Attach)).
		Handle(server.PathEq(Prefix+"/chat_msgs"), server.HandlerFunc(a.ChatMsgs)).
		Handle(server.PathEq(Prefix+"/user_chats"), server.HandlerFunc(a.UserChats)).
		Handle(server.PathEq(Prefix+"/delete_chat"), server.HandlerFunc(a.DeleteChat)).
		Handle(server.PathEq(Prefix+"/append_to_chat"), server.HandlerFunc(a.AppendToChat))
	if a.opts.DevSessions {
		b.Handle(server.PathEq(Prefix+"/session/default"), server.HandlerFunc(a.DefaultSession))
	}
	return b.WithFallback(apiNotFound)
}

// Mounts are the optional pieces of the root service.
type Mounts struct {
	StaticDir string       // empty: no static files
	Metrics   http.Handler // nil: no /metrics
	Slack     server.Handler
}

// Root assembles the whole site: static files, /metrics, the attach
// endpoint, the API service, the Slack events endpoint and a 404 fallback.
func Root(a *API, m Mounts) *server.Service {
	b := server.NewBuilder()
	if m.StaticDir != "" {
		b.WithRoute(server.NewStaticFiles(m.StaticDir).Route())
	}
	if m.Metrics != nil {
		b.Handle(server.PathEq("/metrics"), server.Takeover(m.Metrics))
	}
	b.Handle(server.PathPrefix(AttachPrefix), server.HandlerFunc(a.Attach))
	b.Handle(server.PathPrefix(Prefix), a.Service())
	if m.Slack != nil {
		b.Handle(server.PathEq("/slack/events"), m.Slack)
	}
	return b.WithFallback(server.NotFound)
}

package server

import "net/http"

// Route pairs a matcher with the handler it guards.
type Route struct {
	matcher Matcher
	handler Handler
}

// NewRoute builds a route. Routes are immutable.
func NewRoute(m Matcher, h Handler) Route {
	return Route{matcher: m, handler: h}
}

// Builder collects routes in order and produces a Service once a fallback
// is supplied.
type Builder struct {
	routes []Route
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithRoute appends a route. Earlier routes take precedence.
func (b *Builder) WithRoute(r Route) *Builder {
	b.routes = append(b.routes, r)
	return b
}

// Handle appends a route built from m and h.
func (b *Builder) Handle(m Matcher, h Handler) *Builder {
	return b.WithRoute(NewRoute(m, h))
}

// WithStaticDir appends a route that serves files from dir with h.
func (b *Builder) WithStaticDir(dir string, h Handler) *Builder {
	return b.WithRoute(NewRoute(StaticDir(dir), h))
}

// WithFallback finishes the builder. fallback answers every request no
// route matched.
func (b *Builder) WithFallback(fallback Handler) *Service {
	routes := make([]Route, len(b.routes))
	copy(routes, b.routes)
	return &Service{routes: routes, fallback: fallback}
}

// Service is an ordered list of routes plus a fallback. It is itself a
// Handler, so a Service can be mounted as another Service's route. A
// Service is read-only after construction and safe for concurrent use.
type Service struct {
	routes   []Route
	fallback Handler
}

// Handle dispatches r to the first matching route, or to the fallback.
// A matched route is authoritative: its error is returned as is.
func (s *Service) Handle(r *http.Request) (*Response, error) {
	return s.match(r).Handle(r)
}

func (s *Service) match(r *http.Request) Handler {
	for _, rt := range s.routes {
		if rt.matcher.Matches(r) {
			return rt.handler
		}
	}
	return s.fallback
}

// ServeHTTP makes the Service usable as an http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveHandler(s, w, r)
}

// Package server is a small routing layer in which handlers and whole
// services are interchangeable. A Service dispatches to the first route
// whose matcher accepts the request, and every handler answers with a
// Response whose body is a lazy sequence of frames.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Handler turns a request into a streaming response.
type Handler interface {
	Handle(r *http.Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(r *http.Request) (*Response, error)

// Handle calls f(r).
func (f HandlerFunc) Handle(r *http.Request) (*Response, error) {
	return f(r)
}

// Response is what a Handler produces.
type Response struct {
	Status int
	Header http.Header
	Body   Body

	// Takeover, when set, is given the raw connection instead of writing
	// Status, Header and Body. It is used for protocol upgrades and to
	// mount plain net/http handlers.
	Takeover http.Handler
}

// NewResponse returns a response with the given status and body and an
// empty header map.
func NewResponse(status int, body Body) *Response {
	return &Response{Status: status, Header: make(http.Header), Body: body}
}

// Text returns a single-frame text/plain response.
func Text(status int, s string) *Response {
	resp := NewResponse(status, SingleFrame([]byte(s)))
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return resp
}

// JSON returns a single-frame application/json response.
func JSON(status int, v any) (*Response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	resp := NewResponse(status, SingleFrame(append(b, '\n')))
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

// Takeover wraps a plain net/http handler as a Handler.
func Takeover(h http.Handler) Handler {
	return HandlerFunc(func(r *http.Request) (*Response, error) {
		return &Response{Takeover: h}, nil
	})
}

// NotFound answers every request with a fixed 404.
var NotFound Handler = HandlerFunc(func(r *http.Request) (*Response, error) {
	return Text(http.StatusNotFound, "404 not found"), nil
})

// Error is a handler failure that maps to a specific HTTP status.
// Errors of any other type are reported as 500.
type Error struct {
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Msg, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error. err may be nil.
func NewError(status int, msg string, err error) *Error {
	return &Error{Status: status, Msg: msg, Err: err}
}

// StatusOf returns the HTTP status a handler error should be reported as.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status >= 400 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// publicMessage is the text a client sees for err.
func publicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Status < 500 && e.Msg != "" {
		return e.Msg
	}
	return http.StatusText(StatusOf(err))
}

package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Adapt exposes a Handler as an http.Handler. Frames are written and
// flushed one at a time. A handler error becomes an error response; a
// failing body aborts the connection after the last whole frame.
func Adapt(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveHandler(h, w, r)
	})
}

func serveHandler(h Handler, w http.ResponseWriter, r *http.Request) {
	resp, err := h.Handle(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResponse(w, r, resp)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		zap.S().Errorw("handler failed",
			"method", r.Method,
			"path", r.URL.Path,
			"req_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	} else {
		zap.S().Debugw("request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	fmt.Fprintf(w, "{\"error\":%q}\n", publicMessage(err))
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp *Response) {
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if resp.Takeover != nil {
		resp.Takeover.ServeHTTP(w, r)
		return
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.Body == nil {
		w.WriteHeader(status)
		return
	}
	defer resp.Body.Close()

	var out io.Writer = w
	var enc encoder
	if bodyAllowed(r, status) && w.Header().Get("Content-Encoding") == "" {
		if name, e := negotiateEncoding(r.Header.Get("Accept-Encoding"), w); e != nil {
			w.Header().Set("Content-Encoding", name)
			w.Header().Add("Vary", "Accept-Encoding")
			w.Header().Del("Content-Length")
			enc, out = e, e
		}
	}
	w.WriteHeader(status)

	flusher, _ := w.(http.Flusher)
	// Send the headers now; the first frame may be a long way off.
	if flusher != nil {
		flusher.Flush()
	}
	ctx := r.Context()
	for {
		frame, err := resp.Body.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() == nil {
				zap.S().Warnw("response body failed mid-stream, aborting connection",
					"path", r.URL.Path,
					"req_id", middleware.GetReqID(ctx),
					"error", err,
				)
			}
			panic(http.ErrAbortHandler)
		}
		if _, err := out.Write(frame); err != nil {
			// The client went away; closing the body releases the producer.
			return
		}
		if enc != nil {
			if err := enc.Flush(); err != nil {
				return
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			zap.S().Debugw("closing content encoder", "error", err)
		}
	}
}

func bodyAllowed(r *http.Request, status int) bool {
	if r.Method == http.MethodHead {
		return false
	}
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

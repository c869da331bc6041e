package server

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// StaticFiles serves files resolved by a StaticDirMatcher, streaming them
// in frames.
type StaticFiles struct {
	dir *StaticDirMatcher
}

// NewStaticFiles returns a handler serving files under dir.
func NewStaticFiles(dir string) *StaticFiles {
	return &StaticFiles{dir: StaticDir(dir)}
}

// Handle opens the requested file and streams it.
func (s *StaticFiles) Handle(r *http.Request) (*Response, error) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return nil, NewError(http.StatusMethodNotAllowed, "method not allowed", nil)
	}
	p, ok := s.dir.Resolve(r.URL.Path)
	if !ok {
		return nil, NewError(http.StatusNotFound, "not found", nil)
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewError(http.StatusNotFound, "not found", err)
		}
		return nil, err
	}

	resp := NewResponse(http.StatusOK, ReaderBody(f, 0))
	resp.Header.Set("Content-Type", contentType(p))
	return resp, nil
}

// Route returns the route that pairs this handler with its matcher.
func (s *StaticFiles) Route() Route {
	return NewRoute(s.dir, s)
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

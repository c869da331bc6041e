package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Matcher decides whether a route applies to a request. Matches must be
// cheap and free of side effects.
type Matcher interface {
	Matches(r *http.Request) bool
}

// MatcherFunc adapts a predicate to the Matcher interface.
type MatcherFunc func(r *http.Request) bool

// Matches calls f(r).
func (f MatcherFunc) Matches(r *http.Request) bool {
	return f(r)
}

// PathEq matches requests whose path is exactly p.
func PathEq(p string) Matcher {
	return MatcherFunc(func(r *http.Request) bool {
		return r.URL.Path == p
	})
}

// PathPrefix matches requests whose path is prefix or lies below it.
// "/api" matches "/api" and "/api/chats" but not "/apix".
func PathPrefix(prefix string) Matcher {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return MatcherFunc(func(r *http.Request) bool {
			return strings.HasPrefix(r.URL.Path, prefix)
		})
	}
	return MatcherFunc(func(r *http.Request) bool {
		p := r.URL.Path
		if !strings.HasPrefix(p, prefix) {
			return false
		}
		return len(p) == len(prefix) || p[len(prefix)] == '/'
	})
}

// Method restricts m to requests using one of methods.
func Method(m Matcher, methods ...string) Matcher {
	return MatcherFunc(func(r *http.Request) bool {
		for _, method := range methods {
			if r.Method == method {
				return m.Matches(r)
			}
		}
		return false
	})
}

// StaticDirMatcher matches requests whose path names a regular file under
// a directory. A path naming a directory resolves to its index.html.
type StaticDirMatcher struct {
	dir string
}

// StaticDir returns a matcher for files under dir.
func StaticDir(dir string) *StaticDirMatcher {
	return &StaticDirMatcher{dir: dir}
}

// Matches reports whether the request path resolves to an existing file.
func (m *StaticDirMatcher) Matches(r *http.Request) bool {
	_, ok := m.Resolve(r.URL.Path)
	return ok
}

// Resolve maps a URL path to a file path under the directory. Cleaning the
// path first keeps ".." from escaping the directory. Any stat error counts
// as no match.
func (m *StaticDirMatcher) Resolve(urlPath string) (string, bool) {
	rel := path.Clean("/" + urlPath)
	p := filepath.Join(m.dir, filepath.FromSlash(rel))

	info, err := os.Stat(p)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		p = filepath.Join(p, "index.html")
		if info, err = os.Stat(p); err != nil {
			return "", false
		}
	}
	if !info.Mode().IsRegular() {
		return "", false
	}
	return p, true
}

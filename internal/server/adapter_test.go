package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapt_WritesStatusHeadersAndBody(t *testing.T) {
	h := HandlerFunc(func(r *http.Request) (*Response, error) {
		resp := Text(http.StatusCreated, "hello")
		resp.Header.Set("X-Chat-ID", "7")
		return resp, nil
	})

	rec := httptest.NewRecorder()
	Adapt(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "7", rec.Header().Get("X-Chat-ID"))
	assert.Equal(t, "hello", rec.Body.String())
}

func TestAdapt_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "untyped error is a 500 without details",
			err:      errors.New("db password is hunter2"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error":"Internal Server Error"}` + "\n",
		},
		{
			name:     "typed client error keeps its message",
			err:      NewError(http.StatusUnauthorized, "invalid session", nil),
			wantCode: http.StatusUnauthorized,
			wantBody: `{"error":"invalid session"}` + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := HandlerFunc(func(r *http.Request) (*Response, error) { return nil, tt.err })
			rec := httptest.NewRecorder()
			Adapt(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestAdapt_StreamsFramesAsProduced(t *testing.T) {
	release := make(chan struct{})
	frames := []string{"first ", "second"}
	h := HandlerFunc(func(r *http.Request) (*Response, error) {
		i := 0
		body := FuncBody(func(ctx context.Context) ([]byte, error) {
			if i == len(frames) {
				return nil, io.EOF
			}
			if i == 1 {
				select {
				case <-release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			i++
			return []byte(frames[i-1]), nil
		}, nil)
		return NewResponse(http.StatusOK, body), nil
	})

	srv := httptest.NewServer(Adapt(h))
	defer srv.Close()

	resp, err := getIdentity(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	br := bufio.NewReader(resp.Body)
	first := make([]byte, len("first "))
	_, err = io.ReadFull(br, first)
	require.NoError(t, err)
	assert.Equal(t, "first ", string(first))

	close(release)
	rest, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "second", string(rest))
}

func TestAdapt_HeadersPrecedeFirstFrame(t *testing.T) {
	for _, accept := range []string{"identity", "gzip"} {
		t.Run(accept, func(t *testing.T) {
			release := make(chan struct{})
			h := HandlerFunc(func(r *http.Request) (*Response, error) {
				sent := false
				body := FuncBody(func(ctx context.Context) ([]byte, error) {
					if sent {
						return nil, io.EOF
					}
					select {
					case <-release:
					case <-ctx.Done():
						return nil, ctx.Err()
					}
					sent = true
					return []byte("late"), nil
				}, nil)
				resp := NewResponse(http.StatusOK, body)
				resp.Header.Set("X-Attach-Token", "tok")
				return resp, nil
			})

			srv := httptest.NewServer(Adapt(h))
			defer srv.Close()
			defer close(release)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
			require.NoError(t, err)
			req.Header.Set("Accept-Encoding", accept)

			// No frame has been produced yet, so only the headers can arrive.
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "tok", resp.Header.Get("X-Attach-Token"))
		})
	}
}

func TestAdapt_MidStreamFailureAbortsConnection(t *testing.T) {
	h := HandlerFunc(func(r *http.Request) (*Response, error) {
		sent := false
		body := FuncBody(func(ctx context.Context) ([]byte, error) {
			if !sent {
				sent = true
				return []byte("partial"), nil
			}
			return nil, errors.New("upstream dropped")
		}, nil)
		return NewResponse(http.StatusOK, body), nil
	})

	srv := httptest.NewServer(Adapt(h))
	defer srv.Close()

	resp, err := getIdentity(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := io.ReadAll(resp.Body)
	assert.Error(t, err, "a truncated body must not look like a clean end of stream")
	assert.Equal(t, "partial", string(got))
}

func TestAdapt_BodyClosedAfterWrite(t *testing.T) {
	closed := false
	h := HandlerFunc(func(r *http.Request) (*Response, error) {
		body := FuncBody(SingleFrame([]byte("x")).Next, func() { closed = true })
		return NewResponse(http.StatusOK, body), nil
	})

	rec := httptest.NewRecorder()
	Adapt(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, closed)
}

func TestAdapt_GzipEncoding(t *testing.T) {
	h := HandlerFunc(func(r *http.Request) (*Response, error) {
		return Text(http.StatusOK, "compress me please, compress me please"), nil
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "br;q=0, gzip")
	rec := httptest.NewRecorder()
	Adapt(h).ServeHTTP(rec, req)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "compress me please, compress me please", string(plain))
}

func TestAdapt_HeadSkipsEncoding(t *testing.T) {
	h := HandlerFunc(func(r *http.Request) (*Response, error) {
		return Text(http.StatusOK, "body"), nil
	})

	req := httptest.NewRequest(http.MethodHead, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	Adapt(h).ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}

func TestAdapt_Takeover(t *testing.T) {
	h := Takeover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "raw")
	}))

	rec := httptest.NewRecorder()
	Adapt(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "raw", rec.Body.String())
}

func TestNegotiateEncoding(t *testing.T) {
	tests := []struct {
		accept string
		want   string
	}{
		{accept: "", want: ""},
		{accept: "br", want: "br"},
		{accept: "gzip, deflate", want: "gzip"},
		{accept: "deflate", want: "deflate"},
		{accept: "gzip;q=0, identity", want: ""},
		{accept: "zstd", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			name, _ := negotiateEncoding(tt.accept, io.Discard)
			assert.Equal(t, tt.want, name)
		})
	}
}

// getIdentity disables the transport's transparent gzip so frames reach the
// test exactly as written.
func getIdentity(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "identity")
	return http.DefaultClient.Do(req)
}

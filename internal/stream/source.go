package stream

import (
	"context"
	"io"
)

// Source is an upstream generator of text chunks, such as a streaming
// completion. Next returns io.EOF when generation ends normally.
type Source interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// SliceSource replays a fixed list of chunks, then returns Err, or io.EOF
// when Err is nil.
type SliceSource struct {
	Chunks []string
	Err    error
}

func (s *SliceSource) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.Chunks) == 0 {
		if s.Err != nil {
			return "", s.Err
		}
		return "", io.EOF
	}
	c := s.Chunks[0]
	s.Chunks = s.Chunks[1:]
	return c, nil
}

func (s *SliceSource) Close() error { return nil }

package server

import (
	"context"
	"errors"
	"io"
)

// Body is a lazy, possibly unbounded sequence of byte frames. Next returns
// io.EOF after the last frame; any other error means production failed and
// the connection is cut. Close releases the producer and may be called at
// any point.
type Body interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

type onceBody struct {
	frame []byte
	done  bool
}

// SingleFrame returns a body consisting of exactly one frame.
func SingleFrame(b []byte) Body {
	return &onceBody{frame: b}
}

func (b *onceBody) Next(ctx context.Context) ([]byte, error) {
	if b.done {
		return nil, io.EOF
	}
	b.done = true
	return b.frame, nil
}

func (b *onceBody) Close() error { return nil }

type funcBody struct {
	next  func(context.Context) ([]byte, error)
	close func()
}

// FuncBody builds a body from a frame function and an optional release
// function.
func FuncBody(next func(context.Context) ([]byte, error), release func()) Body {
	return &funcBody{next: next, close: release}
}

func (b *funcBody) Next(ctx context.Context) ([]byte, error) {
	return b.next(ctx)
}

func (b *funcBody) Close() error {
	if b.close != nil {
		b.close()
	}
	return nil
}

const defaultFrameSize = 32 * 1024

type readerBody struct {
	rc   io.ReadCloser
	size int
}

// ReaderBody streams rc in frames of at most size bytes and closes it when
// the body is closed.
func ReaderBody(rc io.ReadCloser, size int) Body {
	if size <= 0 {
		size = defaultFrameSize
	}
	return &readerBody{rc: rc, size: size}
}

func (b *readerBody) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, b.size)
	for {
		n, err := b.rc.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
	}
}

func (b *readerBody) Close() error {
	return b.rc.Close()
}

// ReadAll drains a body into memory. It is meant for tests and small
// internal responses.
func ReadAll(ctx context.Context, body Body) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	defer body.Close()
	var out []byte
	for {
		frame, err := body.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, frame...)
	}
}

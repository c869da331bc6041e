package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

var (
	// ErrReceiverGone is returned by Sender.Send once the consuming side
	// has closed its Receiver.
	ErrReceiverGone = errors.New("stream: receiver closed")
	// ErrSenderClosed is returned by Sender.Send after Sender.Close.
	ErrSenderClosed = errors.New("stream: send on closed sender")
)

// queue is an unbounded FIFO of frames shared by one Sender and one
// Receiver. Sends never block and nothing throttles the producer: a slow
// receiver lets the queue grow without limit.
type queue struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	gone   bool
	notify chan struct{}
}

// Sender is the producing half of an unbounded delivery channel.
type Sender struct {
	q *queue
}

// Receiver is the consuming half of an unbounded delivery channel.
type Receiver struct {
	q *queue
}

// NewChannel creates an unbounded single-producer single-consumer channel
// of byte frames.
func NewChannel() (*Sender, *Receiver) {
	q := &queue{notify: make(chan struct{}, 1)}
	return &Sender{q: q}, &Receiver{q: q}
}

func (q *queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Send enqueues a frame. The frame is owned by the channel afterwards.
func (s *Sender) Send(frame []byte) error {
	s.q.mu.Lock()
	if s.q.gone {
		s.q.mu.Unlock()
		return ErrReceiverGone
	}
	if s.q.closed {
		s.q.mu.Unlock()
		return ErrSenderClosed
	}
	s.q.frames = append(s.q.frames, frame)
	s.q.mu.Unlock()
	s.q.wake()
	return nil
}

// Close marks the end of the stream. Frames already queued are still
// delivered. Closing twice is a no-op.
func (s *Sender) Close() {
	s.q.mu.Lock()
	s.q.closed = true
	s.q.mu.Unlock()
	s.q.wake()
}

// Recv returns the next frame in send order. It returns io.EOF once the
// sender closed and every queued frame was consumed.
func (r *Receiver) Recv(ctx context.Context) ([]byte, error) {
	for {
		r.q.mu.Lock()
		if r.q.gone {
			r.q.mu.Unlock()
			return nil, io.EOF
		}
		if len(r.q.frames) > 0 {
			frame := r.q.frames[0]
			r.q.frames[0] = nil
			r.q.frames = r.q.frames[1:]
			r.q.mu.Unlock()
			return frame, nil
		}
		if r.q.closed {
			r.q.mu.Unlock()
			return nil, io.EOF
		}
		r.q.mu.Unlock()

		select {
		case <-r.q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close detaches the consumer. Pending frames are dropped and later sends
// fail with ErrReceiverGone.
func (r *Receiver) Close() {
	r.q.mu.Lock()
	r.q.gone = true
	r.q.frames = nil
	r.q.mu.Unlock()
	r.q.wake()
}

// Len reports the number of frames queued but not yet received.
func (r *Receiver) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.frames)
}

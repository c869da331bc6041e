package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanSource yields whatever is pushed into in, then io.EOF once in is
// closed, or fail if set.
type chanSource struct {
	in     chan string
	fail   error
	closed chan struct{}
}

func newChanSource() *chanSource {
	return &chanSource{in: make(chan string), closed: make(chan struct{})}
}

func (s *chanSource) Next(ctx context.Context) (string, error) {
	select {
	case c, ok := <-s.in:
		if !ok {
			if s.fail != nil {
				return "", s.fail
			}
			return "", io.EOF
		}
		return c, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *chanSource) Close() error {
	close(s.closed)
	return nil
}

func recvAll(t *testing.T, rx *Receiver) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var frames []string
	for {
		frame, err := rx.Recv(ctx)
		if err == io.EOF {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, string(frame))
	}
}

func recvOne(t *testing.T, rx *Receiver) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := rx.Recv(ctx)
	require.NoError(t, err)
	return string(frame)
}

func startJob(t *testing.T, reg *Registry, src Source) (*Job, <-chan string, <-chan Result) {
	t.Helper()
	job, err := NewJob(reg)
	require.NoError(t, err)

	finished := make(chan string, 1)
	job.OnFinish = func(text string, err error) { finished <- text }

	results := make(chan Result, 1)
	go func() { results <- job.Run(context.Background(), src) }()
	return job, finished, results
}

func waitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case res := <-results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("job did not return")
		return Result{}
	}
}

func TestJob_AttachAfterCompletion(t *testing.T) {
	reg := NewRegistry(nil)
	job, finished, results := startJob(t, reg, &SliceSource{Chunks: []string{"Hel", "lo, ", "world"}})

	select {
	case text := <-finished:
		assert.Equal(t, "Hello, world", text)
	case <-time.After(2 * time.Second):
		t.Fatal("source never finished")
	}

	// The job is parked waiting for a consumer, with its buffer intact.
	select {
	case <-results:
		t.Fatal("job returned before anyone attached")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 1, reg.Len())

	rx, ok := reg.TryAttach(job.Token())
	require.True(t, ok)
	assert.Equal(t, []string{"Hello, world"}, recvAll(t, rx))

	res := waitResult(t, results)
	assert.True(t, res.Attached)
	assert.NoError(t, res.Err)
	assert.Equal(t, "Hello, world", res.Text)
	assert.Equal(t, 0, reg.Len())
}

func TestJob_AttachDuringProduction(t *testing.T) {
	reg := NewRegistry(nil)
	src := newChanSource()
	job, _, results := startJob(t, reg, src)

	src.in <- "Hel"
	rx, ok := reg.TryAttach(job.Token())
	require.True(t, ok)

	// Either the backlog flush or the live forward delivers "Hel" first.
	assert.Equal(t, "Hel", recvOne(t, rx))
	src.in <- "lo, "
	assert.Equal(t, "lo, ", recvOne(t, rx))
	src.in <- "world"
	assert.Equal(t, "world", recvOne(t, rx))
	close(src.in)

	assert.Empty(t, recvAll(t, rx))
	res := waitResult(t, results)
	assert.Equal(t, "Hello, world", res.Text)
	assert.True(t, res.Attached)
}

func TestJob_BacklogIsSingleFrame(t *testing.T) {
	reg := NewRegistry(nil)
	src := newChanSource()
	job, _, results := startJob(t, reg, src)

	// Once "d" has been handed over, "a" through "c" are buffered.
	for _, c := range []string{"a", "b", "c", "d"} {
		src.in <- c
	}

	rx, ok := reg.TryAttach(job.Token())
	require.True(t, ok)
	first := recvOne(t, rx)
	assert.Contains(t, []string{"abc", "abcd"}, first)

	src.in <- "e"
	close(src.in)
	rest := recvAll(t, rx)

	got := first
	for _, f := range rest {
		got += f
	}
	assert.Equal(t, "abcde", got, "no gaps or duplicates")
	assert.Equal(t, "abcde", waitResult(t, results).Text)
}

func TestJob_UpstreamFailureDeliversPartialOutput(t *testing.T) {
	reg := NewRegistry(nil)
	boom := errors.New("upstream reset")
	job, finished, results := startJob(t, reg, &SliceSource{Chunks: []string{"par", "tial"}, Err: boom})

	<-finished
	rx, ok := reg.TryAttach(job.Token())
	require.True(t, ok)
	assert.Equal(t, []string{"partial"}, recvAll(t, rx))

	res := waitResult(t, results)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, "partial", res.Text)
}

func TestJob_ConsumerGoneIsNotFatal(t *testing.T) {
	reg := NewRegistry(nil)
	src := newChanSource()
	job, finished, results := startJob(t, reg, src)

	rx, ok := reg.TryAttach(job.Token())
	require.True(t, ok)
	src.in <- "one"
	assert.Equal(t, "one", recvOne(t, rx))
	rx.Close()

	src.in <- "two"
	src.in <- "three"
	close(src.in)

	assert.Equal(t, "onetwothree", <-finished)
	res := waitResult(t, results)
	assert.NoError(t, res.Err)
	assert.ErrorIs(t, res.DeliveryErr, ErrReceiverGone)
	assert.Equal(t, "onetwothree", res.Text)
}

func TestJob_NeverAttachedWaitsWithoutError(t *testing.T) {
	reg := NewRegistry(nil)
	job, err := NewJob(reg)
	require.NoError(t, err)

	finished := make(chan string, 1)
	job.OnFinish = func(text string, err error) { finished <- text }

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan Result, 1)
	go func() { results <- job.Run(ctx, &SliceSource{Chunks: []string{"kept"}}) }()

	assert.Equal(t, "kept", <-finished)
	select {
	case <-results:
		t.Fatal("unattached job should block waiting for a consumer")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, reg.Len())

	cancel()
	res := waitResult(t, results)
	assert.True(t, res.Abandoned)
	assert.False(t, res.Attached)
	assert.NoError(t, res.Err)
	assert.Equal(t, "kept", res.Text)
	assert.Equal(t, 0, reg.Len(), "abandoned job must not stay attachable")
}

func TestJob_AttachRacingCancellationIsClosed(t *testing.T) {
	for i := 0; i < 100; i++ {
		reg := NewRegistry(nil)
		job, err := NewJob(reg)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		var rx *Receiver
		// Both the attach and the cancellation are ready before Run
		// starts waiting for a consumer.
		job.OnFinish = func(string, error) {
			cancel()
			var ok bool
			rx, ok = reg.TryAttach(job.Token())
			require.True(t, ok)
		}

		res := job.Run(ctx, &SliceSource{Chunks: []string{"kept"}})
		assert.True(t, res.Attached)
		assert.Equal(t, []string{"kept"}, recvAll(t, rx))
		assert.Equal(t, 0, reg.Len())
	}
}

func TestJob_LiveTee(t *testing.T) {
	reg := NewRegistry(nil)
	job, err := NewJob(reg)
	require.NoError(t, err)
	live := job.Live()

	results := make(chan Result, 1)
	go func() { results <- job.Run(context.Background(), &SliceSource{Chunks: []string{"x", "y", "z"}}) }()

	assert.Equal(t, []string{"x", "y", "z"}, recvAll(t, live))

	// The registered entry is still claimable after the live tee finished.
	rx, ok := reg.TryAttach(job.Token())
	require.True(t, ok)
	assert.Equal(t, []string{"xyz"}, recvAll(t, rx))
	waitResult(t, results)
}

func TestJob_SourceClosed(t *testing.T) {
	reg := NewRegistry(nil)
	src := newChanSource()
	job, _, results := startJob(t, reg, src)
	close(src.in)

	select {
	case <-src.closed:
	case <-time.After(time.Second):
		t.Fatal("source was not closed")
	}
	rx, ok := reg.TryAttach(job.Token())
	require.True(t, ok)
	assert.Empty(t, recvAll(t, rx))
	waitResult(t, results)
}

package stream

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("streamrelay/stream")

// Result describes how a job ended.
type Result struct {
	// Text is everything the source produced, in order.
	Text string
	// Err is the upstream failure, if generation stopped early.
	Err error
	// Attached reports whether a consumer claimed the output.
	Attached bool
	// DeliveryErr is set when the consumer went away mid-stream.
	DeliveryErr error
	// Abandoned is set when ctx ended before the output was delivered.
	Abandoned bool
}

// Job is one background generation whose output can be claimed later, by
// a different connection, through the registry.
type Job struct {
	token  Token
	reg    *Registry
	attach <-chan *Sender
	live   *Sender

	// OnFinish, if set, runs once the source is exhausted or fails, before
	// the job waits for a consumer. It receives the full text.
	OnFinish func(text string, err error)
}

// NewJob allocates a token, registers an attach handle for it and returns
// the job. Run must be called to start producing.
func NewJob(reg *Registry) (*Job, error) {
	token := NewToken()
	handle, attach := NewAttachHandle()
	if err := reg.Register(token, handle); err != nil {
		return nil, err
	}
	return &Job{token: token, reg: reg, attach: attach}, nil
}

// Token returns the job's token.
func (j *Job) Token() Token {
	return j.token
}

// Live returns a receiver that sees every chunk as it is produced,
// independently of any attach. It must be called before Run.
func (j *Job) Live() *Receiver {
	tx, rx := NewChannel()
	j.live = tx
	return rx
}

// Run drives the source to completion and hands its output to whoever
// attaches. Chunks produced before the attach are flushed as a single
// backlog frame, later ones are forwarded as they arrive. If nobody has
// attached when the source ends, Run keeps the buffer and waits for an
// attach until ctx is done.
func (j *Job) Run(ctx context.Context, src Source) Result {
	ctx, span := tracer.Start(ctx, "GenerationJob",
		trace.WithAttributes(attribute.String("job.token", j.token.String())),
	)
	defer span.End()

	log := zap.S().With(
		"job", j.token.String(),
		"trace_id", span.SpanContext().TraceID().String(),
		"span_id", span.SpanContext().SpanID().String(),
	)

	var (
		res   Result
		buf   strings.Builder
		tx    *Sender
		wait  = j.attach
		count int
	)

	forward := func(frame string) {
		if tx == nil || frame == "" {
			return
		}
		if err := tx.Send([]byte(frame)); err != nil {
			log.Infow("consumer detached, dropping further output", "error", err)
			res.DeliveryErr = err
			tx = nil
		}
	}
	attached := func(s *Sender) {
		wait = nil
		tx = s
		res.Attached = true
		log.Debugw("consumer attached", "backlog_bytes", buf.Len(), "chunks", count)
		forward(buf.String())
	}
	abandon := func() Result {
		log.Infow("job abandoned", "error", ctx.Err(), "chunks", count)
		if !res.Attached {
			j.reg.Forget(j.token)
			// An attach that won the race with ctx still gets what exists.
			select {
			case s := <-wait:
				attached(s)
			default:
			}
		}
		if tx != nil {
			tx.Close()
		}
		if j.live != nil {
			j.live.Close()
		}
		res.Text = buf.String()
		res.Abandoned = true
		span.SetStatus(codes.Error, "abandoned")
		return res
	}

	chunks, upstream := pull(ctx, src)

	for chunks != nil {
		// Prefer a pending attach over the next chunk.
		select {
		case s := <-wait:
			attached(s)
		default:
		}

		select {
		case s := <-wait:
			attached(s)
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			count++
			buf.WriteString(c)
			forward(c)
			if j.live != nil {
				// The initiating client may have hung up; that is not a failure.
				_ = j.live.Send([]byte(c))
			}
		case <-ctx.Done():
			return abandon()
		}
	}

	select {
	case err := <-upstream:
		res.Err = err
		span.RecordError(err)
		log.Warnw("upstream generation failed, delivering partial output", "error", err, "chunks", count)
	default:
	}
	res.Text = buf.String()
	span.SetAttributes(attribute.Int("job.chunks", count))

	if j.live != nil {
		j.live.Close()
	}
	if j.OnFinish != nil {
		j.OnFinish(res.Text, res.Err)
	}

	if res.Attached {
		if tx != nil {
			tx.Close()
		}
		return res
	}

	// Nobody attached yet. Keep the buffer for exactly one future attach.
	select {
	case s := <-wait:
		attached(s)
		if tx != nil {
			tx.Close()
		}
		return res
	case <-ctx.Done():
		return abandon()
	}
}

// pull reads src on its own goroutine so that a slow Next never delays
// noticing an attach. The chunk channel closes when the source ends; a
// non-EOF error is reported on the second channel first.
func pull(ctx context.Context, src Source) (<-chan string, <-chan error) {
	chunks := make(chan string)
	upstream := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer src.Close()
		for {
			c, err := src.Next(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					upstream <- err
				}
				return
			}
			select {
			case chunks <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, upstream
}

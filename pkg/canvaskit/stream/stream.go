// Package stream turns a run's event-stream body into a finite sequence of
// answer deltas.
//
// One Stream serves one run. It is lazy, finite and not restartable: after
// the terminal delta or an error, every further Next returns
// ErrStreamClosed. Close aborts a stream early.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/api"
	ckerrors "github.com/randalmurphal/canvaskit/pkg/canvaskit/errors"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/observability"
)

var (
	// ErrStreamClosed is returned by Next once the stream has ended.
	ErrStreamClosed = errors.New("stream closed")

	// ErrNoFrames means the body ended before delivering any frame.
	ErrNoFrames = errors.New("stream ended before any frame")

	// ErrAborted is recorded when Close ends a stream early.
	ErrAborted = errors.New("stream aborted")
)

// Delta is one step of a streamed answer. Answer always holds the full
// content so far, whatever the transport mode.
type Delta struct {
	// MessageID is stable for every delta of one run.
	MessageID string

	// Answer is the accumulated answer text.
	Answer string

	// Reference is the latest citation payload seen, if any.
	Reference json.RawMessage

	// RunningStatus marks a progress frame. Status holds its text and
	// Answer is unchanged.
	RunningStatus bool
	Status        string

	// Done marks the terminal delta.
	Done bool
}

// Opener starts a run and returns its raw event-stream body.
type Opener interface {
	RunCanvas(ctx context.Context, p api.RunParams) (io.ReadCloser, error)
}

// Transport opens streams against an Opener.
type Transport struct {
	opener Opener
	cfg    transportConfig
}

// NewTransport creates a Transport.
func NewTransport(opener Opener, opts ...Option) *Transport {
	cfg := defaultTransportConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Transport{opener: opener, cfg: cfg}
}

// Open starts one run. An empty p.MessageID is filled with a fresh id,
// which every delta then carries. Cancelling ctx aborts the stream.
func (t *Transport) Open(ctx context.Context, p api.RunParams) (*Stream, error) {
	if p.MessageID == "" {
		p.MessageID = uuid.NewString()
	}
	observability.LogRunStart(t.cfg.logger, p.CanvasID, p.Message != "" || len(p.Images) > 0)

	ctx, span := t.cfg.spans.StartStreamSpan(ctx, p.CanvasID)
	body, err := t.opener.RunCanvas(ctx, p)
	if err != nil {
		t.cfg.spans.EndSpanWithError(span, err)
		return nil, err
	}

	s := &Stream{
		cfg:       t.cfg,
		ctx:       ctx,
		span:      span,
		body:      body,
		messageID: p.MessageID,
		frames:    make(chan frame),
		stop:      make(chan struct{}),
		started:   time.Now(),
	}
	go s.pump(newFrameReader(body))
	return s, nil
}

type frame struct {
	data []byte
	err  error
}

type framePayload struct {
	ID            string          `json:"id"`
	Answer        string          `json:"answer"`
	Reference     json.RawMessage `json:"reference"`
	RunningStatus bool            `json:"running_status"`
}

// Stream is one run's answer sequence. Next must not be called
// concurrently; Close may be called from any goroutine.
type Stream struct {
	cfg       transportConfig
	ctx       context.Context
	span      trace.Span
	body      io.ReadCloser
	messageID string
	frames    chan frame
	stop      chan struct{}
	started   time.Time

	answer    string
	reference json.RawMessage
	deltas    atomic.Int32

	ended     atomic.Bool
	closeOnce sync.Once
}

// MessageID returns the id every delta of this stream carries.
func (s *Stream) MessageID() string {
	return s.messageID
}

func (s *Stream) pump(fr *frameReader) {
	defer close(s.frames)
	for {
		data, err := fr.next()
		select {
		case s.frames <- frame{data: data, err: err}:
		case <-s.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// Next blocks for the next delta.
func (s *Stream) Next(ctx context.Context) (Delta, error) {
	if s.ended.Load() {
		return Delta{}, ErrStreamClosed
	}

	var idle <-chan time.Time
	if s.cfg.idle > 0 {
		timer := time.NewTimer(s.cfg.idle)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			s.finish(ctx.Err())
			return Delta{}, ctx.Err()

		case <-s.stop:
			return Delta{}, ErrStreamClosed

		case <-idle:
			err := &ckerrors.TimeoutError{Operation: "answer stream idle", Duration: s.cfg.idle.String()}
			s.finish(err)
			return Delta{}, err

		case f, ok := <-s.frames:
			if !ok {
				return Delta{}, ErrStreamClosed
			}
			d, skip, err := s.handle(f)
			if err != nil {
				s.finish(err)
				return Delta{}, err
			}
			if skip {
				continue
			}
			s.deltas.Add(1)
			if d.Done {
				s.finish(nil)
			}
			return d, nil
		}
	}
}

// handle folds one frame into the accumulated answer.
func (s *Stream) handle(f frame) (Delta, bool, error) {
	if f.err != nil {
		if errors.Is(f.err, io.EOF) {
			if s.deltas.Load() == 0 {
				return Delta{}, false, ckerrors.Transport(ErrNoFrames, "stream")
			}
			return s.done(), false, nil
		}
		return Delta{}, false, ckerrors.Transport(f.err, "stream")
	}

	data := bytes.TrimSpace(f.data)
	switch {
	case len(data) == 0:
		return Delta{}, true, nil
	case string(data) == "true":
		return s.done(), false, nil
	}

	var env api.Response[json.RawMessage]
	if err := json.Unmarshal(data, &env); err != nil {
		return Delta{}, false, ckerrors.Transport(fmt.Errorf("decode frame: %w", err), "stream")
	}
	if err := env.Err("run_canvas"); err != nil {
		return Delta{}, false, err
	}
	switch string(bytes.TrimSpace(env.Data)) {
	case "", "null", "true":
		return s.done(), false, nil
	}

	var p framePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return Delta{}, false, ckerrors.Transport(fmt.Errorf("decode frame data: %w", err), "stream")
	}
	if p.ID != "" {
		s.messageID = p.ID
	}
	if p.RunningStatus {
		return Delta{MessageID: s.messageID, Answer: s.answer, RunningStatus: true, Status: p.Answer}, false, nil
	}

	if s.cfg.mode == Incremental {
		s.answer += p.Answer
	} else {
		s.answer = p.Answer
	}
	if len(p.Reference) > 0 && string(p.Reference) != "null" {
		s.reference = p.Reference
	}
	return Delta{MessageID: s.messageID, Answer: s.answer, Reference: s.reference}, false, nil
}

func (s *Stream) done() Delta {
	return Delta{MessageID: s.messageID, Answer: s.answer, Reference: s.reference, Done: true}
}

// Close aborts the stream and releases the body. It is safe to call after
// the stream has ended.
func (s *Stream) Close() error {
	s.finish(ErrAborted)
	return nil
}

func (s *Stream) finish(err error) {
	s.closeOnce.Do(func() {
		s.ended.Store(true)
		close(s.stop)
		_ = s.body.Close()

		deltas := int(s.deltas.Load())
		s.cfg.metrics.RecordStream(s.ctx, deltas, time.Since(s.started), err)
		s.cfg.spans.EndSpanWithError(s.span, err)
		if err != nil {
			observability.LogStreamError(s.cfg.logger, deltas, err)
			return
		}
		observability.LogStreamComplete(s.cfg.logger, deltas, float64(time.Since(s.started).Milliseconds()))
	})
}

// Collect drains the stream and returns the terminal delta.
func (s *Stream) Collect(ctx context.Context) (Delta, error) {
	for {
		d, err := s.Next(ctx)
		if err != nil {
			return Delta{}, err
		}
		if d.Done {
			return d, nil
		}
	}
}

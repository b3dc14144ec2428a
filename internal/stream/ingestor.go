// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jeranaias/mmchat/internal/logging"
	"github.com/jeranaias/mmchat/internal/model"
)

// StatusCancelled is the processing status after a caller abort.
const StatusCancelled = "cancelled"

// =============================================================================
// POLICIES
// =============================================================================

// CancelPolicy decides what happens to partial content on cancellation.
type CancelPolicy int

const (
	// DiscardPartial drops the partial reply.
	DiscardPartial CancelPolicy = iota
	// CommitPartial finalizes whatever text has accumulated.
	CommitPartial
)

// EndPolicy decides what happens when the body ends without a terminal
// event.
type EndPolicy int

const (
	// CommitOnEOF finalizes the accumulated text.
	CommitOnEOF EndPolicy = iota
	// DiscardOnEOF drops it.
	DiscardOnEOF
)

// ParseCancelPolicy maps a config value ("discard", "commit").
func ParseCancelPolicy(s string) (CancelPolicy, error) {
	switch strings.ToLower(s) {
	case "", "discard":
		return DiscardPartial, nil
	case "commit":
		return CommitPartial, nil
	}
	return DiscardPartial, fmt.Errorf("unknown cancel policy %q", s)
}

// ParseEndPolicy maps a config value ("commit", "discard").
func ParseEndPolicy(s string) (EndPolicy, error) {
	switch strings.ToLower(s) {
	case "", "commit":
		return CommitOnEOF, nil
	case "discard":
		return DiscardOnEOF, nil
	}
	return CommitOnEOF, fmt.Errorf("unknown end policy %q", s)
}

// =============================================================================
// RESULT
// =============================================================================

// Outcome is how an ingestion session ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota // [DONE] or complete
	OutcomeFailed                   // error event or transport failure
	OutcomeCancelled                // context cancelled
	OutcomeExhausted                // body ended without a terminal event
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result summarises a finished session.
type Result struct {
	Outcome Outcome

	// Message is the finalized reply, or nil when nothing was committed.
	// After an error event it carries the error-prefixed content.
	Message *model.Message

	// Recognized is the user speech reported by a voice stream.
	Recognized string

	Events  int
	Skipped int
}

// =============================================================================
// INGESTOR
// =============================================================================

// Handlers observe a session as it progresses. All fields are optional and
// are called from the goroutine running Run.
type Handlers struct {
	OnContent     func(fragment string)
	OnStatus      func(status string)
	OnRecognition func(text string)
	OnAudio       func(chunkID int, audio []byte)
}

// Options configure an Ingestor.
type Options struct {
	CancelPolicy CancelPolicy
	EndPolicy    EndPolicy
	Handlers     Handlers
	Logger       *slog.Logger
}

// Ingestor drives a single streaming message from one response body.
type Ingestor struct {
	opts   Options
	logger *slog.Logger
	used   atomic.Bool

	mu     sync.Mutex
	msg    *model.Message
	status string
}

// NewIngestor creates a single-use ingestion session.
func NewIngestor(opts Options) *Ingestor {
	return &Ingestor{
		opts:   opts,
		logger: logging.OrDefault(opts.Logger),
	}
}

// Status returns the current processing status ("" when idle).
func (in *Ingestor) Status() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// Streaming returns a copy of the live accumulator, or nil once the session
// has terminated.
func (in *Ingestor) Streaming() *model.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.msg.Clone()
}

// Run consumes body until a terminal event, end of stream or cancellation
// of ctx. body is closed on every path; cancellation closes it immediately so
// a blocked read returns.
//
// Errors: *ServerError for an error event, ErrCancelled on cancellation,
// *StreamError for transport failures. A silent end of stream is not an
// error.
func (in *Ingestor) Run(ctx context.Context, body io.ReadCloser) (Result, error) {
	if !in.used.CompareAndSwap(false, true) {
		body.Close()
		return Result{}, ErrAlreadyRun
	}
	defer body.Close()

	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	in.mu.Lock()
	in.msg = model.NewAssistantMessage()
	in.mu.Unlock()

	reader := NewReader(body, in.logger)
	var res Result

	for {
		if ctx.Err() != nil {
			res.Skipped = reader.Skipped()
			return in.cancel(res)
		}

		ev, err := reader.Next()
		if err != nil {
			res.Skipped = reader.Skipped()
			switch {
			case ctx.Err() != nil:
				return in.cancel(res)
			case errors.Is(err, io.EOF):
				return in.exhaust(res), nil
			default:
				return in.fail(res, err)
			}
		}
		res.Events++

		if ev.Terminal() {
			res.Skipped = reader.Skipped()
			return in.terminate(res, ev)
		}
		in.dispatch(ev, &res)
	}
}

// dispatch applies a non-terminal event.
func (in *Ingestor) dispatch(ev Event, res *Result) {
	h := in.opts.Handlers

	switch ev.Type {
	case EventContent, EventAIText:
		fragment := ev.Content
		if ev.Type == EventAIText && ev.Text != "" {
			fragment = ev.Text
		}
		if fragment == "" {
			return
		}
		in.mu.Lock()
		in.msg.AppendContent(fragment)
		in.mu.Unlock()
		if h.OnContent != nil {
			h.OnContent(fragment)
		}

	case EventThinking, EventFileProcessing, EventOCRProcessing, EventStatus:
		in.setStatus(ev.StatusText())

	case EventTTSError:
		in.logger.Warn("STREAM_TTS_ERROR", "message", ev.Message)
		in.setStatus("Speech synthesis failed: " + ev.StatusText())

	case EventRecognition:
		text := ev.Text
		if text == "" {
			text = ev.Content
		}
		res.Recognized = text
		if h.OnRecognition != nil {
			h.OnRecognition(text)
		}

	case EventAudioChunk:
		audio, err := base64.StdEncoding.DecodeString(ev.Audio)
		if err != nil {
			in.logger.Warn("STREAM_BAD_AUDIO", "chunk_id", ev.ChunkID, "error", err)
			return
		}
		if h.OnAudio != nil {
			h.OnAudio(ev.ChunkID, audio)
		}

	default:
		in.logger.Debug("STREAM_UNKNOWN_EVENT", "type", ev.Type)
	}
}

func (in *Ingestor) setStatus(status string) {
	in.mu.Lock()
	in.status = status
	in.mu.Unlock()
	if in.opts.Handlers.OnStatus != nil {
		in.opts.Handlers.OnStatus(status)
	}
}

// detach removes the accumulator from the live slot and sets the status.
func (in *Ingestor) detach(status string) *model.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	msg := in.msg
	in.msg = nil
	in.status = status
	return msg
}

func (in *Ingestor) terminate(res Result, ev Event) (Result, error) {
	msg := in.detach("")

	if ev.Type == EventError {
		reason := ev.Message
		if reason == "" {
			reason = ev.Content
		}
		if reason == "" {
			reason = "unknown error"
		}
		msg.FinalizeWithError(reason)
		res.Outcome = OutcomeFailed
		res.Message = msg
		in.logger.Warn("STREAM_ERROR_EVENT", "message", reason, "events", res.Events)
		return res, &ServerError{Message: reason}
	}

	msg.Finalize()
	res.Outcome = OutcomeCompleted
	res.Message = msg
	in.logger.Debug("STREAM_COMPLETE", "events", res.Events, "chars", len(msg.Content), "skipped", res.Skipped)
	return res, nil
}

func (in *Ingestor) cancel(res Result) (Result, error) {
	msg := in.detach(StatusCancelled)
	res.Outcome = OutcomeCancelled

	if in.opts.CancelPolicy == CommitPartial && msg.StreamedContent() != "" {
		msg.Finalize()
		res.Message = msg
	}
	in.logger.Info("STREAM_CANCELLED", "events", res.Events, "committed", res.Message != nil)
	return res, ErrCancelled
}

func (in *Ingestor) exhaust(res Result) Result {
	msg := in.detach("")
	res.Outcome = OutcomeExhausted

	if in.opts.EndPolicy == CommitOnEOF && msg.StreamedContent() != "" {
		msg.Finalize()
		res.Message = msg
	}
	in.logger.Warn("STREAM_ENDED_WITHOUT_TERMINATOR", "events", res.Events, "committed", res.Message != nil)
	return res
}

func (in *Ingestor) fail(res Result, err error) (Result, error) {
	msg := in.detach("")
	res.Outcome = OutcomeFailed
	in.logger.Warn("STREAM_READ_FAILED", "error", err, "events", res.Events)
	return res, &StreamError{Partial: msg.StreamedContent(), Err: err}
}

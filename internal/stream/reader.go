// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/jeranaias/mmchat/internal/logging"
)

// MaxLineSize bounds a single held-back line. Audio chunks are the largest
// payloads the backend sends.
const MaxLineSize = 8 * 1024 * 1024

// readSize is the chunk size requested from the underlying reader.
const readSize = 4096

const dataPrefix = "data:"

// Reader yields Events from an SSE body. It is lazy, finite and not
// restartable: once Next returns an error every later call returns it too.
type Reader struct {
	src    io.Reader
	lines  *LineBuffer
	queue  []string
	chunk  []byte
	logger *slog.Logger

	err     error
	skipped int
}

// NewReader wraps r. A nil logger uses slog.Default().
func NewReader(r io.Reader, logger *slog.Logger) *Reader {
	return &Reader{
		src:    r,
		lines:  NewLineBuffer(),
		chunk:  make([]byte, readSize),
		logger: logging.OrDefault(logger),
	}
}

// Skipped returns how many malformed payloads were dropped.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Next returns the next event. After a [DONE] payload it returns the
// synthetic EventDone and then io.EOF. io.EOF is also returned when the body
// ends; a final line without a terminator is still processed first.
func (r *Reader) Next() (Event, error) {
	for {
		for len(r.queue) > 0 {
			line := r.queue[0]
			r.queue = r.queue[1:]

			ev, ok := r.parse(line)
			if !ok {
				continue
			}
			if ev.Type == EventDone {
				r.err = io.EOF
				r.queue = nil
			}
			return ev, nil
		}

		// Read errors surface only after every completed line is consumed.
		if r.err != nil {
			return Event{}, r.err
		}
		r.err = r.fill()
	}
}

// fill reads one chunk and queues the lines it completes. At end of stream
// the held-back fragment is queued as well.
func (r *Reader) fill() error {
	n, err := r.src.Read(r.chunk)
	if n > 0 {
		r.queue = append(r.queue, r.lines.Feed(r.chunk[:n])...)
		if r.lines.Pending() > MaxLineSize {
			return ErrLineTooLong
		}
	}
	if errors.Is(err, io.EOF) {
		if tail, ok := r.lines.Flush(); ok {
			r.queue = append(r.queue, tail)
		}
		return io.EOF
	}
	return err
}

// parse decodes one line. ok is false for lines that carry no event.
func (r *Reader) parse(line string) (Event, bool) {
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" {
		return Event{}, false
	}
	if payload == DoneSentinel {
		return Event{Type: EventDone}, true
	}

	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.skipped++
		r.logger.Warn("STREAM_MALFORMED_EVENT", "error", err, "bytes", len(payload))
		return Event{}, false
	}
	if ev.Type == "" {
		r.skipped++
		r.logger.Warn("STREAM_UNTYPED_EVENT", "bytes", len(payload))
		return Event{}, false
	}
	return ev, true
}

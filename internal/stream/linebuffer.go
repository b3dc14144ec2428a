// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// LineBuffer reassembles newline-terminated lines from arbitrary chunks.
//
// Carry-over is kept as raw bytes and only complete lines are decoded, so a
// multi-byte sequence split across chunks is decoded whole. A '\n' byte never
// occurs inside a UTF-8 sequence, which makes the split safe.
type LineBuffer struct {
	pending []byte
	decoder *encoding.Decoder
}

// NewLineBuffer returns an empty buffer.
func NewLineBuffer() *LineBuffer {
	return &LineBuffer{decoder: unicode.UTF8.NewDecoder()}
}

// Feed appends chunk and returns every line it completes, without the
// terminator. The trailing fragment is held back for the next call.
func (b *LineBuffer) Feed(chunk []byte) []string {
	b.pending = append(b.pending, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, b.decode(b.pending[:i]))
		b.pending = b.pending[i+1:]
	}

	// Reclaim the consumed prefix once nothing is held back.
	if len(b.pending) == 0 {
		b.pending = b.pending[:0:0]
	}
	return lines
}

// Flush returns the held-back fragment, if any, and empties the buffer.
func (b *LineBuffer) Flush() (string, bool) {
	if len(b.pending) == 0 {
		return "", false
	}
	line := b.decode(b.pending)
	b.pending = nil
	return line, true
}

// Pending returns the number of held-back bytes.
func (b *LineBuffer) Pending() int {
	return len(b.pending)
}

func (b *LineBuffer) decode(line []byte) string {
	line = bytes.TrimSuffix(line, []byte("\r"))
	out, err := b.decoder.Bytes(line)
	if err != nil {
		// The UTF-8 decoder substitutes U+FFFD and does not fail in practice.
		return string(bytes.ToValidUTF8(line, []byte("�")))
	}
	return string(out)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/jeranaias/mmchat/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, r *Reader) ([]Event, error) {
	t.Helper()
	var events []Event
	for {
		ev, err := r.Next()
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestReader_ParsesEventsAndDone(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"thinking","message":"pondering"}`,
		`event: ignored`,
		`data: {"type":"content","content":"hi"}`,
		``,
		`data: [DONE]`,
		`data: {"type":"content","content":"late"}`,
	}, "\n")

	r := NewReader(strings.NewReader(body), logging.Discard())
	events, err := collect(t, r)

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 3)
	assert.Equal(t, EventThinking, events[0].Type)
	assert.Equal(t, "pondering", events[0].Message)
	assert.Equal(t, "hi", events[1].Content)
	assert.Equal(t, EventDone, events[2].Type)

	// Not restartable.
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_SkipsMalformed(t *testing.T) {
	body := "data: {\"type\":\"content\",\"content\":\"a\"}\n" +
		"data: {not json\n" +
		"data: {\"content\":\"untyped\"}\n" +
		"data: {\"type\":\"content\",\"content\":\"b\"}\n"

	r := NewReader(strings.NewReader(body), logging.Discard())
	events, err := collect(t, r)

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 2)
	assert.Equal(t, 2, r.Skipped())
}

func TestReader_ProcessesUnterminatedTail(t *testing.T) {
	body := `data: {"type":"content","content":"tail"}`

	events, err := collect(t, NewReader(iotest.OneByteReader(strings.NewReader(body)), logging.Discard()))
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 1)
	assert.Equal(t, "tail", events[0].Content)
}

func TestReader_SurfacesReadErrorAfterCompletedLines(t *testing.T) {
	boom := errors.New("connection reset")
	src := io.MultiReader(
		strings.NewReader("data: {\"type\":\"content\",\"content\":\"x\"}\n"),
		iotest.ErrReader(boom),
	)

	events, err := collect(t, NewReader(src, logging.Discard()))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, events, 1)
}

func TestReader_OversizedLine(t *testing.T) {
	src := io.MultiReader(
		strings.NewReader("data: {\"type\":\"content\",\"content\":\"x\"}\n"),
		strings.NewReader(strings.Repeat("y", MaxLineSize+1)),
	)

	events, err := collect(t, NewReader(src, logging.Discard()))
	assert.ErrorIs(t, err, ErrLineTooLong)
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Content)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/jeranaias/mmchat/internal/logging"
	"github.com/jeranaias/mmchat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackingBody records whether Close was called.
type trackingBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackingBody) Close() error {
	b.closed.Store(true)
	return nil
}

func body(s string) *trackingBody {
	return &trackingBody{Reader: strings.NewReader(s)}
}

func newTestIngestor(opts Options) *Ingestor {
	opts.Logger = logging.Discard()
	return NewIngestor(opts)
}

const helloStream = "data: {\"type\":\"content\",\"content\":\"hi\"}\n"

// =============================================================================
// COMPLETION
// =============================================================================

func TestIngestor_ByteByByteMatchesSingleWrite(t *testing.T) {
	whole, err := newTestIngestor(Options{}).Run(context.Background(), body(helloStream+"data: [DONE]\n"))
	require.NoError(t, err)

	split := &trackingBody{Reader: iotest.OneByteReader(strings.NewReader(helloStream + "data: [DONE]\n"))}
	bytewise, err := newTestIngestor(Options{}).Run(context.Background(), split)
	require.NoError(t, err)

	assert.Equal(t, "hi", whole.Message.Content)
	assert.Equal(t, whole.Message.Content, bytewise.Message.Content)
	assert.Equal(t, OutcomeCompleted, bytewise.Outcome)
}

func TestIngestor_MultiByteSplitAcrossReads(t *testing.T) {
	s := "data: {\"type\":\"content\",\"content\":\"日本語 🙂\"}\ndata: [DONE]\n"
	res, err := newTestIngestor(Options{}).Run(context.Background(),
		&trackingBody{Reader: iotest.OneByteReader(strings.NewReader(s))})

	require.NoError(t, err)
	assert.Equal(t, "日本語 🙂", res.Message.Content)
}

func TestIngestor_TerminalIdempotence(t *testing.T) {
	for _, terminator := range []string{"data: [DONE]\n", "data: {\"type\":\"complete\"}\n"} {
		var fragments []string
		ing := newTestIngestor(Options{Handlers: Handlers{
			OnContent: func(s string) { fragments = append(fragments, s) },
		}})
		b := body(helloStream + terminator + "data: {\"type\":\"content\",\"content\":\" more\"}\n")

		res, err := ing.Run(context.Background(), b)
		require.NoError(t, err)

		assert.Equal(t, "hi", res.Message.Content)
		assert.False(t, res.Message.IsStreaming)
		assert.Equal(t, []string{"hi"}, fragments)
		assert.Nil(t, ing.Streaming(), "accumulator must be released")
		assert.True(t, b.closed.Load())

		res.Message.AppendContent("ignored")
		assert.Equal(t, "hi", res.Message.Content)
	}
}

func TestIngestor_MalformedLineTolerated(t *testing.T) {
	s := "data: {\"type\":\"content\",\"content\":\"foo\"}\n" +
		"data: {\"type\":\"content\",\"content\":\n" +
		"data: {\"type\":\"content\",\"content\":\"bar\"}\n" +
		"data: [DONE]\n"

	res, err := newTestIngestor(Options{}).Run(context.Background(), body(s))
	require.NoError(t, err)
	assert.Equal(t, "foobar", res.Message.Content)
	assert.Equal(t, 1, res.Skipped)
}

func TestIngestor_StatusEventsDoNotTouchContent(t *testing.T) {
	var statuses []string
	ing := newTestIngestor(Options{Handlers: Handlers{
		OnStatus: func(s string) { statuses = append(statuses, s) },
	}})
	s := "data: {\"type\":\"file_processing\",\"message\":\"Reading report.pdf\"}\n" +
		"data: {\"type\":\"ocr_processing\"}\n" +
		"data: {\"type\":\"thinking\"}\n" +
		helloStream +
		"data: {\"type\":\"complete\"}\n"

	res, err := ing.Run(context.Background(), body(s))
	require.NoError(t, err)

	assert.Equal(t, "hi", res.Message.Content)
	assert.Equal(t, []string{"Reading report.pdf", "Recognizing text...", "Thinking..."}, statuses)
	assert.Equal(t, "", ing.Status())
}

// =============================================================================
// FAILURE
// =============================================================================

func TestIngestor_ErrorEvent(t *testing.T) {
	s := helloStream +
		"data: {\"type\":\"error\",\"message\":\"model overloaded\"}\n" +
		helloStream

	ing := newTestIngestor(Options{})
	res, err := ing.Run(context.Background(), body(s))

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "model overloaded", serverErr.Message)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.NotNil(t, res.Message)
	assert.Equal(t, model.ErrorPrefix+"model overloaded", res.Message.Content)
	assert.Nil(t, ing.Streaming())
}

func TestIngestor_TransportErrorKeepsPartial(t *testing.T) {
	boom := errors.New("connection reset")
	b := &trackingBody{Reader: io.MultiReader(strings.NewReader(helloStream), iotest.ErrReader(boom))}

	res, err := newTestIngestor(Options{}).Run(context.Background(), b)

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "hi", streamErr.Partial)
	assert.Nil(t, res.Message)
	assert.True(t, b.closed.Load())
}

func TestIngestor_OversizedLineKeepsPartial(t *testing.T) {
	b := body(helloStream + strings.Repeat("y", MaxLineSize+1))

	res, err := newTestIngestor(Options{}).Run(context.Background(), b)

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.ErrorIs(t, err, ErrLineTooLong)
	assert.Equal(t, "hi", streamErr.Partial)
	assert.Nil(t, res.Message)
	assert.True(t, b.closed.Load())
}

func TestIngestor_SingleUse(t *testing.T) {
	ing := newTestIngestor(Options{})
	_, err := ing.Run(context.Background(), body("data: [DONE]\n"))
	require.NoError(t, err)

	b := body("data: [DONE]\n")
	_, err = ing.Run(context.Background(), b)
	assert.ErrorIs(t, err, ErrAlreadyRun)
	assert.True(t, b.closed.Load())
}

// =============================================================================
// END OF STREAM
// =============================================================================

func TestIngestor_SilentEOF(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		res, err := newTestIngestor(Options{EndPolicy: CommitOnEOF}).Run(context.Background(), body(helloStream))
		require.NoError(t, err)
		assert.Equal(t, OutcomeExhausted, res.Outcome)
		require.NotNil(t, res.Message)
		assert.Equal(t, "hi", res.Message.Content)
	})

	t.Run("discard", func(t *testing.T) {
		res, err := newTestIngestor(Options{EndPolicy: DiscardOnEOF}).Run(context.Background(), body(helloStream))
		require.NoError(t, err)
		assert.Equal(t, OutcomeExhausted, res.Outcome)
		assert.Nil(t, res.Message)
	})

	t.Run("empty body commits nothing", func(t *testing.T) {
		res, err := newTestIngestor(Options{}).Run(context.Background(), body(""))
		require.NoError(t, err)
		assert.Nil(t, res.Message)
	})
}

// =============================================================================
// CANCELLATION
// =============================================================================

func runCancelled(t *testing.T, policy CancelPolicy) (*Ingestor, Result, error) {
	t.Helper()
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	got := make(chan struct{}, 1)
	ing := newTestIngestor(Options{
		CancelPolicy: policy,
		Handlers:     Handlers{OnContent: func(string) { got <- struct{}{} }},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type out struct {
		res Result
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := ing.Run(ctx, pr)
		done <- out{res, err}
	}()

	_, err := pw.Write([]byte(helloStream))
	require.NoError(t, err)

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("content never arrived")
	}
	cancel()

	select {
	case o := <-done:
		return ing, o.res, o.err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	return nil, Result{}, nil
}

func TestIngestor_CancelDiscardsPartial(t *testing.T) {
	ing, res, err := runCancelled(t, DiscardPartial)

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsCancellation(err))
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Nil(t, res.Message)
	assert.Equal(t, StatusCancelled, ing.Status())
	assert.Nil(t, ing.Streaming())
}

func TestIngestor_CancelCommitsPartial(t *testing.T) {
	_, res, err := runCancelled(t, CommitPartial)

	assert.ErrorIs(t, err, ErrCancelled)
	require.NotNil(t, res.Message)
	assert.Equal(t, "hi", res.Message.Content)
	assert.False(t, res.Message.IsStreaming)
}

func TestIngestor_AlreadyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := body(helloStream)
	_, err := newTestIngestor(Options{}).Run(ctx, b)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, b.closed.Load())
}

// =============================================================================
// VOICE
// =============================================================================

func TestIngestor_VoiceEvents(t *testing.T) {
	audio := []byte{0x52, 0x49, 0x46, 0x46}
	var (
		recognized string
		chunks     [][]byte
		ids        []int
	)
	ing := newTestIngestor(Options{Handlers: Handlers{
		OnRecognition: func(s string) { recognized = s },
		OnAudio: func(id int, b []byte) {
			ids = append(ids, id)
			chunks = append(chunks, b)
		},
	}})

	s := "data: {\"type\":\"status\",\"message\":\"Listening\"}\n" +
		"data: {\"type\":\"recognition\",\"text\":\"what time is it\"}\n" +
		"data: {\"type\":\"ai_text\",\"text\":\"It is \"}\n" +
		"data: {\"type\":\"audio_chunk\",\"chunk_id\":1,\"audio\":\"" + base64.StdEncoding.EncodeToString(audio) + "\"}\n" +
		"data: {\"type\":\"audio_chunk\",\"chunk_id\":2,\"audio\":\"!!notbase64\"}\n" +
		"data: {\"type\":\"tts_error\",\"message\":\"engine offline\"}\n" +
		"data: {\"type\":\"ai_text\",\"text\":\"noon.\"}\n" +
		"data: {\"type\":\"complete\"}\n"

	res, err := ing.Run(context.Background(), body(s))
	require.NoError(t, err)

	assert.Equal(t, "what time is it", recognized)
	assert.Equal(t, "what time is it", res.Recognized)
	assert.Equal(t, "It is noon.", res.Message.Content)
	assert.Equal(t, []int{1}, ids)
	assert.Equal(t, [][]byte{audio}, chunks)
}

func TestParsePolicies(t *testing.T) {
	p, err := ParseCancelPolicy("commit")
	require.NoError(t, err)
	assert.Equal(t, CommitPartial, p)

	e, err := ParseEndPolicy("discard")
	require.NoError(t, err)
	assert.Equal(t, DiscardOnEOF, e)

	_, err = ParseCancelPolicy("maybe")
	assert.Error(t, err)
	_, err = ParseEndPolicy("maybe")
	assert.Error(t, err)
}

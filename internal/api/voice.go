// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"io"
	"net/http"
)

const voicePath = "/api/voice"

// VoiceOptions tune a speech-to-chat request.
type VoiceOptions struct {
	SessionID string
	// TTS asks the backend to stream synthesized audio chunks.
	TTS   bool
	Voice string
}

// EngineStatus reports which voice engines the backend has loaded.
type EngineStatus struct {
	ASR       bool   `json:"asr_ready"`
	TTS       bool   `json:"tts_ready"`
	LLM       bool   `json:"llm_ready"`
	ASRModel  string `json:"asr_model,omitempty"`
	TTSEngine string `json:"tts_engine,omitempty"`
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// SpeechToChat uploads recorded audio and opens the voice event stream.
// The stream carries recognition, ai_text, audio_chunk and complete events.
func (c *Client) SpeechToChat(ctx context.Context, filename string, audio io.Reader, opts VoiceOptions) (io.ReadCloser, error) {
	fields := map[string]string{}
	if opts.SessionID != "" {
		fields["session_id"] = opts.SessionID
	}
	if opts.TTS {
		fields["tts"] = "true"
	}
	if opts.Voice != "" {
		fields["voice"] = opts.Voice
	}
	body, contentType, err := multipartBody("audio", filename, audio, fields)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, voicePath+"/speech-to-chat/stream", nil, body, contentType)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Audio-Type", audioContentType(filename))
	return c.openStream(req)
}

// Synthesize converts text to audio and returns the encoded bytes.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	var audio []byte
	if err := c.do(ctx, http.MethodPost, voicePath+"/tts", nil, ttsRequest{Text: text, Voice: voice}, &audio); err != nil {
		return nil, err
	}
	return audio, nil
}

// EngineStatus reports voice engine readiness.
func (c *Client) EngineStatus(ctx context.Context) (*EngineStatus, error) {
	var st EngineStatus
	if err := c.do(ctx, http.MethodGet, voicePath+"/engines/status", nil, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ClearVoiceHistory drops the backend's voice conversation context.
func (c *Client) ClearVoiceHistory(ctx context.Context, sessionID string) error {
	body := map[string]string{}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	return c.do(ctx, http.MethodPost, voicePath+"/clear-history", nil, body, nil)
}

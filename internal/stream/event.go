// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

// EventType discriminates streamed events.
type EventType string

// Event types sent by the chat and voice endpoints.
const (
	EventFileProcessing EventType = "file_processing"
	EventOCRProcessing  EventType = "ocr_processing"
	EventThinking       EventType = "thinking"
	EventContent        EventType = "content"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"

	// Voice chat.
	EventStatus      EventType = "status"
	EventRecognition EventType = "recognition"
	EventAIText      EventType = "ai_text"
	EventAudioChunk  EventType = "audio_chunk"
	EventTTSError    EventType = "tts_error"

	// EventDone is synthesised for the literal [DONE] payload.
	EventDone EventType = "[DONE]"
)

// DoneSentinel is the payload that terminates a stream.
const DoneSentinel = "[DONE]"

// Event is one decoded "data: " payload. Only the fields relevant to Type
// are populated.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	Content string    `json:"content,omitempty"`
	Audio   string    `json:"audio,omitempty"` // base64
	ChunkID int       `json:"chunk_id,omitempty"`
	Text    string    `json:"text,omitempty"`
}

// Terminal reports whether the event ends ingestion.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventDone, EventComplete, EventError:
		return true
	}
	return false
}

// defaultStatus is shown for processing events that carry no message.
var defaultStatus = map[EventType]string{
	EventFileProcessing: "Processing file...",
	EventOCRProcessing:  "Recognizing text...",
	EventThinking:       "Thinking...",
}

// StatusText returns the processing status an event reports.
func (e Event) StatusText() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Content != "" && e.Type != EventContent {
		return e.Content
	}
	return defaultStatus[e.Type]
}

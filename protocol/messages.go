package protocol

import (
	"encoding/json"

	"voicechat/core"
)

// MessageType enumerates all front-end message types.
type MessageType string

const (
	// UI -> Engine
	MsgLoad           MessageType = "load"
	MsgSubmit         MessageType = "submit"
	MsgClear          MessageType = "clear"
	MsgSetDocument    MessageType = "set_document"
	MsgUploadDocument MessageType = "upload_document"

	// Engine -> UI
	MsgSession MessageType = "session"
	MsgChunk   MessageType = "chunk"
	MsgResult  MessageType = "result"
	MsgError   MessageType = "error"
	MsgEvent   MessageType = "event"
	MsgLog     MessageType = "log"

	// Both directions: a request for the transcript and its reply.
	MsgTranscript MessageType = "transcript"
)

// Envelope is the outer JSON wrapper for all WebSocket messages.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- UI -> Engine payloads ---

// SubmitPayload carries one user turn.
type SubmitPayload struct {
	Text string `json:"text"`
}

// SetDocumentPayload replaces the document context with already extracted
// text. An empty text clears it.
type SetDocumentPayload struct {
	Text string `json:"text"`
}

// UploadDocumentPayload carries a raw file; Data is base64 on the wire.
type UploadDocumentPayload struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

// --- Engine -> UI payloads ---

// SessionPayload describes the session after load, clear or a document change.
type SessionPayload struct {
	Model          string      `json:"model"`
	Transcript     []core.Turn `json:"transcript"`
	HasDocument    bool        `json:"has_document"`
	DocumentLength int         `json:"document_length"`
}

// ChunkPayload is one streamed fragment of the reply in progress.
type ChunkPayload struct {
	Text string `json:"text"`
}

// ResultPayload is the completed turn.
type ResultPayload struct {
	Text      string `json:"text"`
	AudioPath string `json:"audio_path,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
	// DurationMs is zero when there is no audio.
	DurationMs int64 `json:"duration_ms,omitempty"`
	// SaveError is set when the reply stands but storing the transcript failed.
	SaveError *ErrorPayload `json:"save_error,omitempty"`
}

// ErrorPayload reports a failed request. Kind is one of the Kind* constants.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// EventPayload carries an engine event for external consumers.
type EventPayload struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"ts"`
}

// TranscriptPayload is the full transcript, oldest first.
type TranscriptPayload struct {
	Turns []core.Turn `json:"turns"`
}

// LogPayload is a forwarded log line.
type LogPayload struct {
	Entry core.LogEntry `json:"entry"`
}

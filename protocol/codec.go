package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"voicechat/core"
)

const (
	KindEmptyInput  = "empty_input"
	KindModelCall   = "model_call"
	KindSynthesis   = "synthesis"
	KindPersistence = "persistence"
	KindDocument    = "document"
	KindBadRequest  = "bad_request"
	KindInternal    = "internal"
)

// Marshal creates a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType MessageType, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal payload for %q: %w", msgType, err)
		}
		raw = b
	}
	return sonic.Marshal(Envelope{
		Type:    msgType,
		Payload: raw,
	})
}

// Unmarshal parses a JSON-encoded Envelope, returning the message type and raw payload.
func Unmarshal(data []byte) (MessageType, json.RawMessage, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("protocol: envelope missing type field")
	}
	return env.Type, env.Payload, nil
}

// UnmarshalPayload decodes a raw JSON payload into a typed struct. A missing
// payload yields the zero value.
func UnmarshalPayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("protocol: unmarshal payload: %w", err)
	}
	return v, nil
}

// ErrorKind classifies err for the UI.
func ErrorKind(err error) string {
	var (
		emptyErr   *core.EmptyInputError
		modelErr   *core.ModelCallError
		synthErr   *core.SynthesisError
		persistErr *core.PersistenceError
	)
	switch {
	case errors.As(err, &emptyErr):
		return KindEmptyInput
	case errors.As(err, &modelErr):
		return KindModelCall
	case errors.As(err, &synthErr):
		return KindSynthesis
	case errors.As(err, &persistErr):
		return KindPersistence
	default:
		return KindInternal
	}
}

// NewErrorPayload builds the error reply for err.
func NewErrorPayload(err error) ErrorPayload {
	return ErrorPayload{Kind: ErrorKind(err), Message: err.Error()}
}

// Err turns an error reply back into the engine's error types so that
// remote callers can match them with errors.As like local ones.
func (p ErrorPayload) Err() error {
	cause := errors.New(p.Message)
	switch p.Kind {
	case KindEmptyInput:
		return &core.EmptyInputError{}
	case KindModelCall:
		return &core.ModelCallError{Err: cause}
	case KindSynthesis:
		return &core.SynthesisError{Err: cause}
	case KindPersistence:
		return &core.PersistenceError{Op: "put", Key: core.HistoryKey, Err: cause}
	default:
		return fmt.Errorf("%s: %s", p.Kind, p.Message)
	}
}

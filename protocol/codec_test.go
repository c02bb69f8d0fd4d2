package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicechat/core"
)

func TestMarshalUnmarshal_Envelope(t *testing.T) {
	data, err := Marshal(MsgSubmit, SubmitPayload{Text: "नमस्ते"})
	require.NoError(t, err)

	msgType, raw, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, MsgSubmit, msgType)

	payload, err := UnmarshalPayload[SubmitPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "नमस्ते", payload.Text)
}

func TestMarshal_NilPayloadOmitted(t *testing.T) {
	data, err := Marshal(MsgLoad, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"load"}`, string(data))
}

func TestUnmarshal_RejectsMissingType(t *testing.T) {
	_, _, err := Unmarshal([]byte(`{"payload":{}}`))
	assert.Error(t, err)

	_, _, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}

func TestUnmarshalPayload_EmptyIsZero(t *testing.T) {
	p, err := UnmarshalPayload[SubmitPayload](nil)
	require.NoError(t, err)
	assert.Empty(t, p.Text)
}

func TestUploadDocument_DataIsBase64(t *testing.T) {
	_, raw, err := Unmarshal([]byte(`{"type":"upload_document","payload":{"filename":"a.txt","data":"aGVsbG8="}}`))
	require.NoError(t, err)

	p, err := UnmarshalPayload[UploadDocumentPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", p.Filename)
	assert.Equal(t, []byte("hello"), p.Data)
}

func TestErrorKind(t *testing.T) {
	cases := map[string]error{
		KindEmptyInput:  &core.EmptyInputError{},
		KindModelCall:   &core.ModelCallError{ModelID: "m", Err: errors.New("x")},
		KindSynthesis:   &core.SynthesisError{Language: "hi", Err: errors.New("x")},
		KindPersistence: &core.PersistenceError{Op: "put", Key: "messages", Err: errors.New("x")},
		KindInternal:    errors.New("other"),
	}
	for kind, err := range cases {
		assert.Equal(t, kind, ErrorKind(err), kind)
	}

	p := NewErrorPayload(&core.EmptyInputError{})
	assert.Equal(t, KindEmptyInput, p.Kind)
	assert.NotEmpty(t, p.Message)
}

func TestErrorPayload_ErrRestoresEngineTypes(t *testing.T) {
	var emptyErr *core.EmptyInputError
	assert.ErrorAs(t, ErrorPayload{Kind: KindEmptyInput}.Err(), &emptyErr)

	var modelErr *core.ModelCallError
	require.ErrorAs(t, ErrorPayload{Kind: KindModelCall, Message: "timeout"}.Err(), &modelErr)
	assert.EqualError(t, modelErr.Err, "timeout")

	var persistErr *core.PersistenceError
	require.ErrorAs(t, NewErrorPayload(&core.PersistenceError{Op: "put", Key: "messages", Err: errors.New("disk full")}).Err(), &persistErr)
	assert.Contains(t, persistErr.Err.Error(), "disk full")

	err := ErrorPayload{Kind: KindBadRequest, Message: "unknown message type"}.Err()
	assert.EqualError(t, err, "bad_request: unknown message type")
}

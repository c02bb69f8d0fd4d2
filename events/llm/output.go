package llm

import "voicechat/core"

// LLMGenerateResponseEvent is emitted right before the model is called with
// the assembled payload.
type LLMGenerateResponseEvent struct {
	ModelID      string      `json:"model_id"`
	Messages     []core.Turn `json:"messages"`
	WithDocument bool        `json:"with_document"`
}

func (*LLMGenerateResponseEvent) GetId() string {
	return "llm.generate_response"
}

type LLMResponseChunkEvent struct {
	Chunk string `json:"chunk"` // A chunk of the LLM response text.
}

func (e *LLMResponseChunkEvent) GetId() string {
	return "llm.response_chunk"
}

type LLMResponseCompletedEvent struct {
	FullText string `json:"full_text"` // The complete LLM response text.
}

func (e *LLMResponseCompletedEvent) GetId() string {
	return "llm.response_completed"
}

// LLMResponseFailedEvent carries whatever text arrived before the failure.
type LLMResponseFailedEvent struct {
	PartialText string `json:"partial_text"`
	Error       string `json:"error"`
}

func (e *LLMResponseFailedEvent) GetId() string {
	return "llm.response_failed"
}

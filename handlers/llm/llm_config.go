package llm

type LLMHandlerConfig struct {
	NotifyEmptyChunks bool `json:"notify_empty_chunks"` // Pass empty fragments to the chunk callback too. They never change the final text.
}

// DefaultConfig returns an LLMHandlerConfig with sensible defaults.
func DefaultConfig() LLMHandlerConfig {
	return LLMHandlerConfig{}
}

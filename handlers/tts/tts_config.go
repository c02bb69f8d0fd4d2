package tts

type TTSConfig struct {
	Enabled       bool   `json:"enabled"`        // Synthesize every assistant reply.
	Language      string `json:"language"`       // Language code passed to the provider, fixed for the process.
	NormalizeText bool   `json:"normalize_text"` // Strip markdown and emoji before speaking.
}

// DefaultConfig returns a TTSConfig with sensible defaults.
func DefaultConfig() TTSConfig {
	return TTSConfig{
		Enabled:       true,
		Language:      "hi",
		NormalizeText: true,
	}
}

package session

import "voicechat/core"

// SessionConfig holds the engine-level settings that are fixed for a process.
type SessionConfig struct {
	ModelID    string `json:"model"`       // Model identifier passed to the model service.
	HistoryKey string `json:"history_key"` // Key the transcript is stored under.
}

// DefaultConfig returns a SessionConfig with sensible defaults.
func DefaultConfig() SessionConfig {
	return SessionConfig{
		ModelID:    core.DefaultModelID,
		HistoryKey: core.HistoryKey,
	}
}

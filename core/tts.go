package core

import (
	"context"
	"time"
)

// DefaultLanguageCode is the synthesis language used when settings leave it empty.
const DefaultLanguageCode = "hi"

// AudioHandle locates a playable audio artifact produced by speech synthesis.
type AudioHandle struct {
	Path      string        `json:"path"`       // Location of the artifact on disk.
	MimeType  string        `json:"mime_type"`  // e.g. "audio/wav".
	Language  string        `json:"language"`   // Language the text was spoken in.
	Duration  time.Duration `json:"duration"`   // Playback length, zero when unknown.
	SizeBytes int           `json:"size_bytes"` // Size of the artifact.
	Provider  string        `json:"provider"`   // Synthesis provider that produced it.
}

// Synthesizer turns final text into a playable audio artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, languageCode string) (AudioHandle, error)
}

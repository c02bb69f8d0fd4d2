package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"voicechat/core"
)

// ArtifactWriter stores synthesized speech as WAV files under one directory.
type ArtifactWriter struct {
	dir string
}

func NewArtifactWriter(dir string) *ArtifactWriter {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "voicechat-audio")
	}
	return &ArtifactWriter{dir: dir}
}

func (w *ArtifactWriter) Dir() string {
	return w.dir
}

// Write decodes chunk to PCM, wraps it in a WAV container and writes it under
// a fresh name. The file appears atomically.
func (w *ArtifactWriter) Write(chunk core.AudioChunk, language, provider string) (core.AudioHandle, error) {
	if len(chunk.Data) == 0 {
		return core.AudioHandle{}, errors.New("no audio received")
	}
	pcm, err := ToPCM(chunk)
	if err != nil {
		return core.AudioHandle{}, err
	}
	channels := chunk.Channels
	if channels <= 0 {
		channels = 1
	}
	wav, err := EncodeWAV(pcm, channels, chunk.SampleRate)
	if err != nil {
		return core.AudioHandle{}, fmt.Errorf("failed to encode WAV: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return core.AudioHandle{}, fmt.Errorf("failed to create audio dir: %w", err)
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.wav", provider, uuid.NewString()))

	tmp, err := os.CreateTemp(w.dir, ".audio-*.tmp")
	if err != nil {
		return core.AudioHandle{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(wav); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return core.AudioHandle{}, fmt.Errorf("failed to write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return core.AudioHandle{}, fmt.Errorf("failed to close audio file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return core.AudioHandle{}, fmt.Errorf("failed to publish audio file: %w", err)
	}

	pcmChunk := core.AudioChunk{Data: pcm, SampleRate: chunk.SampleRate, Channels: channels, Format: core.PCM}
	return core.AudioHandle{
		Path:      path,
		MimeType:  "audio/wav",
		Language:  language,
		Duration:  pcmChunk.Duration(),
		SizeBytes: len(wav),
		Provider:  provider,
	}, nil
}

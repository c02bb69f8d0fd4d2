package tts

import (
	"context"
	"errors"
	"fmt"

	"voicechat/core"
)

// ErrNothingToSpeak is returned when the text is empty after normalization.
var ErrNothingToSpeak = errors.New("tts: nothing to speak")

// ErrDisabled is returned when speech output is switched off in settings.
var ErrDisabled = errors.New("tts: speech output disabled")

// Speaker prepares final text for speech and asks the configured provider to
// synthesize it in the fixed language.
type Speaker struct {
	Service core.Synthesizer
	config  TTSConfig
	logger  *core.Logger
}

func NewSpeaker(service core.Synthesizer, config TTSConfig, logger *core.Logger) *Speaker {
	if config.Language == "" {
		config.Language = core.DefaultLanguageCode
	}
	return &Speaker{
		Service: service,
		config:  config,
		logger:  logger.OrDefault().With(map[string]any{"component": "tts"}),
	}
}

// Language returns the language code every reply is spoken in.
func (s *Speaker) Language() string {
	return s.config.Language
}

// Speak synthesizes text. Provider failures are wrapped in *core.SynthesisError.
func (s *Speaker) Speak(ctx context.Context, text string) (core.AudioHandle, error) {
	if !s.config.Enabled || s.Service == nil {
		return core.AudioHandle{}, ErrDisabled
	}
	if s.config.NormalizeText {
		text = normalizeTextForTTS(text)
	}
	if core.IsBlank(text) {
		return core.AudioHandle{}, ErrNothingToSpeak
	}

	handle, err := s.Service.Synthesize(ctx, text, s.config.Language)
	if err != nil {
		return core.AudioHandle{}, &core.SynthesisError{Language: s.config.Language, Err: err}
	}
	if handle.Path == "" {
		return core.AudioHandle{}, &core.SynthesisError{
			Language: s.config.Language,
			Err:      fmt.Errorf("provider returned no audio location"),
		}
	}
	if handle.Language == "" {
		handle.Language = s.config.Language
	}
	s.logger.Debug("speech synthesized", "path", handle.Path, "bytes", handle.SizeBytes)
	return handle, nil
}

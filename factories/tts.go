package factories

import (
	"errors"

	"voicechat/core"
	cartesia "voicechat/services/cartesia/tts"
	deepgramtts "voicechat/services/deepgram/tts"
	elevenlabs "voicechat/services/elevenlabs/tts"
	"voicechat/utils/audio"
)

// TTSFactoryConfig holds provider-specific configs for synthesizer construction.
// Set exactly one provider config; the rest should be left nil. Leaving all of
// them nil turns speech output off.
type TTSFactoryConfig struct {
	DeepgramConfig   *deepgramtts.DepgramTTSConfig   `json:"deepgram,omitempty"`
	ElevenLabsConfig *elevenlabs.ElevenLabsTTSConfig `json:"elevenlabs,omitempty"`
	CartesiaConfig   *cartesia.CartesiaTTSConfig     `json:"cartesia,omitempty"`
}

// Synthesizer is a core.Synthesizer that holds provider connections.
type Synthesizer interface {
	core.Synthesizer
	Cleanup() error
}

// IsEmpty reports whether no provider is configured.
func (c TTSFactoryConfig) IsEmpty() bool {
	return c.DeepgramConfig == nil && c.ElevenLabsConfig == nil && c.CartesiaConfig == nil
}

func (c TTSFactoryConfig) count() int {
	n := 0
	if c.DeepgramConfig != nil {
		n++
	}
	if c.ElevenLabsConfig != nil {
		n++
	}
	if c.CartesiaConfig != nil {
		n++
	}
	return n
}

// BuildTTSService constructs a synthesizer that writes its artifacts through writer.
// Exactly one provider config must be non-nil.
func BuildTTSService(config TTSFactoryConfig, writer *audio.ArtifactWriter, logger *core.Logger) (Synthesizer, error) {
	if config.count() > 1 {
		return nil, errors.New("TTSFactoryConfig: more than one provider config specified")
	}
	var (
		service Synthesizer
		err     error
	)
	switch {
	case config.DeepgramConfig != nil:
		service, err = deepgramtts.NewDepgramTTS(*config.DeepgramConfig, writer, logger)
	case config.ElevenLabsConfig != nil:
		service, err = elevenlabs.NewElevenLabsTTS(*config.ElevenLabsConfig, writer, logger)
	case config.CartesiaConfig != nil:
		service, err = cartesia.NewCartesiaTTS(*config.CartesiaConfig, writer, logger)
	default:
		return nil, errors.New("TTSFactoryConfig: no provider config specified")
	}
	if err != nil {
		return nil, err
	}
	return service, nil
}

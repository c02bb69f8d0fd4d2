package factories

import (
	"context"
	"errors"
	"fmt"

	"voicechat/core"
	contexthandler "voicechat/handlers/context"
	llmhandler "voicechat/handlers/llm"
	"voicechat/handlers/session"
	ttshandler "voicechat/handlers/tts"
	"voicechat/services/document/extract"
	openaillm "voicechat/services/openai/llm"
	"voicechat/utils/audio"
)

// Session holds a ready engine and the services behind it.
type Session struct {
	Engine    *session.Engine
	Model     *openaillm.OpenAILLMService
	Speech    Synthesizer // nil when no TTS provider is configured.
	Extractor *extract.Extractor
	Audio     *audio.ArtifactWriter

	closeStore func() error
}

// BuildSession constructs every collaborator the settings select and wires
// them into a session engine. listener may be nil. The engine starts empty;
// call LoadSession on it to pick up the stored transcript.
func (c SettingsConfig) BuildSession(ctx context.Context, listener core.EventListener, logger *core.Logger) (*Session, error) {
	logger = logger.OrDefault()

	store, closeStore, err := BuildHistoryStore(ctx, c.History, logger)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}

	model, err := BuildLLMService(ctx, c.LLM, logger)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("llm service: %w", err)
	}

	s := &Session{
		Model:      model,
		Extractor:  extract.NewExtractor(c.Document, logger),
		Audio:      audio.NewArtifactWriter(c.Audio.Dir),
		closeStore: closeStore,
	}

	var speaker *ttshandler.Speaker
	if !c.TTS.ServiceConfig.IsEmpty() && c.TTS.HandlerConfig.Enabled {
		speech, err := BuildTTSService(c.TTS.ServiceConfig, s.Audio, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("tts service: %w", err)
		}
		s.Speech = speech
		ttsConfig := c.TTS.HandlerConfig
		if c.Language != "" {
			ttsConfig.Language = c.Language
		}
		speaker = ttshandler.NewSpeaker(speech, ttsConfig, logger)
	} else {
		logger.Info("speech output disabled, replies are text only")
	}

	engineConfig := session.DefaultConfig()
	engineConfig.ModelID = c.ModelID()

	s.Engine, err = session.NewEngine(session.Options{
		Config:     engineConfig,
		Model:      model,
		Store:      store,
		Assembler:  contexthandler.NewAssembler(c.Context),
		Aggregator: llmhandler.NewAggregator(c.Stream),
		Speaker:    speaker,
		Listener:   listener,
		Logger:     logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	logger.Info("session built",
		"model", engineConfig.ModelID,
		"provider", c.LLM.ProviderName(),
		"speech", s.Speech != nil,
	)
	return s, nil
}

// Close releases provider connections and the history store.
func (s *Session) Close() error {
	var errs []error
	if s.Speech != nil {
		errs = append(errs, s.Speech.Cleanup())
	}
	if s.Model != nil {
		errs = append(errs, s.Model.Cleanup())
	}
	if s.closeStore != nil {
		errs = append(errs, s.closeStore())
	}
	return errors.Join(errs...)
}

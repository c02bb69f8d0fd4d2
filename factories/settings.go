package factories

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bytedance/sonic"

	"voicechat/core"
	contexthandler "voicechat/handlers/context"
	llmhandler "voicechat/handlers/llm"
	ttshandler "voicechat/handlers/tts"
	"voicechat/services/document/extract"
	"voicechat/transports/websocket"
)

// SessionTTSConfig bundles speaker behaviour with the provider selection.
type SessionTTSConfig struct {
	// HandlerConfig controls normalization and whether replies are spoken at all.
	HandlerConfig ttshandler.TTSConfig `json:"handler"`
	// ServiceConfig selects and configures the provider. Leave it empty for text-only replies.
	ServiceConfig TTSFactoryConfig `json:"service"`
}

// DefaultSessionTTSConfig returns a SessionTTSConfig with sensible handler defaults
// and no provider.
func DefaultSessionTTSConfig() SessionTTSConfig {
	return SessionTTSConfig{HandlerConfig: ttshandler.DefaultConfig()}
}

// AudioConfig says where synthesized replies are written.
type AudioConfig struct {
	Dir string `json:"dir"` // Empty means a directory under the OS temp dir.
}

// SettingsConfig is the top-level config loaded from settings.json.
type SettingsConfig struct {
	// Model is the model id sent with every request. Empty picks the provider's default.
	Model string `json:"model"`
	// Language is the code every reply is spoken in.
	Language string `json:"language"`

	History  HistoryFactoryConfig         `json:"history"`
	LLM      LLMFactoryConfig             `json:"llm"`
	Stream   llmhandler.LLMHandlerConfig  `json:"stream"`
	Context  contexthandler.ContextConfig `json:"context"`
	TTS      SessionTTSConfig             `json:"tts"`
	Audio    AudioConfig                  `json:"audio"`
	Document extract.Config               `json:"document"`
	Server   websocket.ServerConfig       `json:"server"`

	// LogDir, when set, receives a JSON-lines copy of every log entry.
	LogDir string `json:"log_dir,omitempty"`
}

// DefaultSettingsConfig returns a SettingsConfig pre-filled with provider defaults.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		Language: core.DefaultLanguageCode,
		History:  DefaultHistoryFactoryConfig(),
		LLM:      DefaultLLMFactoryConfig(),
		Stream:   llmhandler.DefaultConfig(),
		Context:  contexthandler.DefaultContextConfig(),
		TTS:      DefaultSessionTTSConfig(),
		Document: extract.DefaultConfig(),
		Server:   websocket.DefaultServerConfig(),
	}
}

// SettingsConfigFromJSON parses a JSON blob into a SettingsConfig, starting
// from DefaultSettingsConfig so that absent fields keep their defaults.
// Provider selections ("history", "llm", "tts.service") replace the default
// selection instead of merging with it, so naming one provider never leaves a
// second default provider configured.
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	var raw struct {
		History json.RawMessage `json:"history,omitempty"`
		LLM     json.RawMessage `json:"llm,omitempty"`
		TTS     struct {
			Service json.RawMessage `json:"service,omitempty"`
		} `json:"tts"`
	}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}

	cfg := DefaultSettingsConfig()
	if len(raw.History) > 0 {
		cfg.History = HistoryFactoryConfig{}
	}
	if len(raw.LLM) > 0 {
		cfg.LLM = LLMFactoryConfig{}
	}
	if len(raw.TTS.Service) > 0 {
		cfg.TTS.ServiceConfig = TTSFactoryConfig{}
	}
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}
	if cfg.Language == "" {
		cfg.Language = core.DefaultLanguageCode
	}
	return cfg, nil
}

// SettingsConfigFromFile reads and parses a SettingsConfig from a JSON file.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettingsConfig(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsConfigFromJSON(data)
}

// ModelID is the model every turn is sent to.
func (c SettingsConfig) ModelID() string {
	if c.Model != "" {
		return c.Model
	}
	return c.LLM.DefaultModel()
}

// APIKeys holds API credentials for all supported service providers.
// Pass to SettingsConfig.InjectAPIKeys after loading from JSON so that
// secrets are never stored in config files.
type APIKeys struct {
	OpenAI     string // Used for OpenAI LLM provider.
	Together   string // Used for Together AI LLM provider.
	Groq       string // Used for Groq LLM provider.
	DeepSeek   string // Used for DeepSeek LLM provider.
	OpenRouter string // Used for OpenRouter LLM provider.
	Fireworks  string // Used for Fireworks AI LLM provider.
	Cerebras   string // Used for Cerebras LLM provider.
	XAI        string // Used for xAI (Grok) LLM provider.
	Mistral    string // Used for Mistral AI LLM provider.
	Perplexity string // Used for Perplexity LLM provider.
	Deepgram   string // Used for Deepgram TTS provider.
	ElevenLabs string // Used for ElevenLabs TTS provider.
	Cartesia   string // Used for Cartesia TTS provider.
	HistoryDSN string // Used for the SQL history store when settings carry no dsn.
}

// InjectAPIKeys applies credentials to the configured providers. Values
// already present in settings win.
func (c *SettingsConfig) InjectAPIKeys(keys APIKeys) {
	injectLLMKeys(&c.LLM, keys)
	injectTTSKeys(&c.TTS.ServiceConfig, keys)
	if c.History.SQLConfig != nil && c.History.SQLConfig.DSN == "" {
		c.History.SQLConfig.DSN = keys.HistoryDSN
	}
}

// injectLLMKeys applies the relevant API key to a single LLMFactoryConfig.
func injectLLMKeys(cfg *LLMFactoryConfig, keys APIKeys) {
	if cfg.OpenAIConfig != nil && cfg.OpenAIConfig.APIKey == "" {
		cfg.OpenAIConfig.APIKey = keys.OpenAI
	}
	if cfg.TogetherConfig != nil && cfg.TogetherConfig.APIKey == "" {
		cfg.TogetherConfig.APIKey = keys.Together
	}
	if cfg.GroqConfig != nil && cfg.GroqConfig.APIKey == "" {
		cfg.GroqConfig.APIKey = keys.Groq
	}
	if cfg.DeepSeekConfig != nil && cfg.DeepSeekConfig.APIKey == "" {
		cfg.DeepSeekConfig.APIKey = keys.DeepSeek
	}
	if cfg.OpenRouterConfig != nil && cfg.OpenRouterConfig.APIKey == "" {
		cfg.OpenRouterConfig.APIKey = keys.OpenRouter
	}
	if cfg.FireworksConfig != nil && cfg.FireworksConfig.APIKey == "" {
		cfg.FireworksConfig.APIKey = keys.Fireworks
	}
	if cfg.CerebrasConfig != nil && cfg.CerebrasConfig.APIKey == "" {
		cfg.CerebrasConfig.APIKey = keys.Cerebras
	}
	if cfg.XAIConfig != nil && cfg.XAIConfig.APIKey == "" {
		cfg.XAIConfig.APIKey = keys.XAI
	}
	if cfg.MistralConfig != nil && cfg.MistralConfig.APIKey == "" {
		cfg.MistralConfig.APIKey = keys.Mistral
	}
	if cfg.PerplexityConfig != nil && cfg.PerplexityConfig.APIKey == "" {
		cfg.PerplexityConfig.APIKey = keys.Perplexity
	}
}

// injectTTSKeys applies the relevant API key to a single TTSFactoryConfig.
func injectTTSKeys(cfg *TTSFactoryConfig, keys APIKeys) {
	if cfg.DeepgramConfig != nil && cfg.DeepgramConfig.APIKey == "" {
		cfg.DeepgramConfig.APIKey = keys.Deepgram
	}
	if cfg.ElevenLabsConfig != nil && cfg.ElevenLabsConfig.APIKey == "" {
		cfg.ElevenLabsConfig.APIKey = keys.ElevenLabs
	}
	if cfg.CartesiaConfig != nil && cfg.CartesiaConfig.APIKey == "" {
		cfg.CartesiaConfig.APIKey = keys.Cartesia
	}
}

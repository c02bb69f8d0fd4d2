package factories

import (
	"context"
	"errors"

	"voicechat/core"
	openaillm "voicechat/services/openai/llm"
)

// LLMFactoryConfig holds provider-specific configs for model service construction.
// Set exactly one provider config; the rest should be left nil.
// All non-OpenAI providers use the OpenAI-compatible protocol and are
// implemented via the same OpenAI service with a custom base URL.
type LLMFactoryConfig struct {
	OpenAIConfig     *openaillm.Config `json:"openai,omitempty"`
	TogetherConfig   *openaillm.Config `json:"together,omitempty"`
	GroqConfig       *openaillm.Config `json:"groq,omitempty"`
	DeepSeekConfig   *openaillm.Config `json:"deepseek,omitempty"`
	OpenRouterConfig *openaillm.Config `json:"openrouter,omitempty"`
	FireworksConfig  *openaillm.Config `json:"fireworks,omitempty"`
	CerebrasConfig   *openaillm.Config `json:"cerebras,omitempty"`
	XAIConfig        *openaillm.Config `json:"xai,omitempty"`
	MistralConfig    *openaillm.Config `json:"mistral,omitempty"`
	PerplexityConfig *openaillm.Config `json:"perplexity,omitempty"`
}

// DefaultLLMFactoryConfig selects OpenAI with streaming on.
func DefaultLLMFactoryConfig() LLMFactoryConfig {
	return LLMFactoryConfig{OpenAIConfig: &openaillm.Config{Streaming: true}}
}

// llmPreset is the base URL and fallback model for an OpenAI-compatible provider.
type llmPreset struct {
	name    string
	config  *openaillm.Config
	baseURL string
	model   string
}

// Default base URLs for OpenAI-compatible providers.
const (
	togetherBaseURL   = "https://api.together.xyz/v1"
	groqBaseURL       = "https://api.groq.com/openai/v1"
	deepseekBaseURL   = "https://api.deepseek.com/v1"
	openrouterBaseURL = "https://openrouter.ai/api/v1"
	fireworksBaseURL  = "https://api.fireworks.ai/inference/v1"
	cerebrasBaseURL   = "https://api.cerebras.ai/v1"
	xaiBaseURL        = "https://api.x.ai/v1"
	mistralBaseURL    = "https://api.mistral.ai/v1"
	perplexityBaseURL = "https://api.perplexity.ai"
)

func (c LLMFactoryConfig) presets() []llmPreset {
	return []llmPreset{
		{"openai", c.OpenAIConfig, "", core.DefaultModelID},
		{"together", c.TogetherConfig, togetherBaseURL, "meta-llama/Llama-3.3-70B-Instruct-Turbo"},
		{"groq", c.GroqConfig, groqBaseURL, "llama-3.3-70b-versatile"},
		{"deepseek", c.DeepSeekConfig, deepseekBaseURL, "deepseek-chat"},
		{"openrouter", c.OpenRouterConfig, openrouterBaseURL, "openai/gpt-4o-mini"},
		{"fireworks", c.FireworksConfig, fireworksBaseURL, "accounts/fireworks/models/llama-v3p3-70b-instruct"},
		{"cerebras", c.CerebrasConfig, cerebrasBaseURL, "llama-3.3-70b"},
		{"xai", c.XAIConfig, xaiBaseURL, "grok-3"},
		{"mistral", c.MistralConfig, mistralBaseURL, "mistral-large-latest"},
		{"perplexity", c.PerplexityConfig, perplexityBaseURL, "sonar-pro"},
	}
}

// selected returns the single configured provider.
func (c LLMFactoryConfig) selected() (llmPreset, error) {
	var found []llmPreset
	for _, p := range c.presets() {
		if p.config != nil {
			found = append(found, p)
		}
	}
	switch len(found) {
	case 0:
		return llmPreset{}, errors.New("LLMFactoryConfig: no provider config specified")
	case 1:
		return found[0], nil
	default:
		return llmPreset{}, errors.New("LLMFactoryConfig: more than one provider config specified")
	}
}

// ProviderName reports which provider is configured, or "" when none is.
func (c LLMFactoryConfig) ProviderName() string {
	p, err := c.selected()
	if err != nil {
		return ""
	}
	return p.name
}

// DefaultModel is the model id used when settings leave "model" empty.
func (c LLMFactoryConfig) DefaultModel() string {
	p, err := c.selected()
	if err != nil {
		return core.DefaultModelID
	}
	return p.model
}

// BuildLLMService constructs and initializes a model service from the given
// factory config. Exactly one provider config must be non-nil.
func BuildLLMService(ctx context.Context, config LLMFactoryConfig, logger *core.Logger) (*openaillm.OpenAILLMService, error) {
	p, err := config.selected()
	if err != nil {
		return nil, err
	}
	cfg := *p.config
	if cfg.BaseURL == "" {
		cfg.BaseURL = p.baseURL
	}
	service := openaillm.NewOpenAILLMService(cfg, logger.OrDefault().With(map[string]any{"provider": p.name}))
	if err := service.Init(ctx); err != nil {
		return nil, err
	}
	return service, nil
}

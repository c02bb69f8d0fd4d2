package factories

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicechat/core"
	cartesia "voicechat/services/cartesia/tts"
	deepgramtts "voicechat/services/deepgram/tts"
	openaillm "voicechat/services/openai/llm"
)

func TestDefaultSettingsConfig(t *testing.T) {
	cfg := DefaultSettingsConfig()

	assert.Equal(t, "gpt-4o-mini", cfg.ModelID())
	assert.Equal(t, "hi", cfg.Language)
	require.NotNil(t, cfg.History.FileConfig)
	require.NotNil(t, cfg.LLM.OpenAIConfig)
	assert.True(t, cfg.LLM.OpenAIConfig.Streaming)
	assert.True(t, cfg.TTS.ServiceConfig.IsEmpty())
	assert.True(t, cfg.TTS.HandlerConfig.Enabled)
	assert.Equal(t, "/ws", cfg.Server.Path)
}

func TestSettingsConfigFromJSONReplacesProviderSelection(t *testing.T) {
	cfg, err := SettingsConfigFromJSON([]byte(`{
		"language": "en",
		"history": {"sql": {"driver": "sqlite"}},
		"llm": {"groq": {"streaming": true}},
		"tts": {"service": {"elevenlabs": {"voice_id": "abc"}}}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "en", cfg.Language)
	assert.Nil(t, cfg.History.FileConfig)
	require.NotNil(t, cfg.History.SQLConfig)
	assert.Equal(t, "sqlite", cfg.History.SQLConfig.Driver)

	assert.Nil(t, cfg.LLM.OpenAIConfig)
	assert.Equal(t, "groq", cfg.LLM.ProviderName())
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.ModelID())

	require.NotNil(t, cfg.TTS.ServiceConfig.ElevenLabsConfig)
	assert.Equal(t, "abc", cfg.TTS.ServiceConfig.ElevenLabsConfig.VoiceID)
	// Absent handler block keeps its defaults.
	assert.True(t, cfg.TTS.HandlerConfig.Enabled)
	assert.True(t, cfg.TTS.HandlerConfig.NormalizeText)
}

func TestSettingsConfigFromJSONKeepsDefaultsForAbsentFields(t *testing.T) {
	cfg, err := SettingsConfigFromJSON([]byte(`{"model": "gpt-4o", "language": ""}`))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.ModelID())
	assert.Equal(t, core.DefaultLanguageCode, cfg.Language)
	assert.NotNil(t, cfg.LLM.OpenAIConfig)
	assert.NotNil(t, cfg.History.FileConfig)
	assert.Equal(t, "User question: ", cfg.Context.QuestionPrefix)
}

func TestSettingsConfigFromJSONInvalid(t *testing.T) {
	_, err := SettingsConfigFromJSON([]byte(`{"model": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings")
}

func TestSettingsConfigFromFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := SettingsConfigFromFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Equal(t, DefaultSettingsConfig().ModelID(), cfg.ModelID())

	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model": "gpt-4.1-mini"}`), 0o644))
	cfg, err = SettingsConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-mini", cfg.ModelID())
}

func TestInjectAPIKeys(t *testing.T) {
	cfg := DefaultSettingsConfig()
	cfg.TTS.ServiceConfig.DeepgramConfig = &deepgramtts.DepgramTTSConfig{APIKey: "from-settings"}
	cfg.History = HistoryFactoryConfig{SQLConfig: &SQLHistoryConfig{Driver: "postgres"}}

	cfg.InjectAPIKeys(APIKeys{
		OpenAI:     "sk-env",
		Deepgram:   "dg-env",
		HistoryDSN: "postgres://localhost/chat",
	})

	assert.Equal(t, "sk-env", cfg.LLM.OpenAIConfig.APIKey)
	assert.Equal(t, "from-settings", cfg.TTS.ServiceConfig.DeepgramConfig.APIKey)
	assert.Equal(t, "postgres://localhost/chat", cfg.History.SQLConfig.DSN)
}

func TestBuildLLMServiceSelection(t *testing.T) {
	ctx := context.Background()

	_, err := BuildLLMService(ctx, LLMFactoryConfig{}, core.NewNopLogger())
	require.Error(t, err)

	_, err = BuildLLMService(ctx, LLMFactoryConfig{
		OpenAIConfig: &openaillm.Config{APIKey: "a"},
		GroqConfig:   &openaillm.Config{APIKey: "b"},
	}, core.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one")

	_, err = BuildLLMService(ctx, LLMFactoryConfig{OpenAIConfig: &openaillm.Config{}}, core.NewNopLogger())
	require.Error(t, err, "openai without a key or base url")

	service, err := BuildLLMService(ctx, LLMFactoryConfig{GroqConfig: &openaillm.Config{APIKey: "gsk"}}, core.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, service.Cleanup())
}

func TestBuildHistoryStore(t *testing.T) {
	ctx := context.Background()
	logger := core.NewNopLogger()

	_, _, err := BuildHistoryStore(ctx, HistoryFactoryConfig{}, logger)
	require.Error(t, err)

	_, _, err = BuildHistoryStore(ctx, HistoryFactoryConfig{
		MemoryConfig: &MemoryHistoryConfig{},
		FileConfig:   &FileHistoryConfig{},
	}, logger)
	require.Error(t, err)

	_, _, err = BuildHistoryStore(ctx, HistoryFactoryConfig{SQLConfig: &SQLHistoryConfig{Driver: "oracle", DSN: "x"}}, logger)
	require.Error(t, err)

	_, _, err = BuildHistoryStore(ctx, HistoryFactoryConfig{SQLConfig: &SQLHistoryConfig{Driver: "sqlite"}}, logger)
	require.Error(t, err, "sql store without dsn")

	dsn := filepath.Join(t.TempDir(), "history.db")
	store, closeStore, err := BuildHistoryStore(ctx, HistoryFactoryConfig{SQLConfig: &SQLHistoryConfig{Driver: "sqlite", DSN: dsn}}, logger)
	require.NoError(t, err)
	defer closeStore()

	turns := []core.Turn{{Role: core.RoleUser, Content: "Hi"}}
	require.NoError(t, store.Put(ctx, core.HistoryKey, turns))
	got, found, err := store.Get(ctx, core.HistoryKey)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, turns, got)

	fileStore, closeFile, err := BuildHistoryStore(ctx, HistoryFactoryConfig{FileConfig: &FileHistoryConfig{Dir: t.TempDir()}}, logger)
	require.NoError(t, err)
	assert.NoError(t, closeFile())
	_, found, err = fileStore.Get(ctx, core.HistoryKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBuildTTSServiceSelection(t *testing.T) {
	_, err := BuildTTSService(TTSFactoryConfig{}, nil, core.NewNopLogger())
	require.Error(t, err)

	_, err = BuildTTSService(TTSFactoryConfig{DeepgramConfig: &deepgramtts.DepgramTTSConfig{}}, nil, core.NewNopLogger())
	require.Error(t, err, "deepgram without a key")

	speech, err := BuildTTSService(TTSFactoryConfig{DeepgramConfig: &deepgramtts.DepgramTTSConfig{APIKey: "dg"}}, nil, core.NewNopLogger())
	require.NoError(t, err)
	assert.NoError(t, speech.Cleanup())
}

func TestBuildSession(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultSettingsConfig()
	cfg.Model = "gpt-4o"
	cfg.History = HistoryFactoryConfig{MemoryConfig: &MemoryHistoryConfig{}}
	cfg.Audio.Dir = t.TempDir()
	cfg.InjectAPIKeys(APIKeys{OpenAI: "sk-test"})

	var events []string
	s, err := cfg.BuildSession(ctx, func(p *core.EventPacket) { events = append(events, p.Event.GetId()) }, core.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.Speech)
	assert.Equal(t, cfg.Audio.Dir, s.Audio.Dir())

	state, err := s.Engine.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", state.ModelID)
	assert.Empty(t, state.Transcript)
	assert.NotEmpty(t, events)
}

func TestBuildSessionReportsTTSFailure(t *testing.T) {
	cfg := DefaultSettingsConfig()
	cfg.History = HistoryFactoryConfig{MemoryConfig: &MemoryHistoryConfig{}}
	cfg.TTS.ServiceConfig = TTSFactoryConfig{CartesiaConfig: &cartesia.CartesiaTTSConfig{}}
	cfg.InjectAPIKeys(APIKeys{OpenAI: "sk-test"})

	_, err := cfg.BuildSession(context.Background(), nil, core.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tts service")
}

package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"voicechat/core"
	"voicechat/factories"
)

type rootOptions struct {
	settingsPath string
	envFiles     []string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "voicechat",
		Short:        "Chat with a language model, optionally grounded on a document and spoken aloud",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.settingsPath, "settings", "", "path to settings.json (default $SETTINGS_PATH or ./settings.json)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env.local", ".env"}, "dotenv files loaded before reading settings")

	cmd.AddCommand(
		newChatCommand(opts),
		newConnectCommand(opts),
		newServeCommand(opts),
		newHistoryCommand(opts),
		newClearCommand(opts),
	)
	return cmd
}

// loadEnv loads every dotenv file that exists. Variables already set in the
// environment win.
func (o *rootOptions) loadEnv() {
	for _, path := range o.envFiles {
		if err := godotenv.Load(path); err != nil {
			core.GetLogger().With(map[string]any{"path": path}).Debug("no env file loaded")
		}
	}
}

// loadSettings loads SettingsConfig from file or SETTINGS_JSON_B64 env var, and
// injects API keys from env vars.
func (o *rootOptions) loadSettings() factories.SettingsConfig {
	o.loadEnv()
	logger := core.GetLogger()

	var settings factories.SettingsConfig
	var err error

	if b64 := os.Getenv("SETTINGS_JSON_B64"); b64 != "" && o.settingsPath == "" {
		data, decErr := base64.StdEncoding.DecodeString(b64)
		if decErr != nil {
			logger.With(map[string]any{"error": decErr}).Error("failed to decode SETTINGS_JSON_B64")
			settings = factories.DefaultSettingsConfig()
		} else {
			settings, err = factories.SettingsConfigFromJSON(data)
			if err != nil {
				logger.With(map[string]any{"error": err}).Error("failed to parse SETTINGS_JSON_B64")
				settings = factories.DefaultSettingsConfig()
			} else {
				logger.Debug("loaded settings from SETTINGS_JSON_B64")
			}
		}
	} else {
		settingsPath := o.settingsPath
		if settingsPath == "" {
			settingsPath = getEnv("SETTINGS_PATH", "./settings.json")
		}
		settings, err = factories.SettingsConfigFromFile(settingsPath)
		if err != nil {
			logger.With(map[string]any{"path": settingsPath, "error": err}).Debug("failed to load settings, using defaults")
			settings = factories.DefaultSettingsConfig()
		}
	}

	if model := os.Getenv("CHAT_MODEL"); model != "" {
		settings.Model = model
	}
	settings.InjectAPIKeys(factories.APIKeys{
		OpenAI:     getEnv("OPENAI_API_KEY", ""),
		Together:   getEnv("TOGETHER_API_KEY", ""),
		Groq:       getEnv("GROQ_API_KEY", ""),
		DeepSeek:   getEnv("DEEPSEEK_API_KEY", ""),
		OpenRouter: getEnv("OPENROUTER_API_KEY", ""),
		Fireworks:  getEnv("FIREWORKS_API_KEY", ""),
		Cerebras:   getEnv("CEREBRAS_API_KEY", ""),
		XAI:        getEnv("XAI_API_KEY", ""),
		Mistral:    getEnv("MISTRAL_API_KEY", ""),
		Perplexity: getEnv("PERPLEXITY_API_KEY", ""),
		Deepgram:   getEnv("DEEPGRAM_API_KEY", ""),
		ElevenLabs: getEnv("ELEVENLABS_API_KEY", ""),
		Cartesia:   getEnv("CARTESIA_API_KEY", ""),
		HistoryDSN: getEnv("HISTORY_DSN", ""),
	})
	return settings
}

// setupLogger installs the process logger. Entries go to out at LOG_LEVEL
// (or defaultLevel) and, when log_dir is set, to a JSON-lines file. extra
// receives every entry too. The returned function flushes and closes the
// writers.
func setupLogger(settings factories.SettingsConfig, out *os.File, defaultLevel core.Level, extra core.LogWriter) (*core.Logger, func()) {
	level := defaultLevel
	if name := os.Getenv("LOG_LEVEL"); name != "" {
		level = core.ParseLevel(name)
	}
	base := core.NewDevelopmentLogger(out, level)

	var fileWriter core.LogWriter
	if settings.LogDir != "" {
		runID := uuid.NewString()
		w, err := core.NewFileLogWriter(settings.LogDir, runID, settings.ModelID())
		if err != nil {
			base.Warn("file logging disabled", "dir", settings.LogDir, "error", err)
		} else {
			fileWriter = w
		}
	}

	if fileWriter == nil && extra == nil {
		core.SetLogger(base)
		return base, func() {}
	}
	writer := core.MultiLogWriter(fileWriter, extra)
	logger := core.NewTeeLogger(base, writer)
	core.SetLogger(logger)
	return logger, writer.Close
}

// renderTranscript prints each turn with the avatar of its speaker.
func renderTranscript(turns []core.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		avatar := "🤖"
		if turn.Role == core.RoleUser {
			avatar = "👤"
		}
		fmt.Fprintf(&b, "%s %s\n", avatar, turn.Content)
	}
	return b.String()
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the stored conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := opts.loadSettings()
			logger, closeLogs := setupLogger(settings, os.Stderr, core.LevelWarn, nil)
			defer closeLogs()

			store, closeStore, err := factories.BuildHistoryStore(cmd.Context(), settings.History, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			turns, found, err := store.Get(cmd.Context(), core.HistoryKey)
			if err != nil {
				return &core.PersistenceError{Op: "get", Key: core.HistoryKey, Err: err}
			}
			if !found || len(turns) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversation yet.")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTranscript(turns))
			return nil
		},
	}
}

func newClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Erase the stored conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := opts.loadSettings()
			logger, closeLogs := setupLogger(settings, os.Stderr, core.LevelWarn, nil)
			defer closeLogs()

			return clearStoredHistory(cmd.Context(), settings, logger)
		},
	}
}

// clearStoredHistory writes an empty transcript without building a model
// client, so it works without API keys.
func clearStoredHistory(ctx context.Context, settings factories.SettingsConfig, logger *core.Logger) error {
	store, closeStore, err := factories.BuildHistoryStore(ctx, settings.History, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Put(ctx, core.HistoryKey, []core.Turn{}); err != nil {
		return &core.PersistenceError{Op: "put", Key: core.HistoryKey, Err: err}
	}
	logger.Info("history cleared")
	return nil
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

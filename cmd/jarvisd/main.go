// Package main is the entry point for jarvisd, the voice-enabled assistant
// backend. It wires the completion provider, tool registry, speech pipelines
// and HTTP server together and runs until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mohtashammurshid/jarvisd/internal/auth"
	"github.com/mohtashammurshid/jarvisd/internal/config"
	"github.com/mohtashammurshid/jarvisd/internal/history"
	"github.com/mohtashammurshid/jarvisd/internal/llm"
	"github.com/mohtashammurshid/jarvisd/internal/logging"
	"github.com/mohtashammurshid/jarvisd/internal/orchestrator"
	"github.com/mohtashammurshid/jarvisd/internal/server"
	"github.com/mohtashammurshid/jarvisd/internal/speech"
	"github.com/mohtashammurshid/jarvisd/internal/tools"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jarvisd",
		Short: "jarvisd - voice-enabled assistant backend",
		Long: `jarvisd serves the JARVIS assistant API: a tool-augmented chat loop,
text-to-speech with provider fallback, transcription, and a password gate.

Run the server:     jarvisd
Write a config:     jarvisd config init`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd(), configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("jarvisd %s\n", version)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgPath
			if path == "" {
				path = "jarvisd.yaml"
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})
	return cmd
}

func runServer() error {
	// Local development keeps secrets in .env.local; absence is fine.
	godotenv.Load(".env.local", ".env")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Pretty = true
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)
	log := logging.WithComponent("main")

	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:   cfg.LLM.APIKey,
		Endpoint: cfg.LLM.Endpoint,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.LLM.Timeout,
	})
	if !provider.Available() {
		log.Warn().Msg("no OpenAI API key set, chat will answer with fallbacks only")
	}

	registry := tools.NewRegistry()
	searchTool := tools.NewSearchTool(cfg.Search.APIKey, cfg.Search.MaxResults, provider)
	weatherTool := tools.NewWeatherTool(cfg.Weather.APIKey)
	for _, tool := range []tools.Tool{
		searchTool,
		weatherTool,
		tools.NewCreatorTool(),
		tools.NewPapersTool(),
	} {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("register tool %s: %w", tool.Name(), err)
		}
	}

	orch := orchestrator.New(provider, registry, orchestrator.Config{
		Model:        cfg.LLM.Model,
		SystemPrompt: cfg.Chat.SystemPrompt,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
		StepBudget:   cfg.Chat.StepBudget,
	})

	pipeline := speech.NewPipeline(
		speech.NewElevenLabs(cfg.Speech.ElevenLabsAPIKey, cfg.Speech.VoiceID),
		speech.NewOpenAITTS(cfg.LLM.APIKey, cfg.Speech.TTSModel, cfg.Speech.TTSVoice),
	)
	transcriber := speech.NewTranscriber(cfg.LLM.APIKey, cfg.Speech.TranscribeModel)

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()
		log.Info().Str("path", cfg.History.DBPath).Msg("transcript log enabled")
	}

	srv := server.New(server.Deps{
		Auth: auth.NewService(auth.Config{
			Password:     cfg.Auth.Password,
			PasswordHash: cfg.Auth.PasswordHash,
			Secret:       cfg.Auth.TokenSecret,
			TTL:          cfg.Auth.TokenTTL,
		}),
		Orchestrator: orch,
		Search:       searchTool,
		Weather:      weatherTool,
		Speech:       pipeline,
		Transcriber:  transcriber,
		History:      store,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("goodbye")
	return nil
}

// Package config loads jarvisd configuration from an optional YAML file,
// overridable by environment variables. Provider credentials use their
// conventional environment names (OPENAI_API_KEY, TAVILY_API_KEY, ...) so an
// existing .env file keeps working unchanged.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all jarvisd configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Search  SearchConfig  `mapstructure:"search" yaml:"search"`
	Weather WeatherConfig `mapstructure:"weather" yaml:"weather"`
	Speech  SpeechConfig  `mapstructure:"speech" yaml:"speech"`
	Chat    ChatConfig    `mapstructure:"chat" yaml:"chat"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	// Port is the HTTP listen port.
	Port int `mapstructure:"port" yaml:"port"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// AuthConfig contains the shared-secret gate settings.
type AuthConfig struct {
	// Password is the shared plaintext secret (JARVIS_PASSWORD).
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	// PasswordHash is an optional bcrypt hash; when set it takes precedence
	// over Password.
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash,omitempty"`
	// TokenSecret signs session tokens (JARVIS_AUTH_SECRET). Falls back to
	// Password when empty so a minimal deployment needs one variable.
	TokenSecret string `mapstructure:"token_secret" yaml:"token_secret,omitempty"`
	// TokenTTL is how long issued session tokens stay valid.
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// LLMConfig contains completion-provider settings.
type LLMConfig struct {
	// APIKey is the OpenAI credential (OPENAI_API_KEY).
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Endpoint is the API base URL, overridable for proxies and tests.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// Model is the chat model identifier.
	Model string `mapstructure:"model" yaml:"model"`
	// MaxTokens caps a single completion.
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens"`
	// Temperature controls sampling randomness.
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	// Timeout bounds a single provider call.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SearchConfig contains web-search provider settings.
type SearchConfig struct {
	// APIKey is the Tavily credential (TAVILY_API_KEY).
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// MaxResults is the default result count per query.
	MaxResults int `mapstructure:"max_results" yaml:"max_results"`
}

// WeatherConfig contains weather provider settings.
type WeatherConfig struct {
	// APIKey is the WeatherAPI.com credential (WEATHERAPI_KEY).
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
}

// SpeechConfig contains TTS and transcription settings.
type SpeechConfig struct {
	// ElevenLabsAPIKey is the primary TTS credential (ELEVENLABS_API_KEY).
	ElevenLabsAPIKey string `mapstructure:"elevenlabs_api_key" yaml:"elevenlabs_api_key,omitempty"`
	// VoiceID selects the ElevenLabs voice.
	VoiceID string `mapstructure:"voice_id" yaml:"voice_id"`
	// TTSModel selects the secondary (OpenAI) TTS model.
	TTSModel string `mapstructure:"tts_model" yaml:"tts_model"`
	// TTSVoice selects the secondary TTS voice.
	TTSVoice string `mapstructure:"tts_voice" yaml:"tts_voice"`
	// TranscribeModel selects the Whisper model.
	TranscribeModel string `mapstructure:"transcribe_model" yaml:"transcribe_model"`
	// Timeout bounds a single speech provider call.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ChatConfig contains orchestration settings.
type ChatConfig struct {
	// StepBudget caps model-call/tool-call rounds per chat turn.
	StepBudget int `mapstructure:"step_budget" yaml:"step_budget"`
	// SystemPrompt sets the assistant persona.
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
}

// HistoryConfig contains the optional transcript log settings.
type HistoryConfig struct {
	// Enabled turns the SQLite transcript log on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// DBPath is the SQLite file path.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// Pretty enables the console writer instead of JSON output.
	Pretty bool `mapstructure:"pretty" yaml:"pretty"`
}

// DefaultSystemPrompt is the persona the assistant speaks with unless
// chat.system_prompt overrides it.
const DefaultSystemPrompt = "You are JARVIS, the advanced AI assistant inspired by Iron Man. " +
	"Respond as a highly capable, resourceful, and loyal digital butler. " +
	"Be concise, intelligent, and display a subtle, dry wit. " +
	"Address the user with respectful confidence, occasionally using phrases like 'sir' or 'ma'am' when appropriate. " +
	"Prioritize clarity, efficiency, and a touch of charm. " +
	"Keep responses under 150 words unless more detail is specifically requested. " +
	"You have access to advanced systems and can assist with a wide range of tasks, from technical support to daily planning. " +
	"Your creator is Mohtasham Murshid. " +
	"Never include markdown, code formatting, or source links in your replies. " +
	"Remain professional, never break character, and always maintain the persona of JARVIS."

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		LLM: LLMConfig{
			Endpoint:    "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   600,
			Temperature: 0.7,
			Timeout:     60 * time.Second,
		},
		Search: SearchConfig{
			MaxResults: 5,
		},
		Speech: SpeechConfig{
			VoiceID:         "AeRdCCKzvd23BpJoofzx",
			TTSModel:        "tts-1",
			TTSVoice:        "alloy",
			TranscribeModel: "whisper-1",
			Timeout:         45 * time.Second,
		},
		Chat: ChatConfig{
			StepBudget:   4,
			SystemPrompt: DefaultSystemPrompt,
		},
		History: HistoryConfig{
			Enabled: false,
			DBPath:  "jarvisd.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// envBindings maps config keys to the environment variables existing
// deployments already set.
var envBindings = map[string]string{
	"server.port":               "PORT",
	"auth.password":             "JARVIS_PASSWORD",
	"auth.password_hash":        "JARVIS_PASSWORD_HASH",
	"auth.token_secret":         "JARVIS_AUTH_SECRET",
	"llm.api_key":               "OPENAI_API_KEY",
	"llm.endpoint":              "OPENAI_BASE_URL",
	"llm.model":                 "JARVIS_MODEL",
	"search.api_key":            "TAVILY_API_KEY",
	"weather.api_key":           "WEATHERAPI_KEY",
	"speech.elevenlabs_api_key": "ELEVENLABS_API_KEY",
	"speech.voice_id":           "ELEVENLABS_VOICE_ID",
	"history.db_path":           "JARVIS_HISTORY_DB",
	"logging.level":             "LOG_LEVEL",
}

// Load reads configuration from the given YAML file path (optional; an empty
// path or missing file is fine) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults := Default()
	setDefaults(v, defaults)

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, missing := err.(viper.ConfigFileNotFoundError); !missing && !os.IsNotExist(underlying(err)) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Auth.TokenSecret == "" {
		cfg.Auth.TokenSecret = cfg.Auth.Password
	}
	if cfg.Chat.StepBudget < 1 {
		cfg.Chat.StepBudget = defaults.Chat.StepBudget
	}

	return cfg, nil
}

// WriteDefault writes a commented starter config file if none exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}

	header := "# jarvisd configuration. Every value can be overridden by\n" +
		"# environment variables (see README / internal/config).\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("auth.token_ttl", cfg.Auth.TokenTTL)
	v.SetDefault("llm.endpoint", cfg.LLM.Endpoint)
	v.SetDefault("llm.model", cfg.LLM.Model)
	v.SetDefault("llm.max_tokens", cfg.LLM.MaxTokens)
	v.SetDefault("llm.temperature", cfg.LLM.Temperature)
	v.SetDefault("llm.timeout", cfg.LLM.Timeout)
	v.SetDefault("search.max_results", cfg.Search.MaxResults)
	v.SetDefault("speech.voice_id", cfg.Speech.VoiceID)
	v.SetDefault("speech.tts_model", cfg.Speech.TTSModel)
	v.SetDefault("speech.tts_voice", cfg.Speech.TTSVoice)
	v.SetDefault("speech.transcribe_model", cfg.Speech.TranscribeModel)
	v.SetDefault("speech.timeout", cfg.Speech.Timeout)
	v.SetDefault("chat.step_budget", cfg.Chat.StepBudget)
	v.SetDefault("chat.system_prompt", cfg.Chat.SystemPrompt)
	v.SetDefault("history.enabled", cfg.History.Enabled)
	v.SetDefault("history.db_path", cfg.History.DBPath)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
}

func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		inner := u.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

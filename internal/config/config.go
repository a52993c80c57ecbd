package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/novavoice/internal/session"
	"github.com/ent0n29/novavoice/internal/voice"
)

// Config contains all runtime settings for the voice companion service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	ProviderTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogFormat        string
	DebugEndpoints   bool
	CORSOrigins      []string
	MaxAudioBytes    int

	// ProviderMode selects recognition and synthesis: auto, openai or mock.
	ProviderMode       string
	GenerationProvider string
	GenerationFallback string
	GenerationHTTPURL  string

	// GenerationHTTPStrict fails a streamed reply on any undecodable frame.
	GenerationHTTPStrict bool

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAISTTModel  string
	OpenAIChatModel string
	OpenAITTSModel  string

	// RawSpeech sends replies to synthesis without markup stripping.
	RawSpeech bool

	GeminiAPIKey    string
	GeminiChatModel string

	SupportedVoices string
	DefaultVoice    string

	SessionStore      string
	SessionTTL        time.Duration
	SessionMaxEntries int
	RedisURL          string
	DatabaseURL       string

	NavigationRulesFile string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":3000"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "novavoice"),
		LogLevel:            strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(envOrDefault("APP_LOG_FORMAT", "json")),
		DebugEndpoints:      true,
		CORSOrigins:         splitList(envOrDefault("APP_CORS_ORIGINS", "*")),
		MaxAudioBytes:       25 << 20,
		ProviderMode:        strings.ToLower(envOrDefault("PROVIDER_MODE", "auto")),
		GenerationProvider:  strings.ToLower(envOrDefault("GENERATION_PROVIDER", "auto")),
		GenerationFallback:  strings.ToLower(stringsTrimSpace("GENERATION_FALLBACK")),
		GenerationHTTPURL:   stringsTrimSpace("GENERATION_HTTP_URL"),
		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:       stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAISTTModel:      envOrDefault("OPENAI_STT_MODEL", voice.DefaultSTTModel),
		OpenAIChatModel:     envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAITTSModel:      envOrDefault("OPENAI_TTS_MODEL", voice.DefaultTTSModel),
		GeminiAPIKey:        stringsTrimSpace("GEMINI_API_KEY"),
		GeminiChatModel:     envOrDefault("GEMINI_CHAT_MODEL", "gemini-2.0-flash"),
		SupportedVoices:     envOrDefault("SUPPORTED_VOICES", voice.DefaultSupportedVoices),
		DefaultVoice:        stringsTrimSpace("DEFAULT_VOICE"),
		SessionStore:        strings.ToLower(envOrDefault("SESSION_STORE", string(session.StoreMemory))),
		SessionMaxEntries:   100_000,
		RedisURL:            stringsTrimSpace("REDIS_URL"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		NavigationRulesFile: stringsTrimSpace("NAVIGATION_RULES_FILE"),
		ShutdownTimeout:     15 * time.Second,
		ProviderTimeout:     30 * time.Second,
		SessionTTL:          24 * time.Hour,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderTimeout, err = durationFromEnv("APP_PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionMaxEntries, err = intFromEnv("SESSION_MAX_ENTRIES", cfg.SessionMaxEntries)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxAudioBytes, err = intFromEnv("APP_MAX_AUDIO_BYTES", cfg.MaxAudioBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.DebugEndpoints, err = boolFromEnv("APP_DEBUG_ENDPOINTS", cfg.DebugEndpoints)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerationHTTPStrict, err = boolFromEnv("GENERATION_HTTP_STRICT", false)
	if err != nil {
		return Config{}, err
	}
	cfg.RawSpeech, err = boolFromEnv("TTS_RAW_TEXT", false)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ProviderTimeout < time.Second {
		return fmt.Errorf("APP_PROVIDER_TIMEOUT must be at least 1s")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.SessionTTL < time.Minute {
		return fmt.Errorf("SESSION_TTL must be at least 1m")
	}
	if c.SessionMaxEntries <= 0 {
		return fmt.Errorf("SESSION_MAX_ENTRIES must be positive")
	}
	if c.MaxAudioBytes <= 0 {
		return fmt.Errorf("APP_MAX_AUDIO_BYTES must be positive")
	}
	if !oneOf(c.LogFormat, "json", "console") {
		return fmt.Errorf("APP_LOG_FORMAT must be json or console")
	}
	if !oneOf(c.ProviderMode, "auto", "openai", "mock") {
		return fmt.Errorf("PROVIDER_MODE must be auto, openai or mock")
	}
	if !oneOf(c.GenerationProvider, "auto", "openai", "gemini", "http", "mock") {
		return fmt.Errorf("GENERATION_PROVIDER must be auto, openai, gemini, http or mock")
	}
	if !oneOf(c.GenerationFallback, "", "none", "openai", "gemini", "http", "mock") {
		return fmt.Errorf("GENERATION_FALLBACK must be empty, openai, gemini, http or mock")
	}
	if !oneOf(c.SessionStore, string(session.StoreMemory), string(session.StoreRedis), string(session.StorePostgres)) {
		return fmt.Errorf("SESSION_STORE must be memory, redis or postgres")
	}
	if c.SessionStore == string(session.StoreRedis) && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when SESSION_STORE=redis")
	}
	if c.SessionStore == string(session.StorePostgres) && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when SESSION_STORE=postgres")
	}
	if c.ProviderMode == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when PROVIDER_MODE=openai")
	}
	if _, err := voice.ParseCatalog(c.SupportedVoices, c.DefaultVoice); err != nil {
		return fmt.Errorf("SUPPORTED_VOICES: %w", err)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

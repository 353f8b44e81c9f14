// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"github.com/onnwee/chatlens/locator"
	"github.com/onnwee/chatlens/translator"
)

// Page source kinds.
const (
	SourceNone   = "none"
	SourceFile   = "file"
	SourceTwitch = "twitch"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type Config struct {
	// HTTP
	HTTPAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Languages
	TargetLanguage string
	SourceLanguage string
	VoiceLanguage  string
	ReplyLanguage  string
	UILocale       string

	// Translation client
	TranslateEndpoint      string
	TranslateTimeout       time.Duration
	TranslateMaxConcurrent int
	UserAgent              string

	// Cache
	CacheBackend string
	CacheTTL     time.Duration
	RedisURL     string

	// Orchestration timers
	RescanInterval      time.Duration
	ThreadCheckInterval time.Duration

	// Selector hints
	SelectorsFile string
	Hints         locator.Hints

	// Page source
	Source        string
	PageFile      string
	PageLocation  string
	PageDebounce  time.Duration
	TwitchChannel string

	TwitchBotUsername string
	TwitchOAuthToken  string
	TwitchMaxMessages int
}

// LoadDotEnv loads .env files if present (local dev convenience only;
// production relies on real env). Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load reads environment variables, applies defaults and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:       envOr("HTTP_ADDR", ":8080"),
		LogLevel:       strings.ToLower(os.Getenv("LOG_LEVEL")),
		LogFormat:      strings.ToLower(os.Getenv("LOG_FORMAT")),
		TargetLanguage: envOr("TARGET_LANGUAGE", "ja"),
		SourceLanguage: envOr("SOURCE_LANGUAGE", "auto"),
		VoiceLanguage:  envOr("VOICE_LANGUAGE", "ja-JP"),
		ReplyLanguage:  envOr("REPLY_LANGUAGE", "en"),

		TranslateEndpoint: envOr("TRANSLATE_ENDPOINT", translator.DefaultEndpoint),
		UserAgent:         envOr("TRANSLATE_USER_AGENT", "chatlens/1.0"),

		CacheBackend: strings.ToLower(envOr("CACHE_BACKEND", CacheMemory)),
		RedisURL:     os.Getenv("REDIS_URL"),

		SelectorsFile: os.Getenv("SELECTORS_FILE"),

		Source:       strings.ToLower(os.Getenv("PAGE_SOURCE")),
		PageFile:     os.Getenv("PAGE_FILE"),
		PageLocation: envOr("PAGE_LOCATION", "/"),

		TwitchChannel:     os.Getenv("TWITCH_CHANNEL"),
		TwitchBotUsername: os.Getenv("TWITCH_BOT_USERNAME"),
		TwitchOAuthToken:  os.Getenv("TWITCH_OAUTH_TOKEN"),
	}
	cfg.UILocale = envOr("UI_LOCALE", cfg.TargetLanguage)

	var err error
	if cfg.TranslateTimeout, err = durationEnv("TRANSLATE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = durationEnv("CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RescanInterval, err = durationEnv("RESCAN_INTERVAL", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.ThreadCheckInterval, err = durationEnv("THREAD_CHECK_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.PageDebounce, err = durationEnv("PAGE_RELOAD_DEBOUNCE", 200*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.TranslateMaxConcurrent, err = intEnv("TRANSLATE_MAX_CONCURRENT", 4); err != nil {
		return nil, err
	}
	if cfg.TwitchMaxMessages, err = intEnv("TWITCH_MAX_MESSAGES", 200); err != nil {
		return nil, err
	}

	// Source defaults to whatever is configured
	if cfg.Source == "" {
		switch {
		case cfg.PageFile != "":
			cfg.Source = SourceFile
		case cfg.TwitchChannel != "":
			cfg.Source = SourceTwitch
		default:
			cfg.Source = SourceNone
		}
	}

	if cfg.SelectorsFile != "" {
		if cfg.Hints, err = locator.LoadHints(cfg.SelectorsFile); err != nil {
			return nil, err
		}
	} else {
		cfg.Hints = locator.DefaultHints()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	for name, tag := range map[string]string{
		"TARGET_LANGUAGE": c.TargetLanguage,
		"VOICE_LANGUAGE":  c.VoiceLanguage,
		"REPLY_LANGUAGE":  c.ReplyLanguage,
		"UI_LOCALE":       c.UILocale,
	} {
		if _, err := language.Parse(tag); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, tag, err)
		}
	}
	if c.SourceLanguage != "auto" {
		if _, err := language.Parse(c.SourceLanguage); err != nil {
			return fmt.Errorf("invalid SOURCE_LANGUAGE %q: %w", c.SourceLanguage, err)
		}
	}
	switch c.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("CACHE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("invalid CACHE_BACKEND %q (memory|redis)", c.CacheBackend)
	}
	switch c.Source {
	case SourceNone:
	case SourceFile:
		if c.PageFile == "" {
			return fmt.Errorf("PAGE_SOURCE=file requires PAGE_FILE")
		}
	case SourceTwitch:
		if c.TwitchChannel == "" {
			return fmt.Errorf("PAGE_SOURCE=twitch requires TWITCH_CHANNEL")
		}
	default:
		return fmt.Errorf("invalid PAGE_SOURCE %q (none|file|twitch)", c.Source)
	}
	if c.TranslateMaxConcurrent < 1 {
		return fmt.Errorf("TRANSLATE_MAX_CONCURRENT must be at least 1")
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

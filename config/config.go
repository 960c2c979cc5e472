// Package config reads server settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CorpusSource selects where the article corpus is loaded from
type CorpusSource string

const (
	CorpusFromFile     CorpusSource = "file"
	CorpusFromS3       CorpusSource = "s3"
	CorpusFromPostgres CorpusSource = "postgres"
)

// Config holds every setting the server reads at startup
type Config struct {
	Port      string
	GinMode   string
	LogLevel  slog.Level
	LogFormat string

	// TrustedProxies lists the proxy CIDRs allowed to set X-Forwarded-For.
	// Empty means the client address is always the connection's RemoteAddr.
	TrustedProxies []string

	CorpusSource     CorpusSource
	CorpusPath       string
	StorageLocalPath string
	S3Bucket         string
	AWSRegion        string
	AWSAccessKeyID   string
	AWSSecretKey     string
	DatabaseURL      string

	LLMProvider   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	GeminiAPIKey  string
	GeminiModel   string

	RateLimitMax       int
	RateLimitWindow    time.Duration
	RateLimitHighWater int

	StreamTimeout    time.Duration
	MaxToolCalls     int
	ToolDefaultLimit int
}

// LoadDotEnv loads .env from the working directory or the project root.
// A missing file is not an error.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../../.env"); err != nil {
			slog.Debug("no .env file found, using environment variables")
		}
	}
}

// Load reads the configuration from the process environment
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:      env("PORT", "8080"),
		GinMode:   env("GIN_MODE", ""),
		LogFormat: strings.ToLower(env("LOG_FORMAT", "text")),

		TrustedProxies: splitList(env("TRUSTED_PROXIES", "")),

		CorpusSource:     CorpusSource(strings.ToLower(env("CORPUS_SOURCE", string(CorpusFromFile)))),
		CorpusPath:       env("CORPUS_PATH", "data/articles.json"),
		StorageLocalPath: env("STORAGE_LOCAL_PATH", "."),
		S3Bucket:         env("AWS_S3_BUCKET", ""),
		AWSRegion:        env("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:   env("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:     env("AWS_SECRET_ACCESS_KEY", ""),
		DatabaseURL:      env("DATABASE_URL", ""),

		LLMProvider:   strings.ToLower(env("LLM_PROVIDER", "openai")),
		OpenAIAPIKey:  env("OPENAI_API_KEY", ""),
		OpenAIModel:   env("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: env("OPENAI_BASE_URL", ""),
		GeminiAPIKey:  env("GEMINI_API_KEY", ""),
		GeminiModel:   env("GEMINI_MODEL", "gemini-1.5-flash"),
	}

	var err error
	if cfg.LogLevel, err = parseLevel(env("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = positiveInt("RATE_LIMIT_MAX", env("RATE_LIMIT_MAX", "30")); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = duration("RATE_LIMIT_WINDOW", env("RATE_LIMIT_WINDOW", "60s")); err != nil {
		return nil, err
	}
	if cfg.RateLimitHighWater, err = positiveInt("RATE_LIMIT_HIGH_WATER", env("RATE_LIMIT_HIGH_WATER", "10000")); err != nil {
		return nil, err
	}
	if cfg.StreamTimeout, err = duration("STREAM_TIMEOUT", env("STREAM_TIMEOUT", "0")); err != nil {
		return nil, err
	}
	if cfg.MaxToolCalls, err = positiveInt("MAX_TOOL_CALLS", env("MAX_TOOL_CALLS", "8")); err != nil {
		return nil, err
	}
	if cfg.ToolDefaultLimit, err = positiveInt("TOOL_DEFAULT_LIMIT", env("TOOL_DEFAULT_LIMIT", "5")); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.CorpusSource {
	case CorpusFromFile:
	case CorpusFromS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("AWS_S3_BUCKET is required when CORPUS_SOURCE=s3")
		}
	case CorpusFromPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CORPUS_SOURCE=postgres")
		}
	default:
		return fmt.Errorf("unsupported CORPUS_SOURCE: %s", c.CorpusSource)
	}

	switch c.LLMProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER: %s", c.LLMProvider)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT: %s", c.LogFormat)
	}
	return nil
}

// splitList parses a comma-separated list, dropping empty items
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func positiveInt(key, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, s)
	}
	return n, nil
}

// duration accepts Go durations ("90s") or bare seconds ("90")
func duration(key, s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid %s %q: must not be negative", key, s)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, s)
	}
	return d, nil
}

package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the Peupajoh backend.
type Config struct {
	Port       int
	Version    string
	Database   DatabaseConfig
	Resolution ResolutionConfig
	LLM        LLMConfig
	Scraper    ScraperConfig
	Telemetry  TelemetryConfig
	Retention  RetentionConfig
}

type DatabaseConfig struct {
	// Path is the SQLite database file holding sessions and food_items.
	Path string
}

// ResolutionConfig carries the fuzzy-matching policy. All three values
// are tunables, not invariants.
type ResolutionConfig struct {
	// MatchThreshold is the minimum similarity (0-100) for a fuzzy
	// candidate to be considered at all.
	MatchThreshold int
	// ExactMatchBound is the score a lone candidate must reach to be
	// accepted without asking the user.
	ExactMatchBound int
	// MaxOptions caps how many candidates a clarification question offers.
	MaxOptions int
}

type LLMConfig struct {
	// Endpoint is an OpenAI-compatible chat-completions base URL.
	Endpoint string
	APIKey   string
	Model    string
	// TimeoutSecs bounds each capability call.
	TimeoutSecs int
}

type ScraperConfig struct {
	// BaseURL of the FatSecret Indonesia site used for deeper lookups.
	BaseURL     string
	TimeoutSecs int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// RetentionConfig controls the background session janitor.
type RetentionConfig struct {
	Enabled bool
	// MaxAgeDays is how long an untouched session is kept.
	MaxAgeDays int
	// IntervalHours is how often the janitor sweeps.
	IntervalHours int
	// ArchiveDir, when set, receives purged sessions as gzip JSONL
	// before deletion. Empty means purge without archiving.
	ArchiveDir string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("PEUPAJOH_PORT", 8080),
		Version: envStr("PEUPAJOH_VERSION", "0.1.0"),
		Database: DatabaseConfig{
			Path: envStr("PEUPAJOH_DB_PATH", "data/peupajoh.sqlite3"),
		},
		Resolution: ResolutionConfig{
			MatchThreshold:  envInt("PEUPAJOH_MATCH_THRESHOLD", 80),
			ExactMatchBound: envInt("PEUPAJOH_EXACT_BOUND", 85),
			MaxOptions:      envInt("PEUPAJOH_MAX_OPTIONS", 5),
		},
		LLM: LLMConfig{
			Endpoint:    envStr("PEUPAJOH_LLM_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:      envStr("PEUPAJOH_LLM_API_KEY", ""),
			Model:       envStr("PEUPAJOH_LLM_MODEL", "gpt-4o-mini"),
			TimeoutSecs: envInt("PEUPAJOH_LLM_TIMEOUT_SECS", 60),
		},
		Scraper: ScraperConfig{
			BaseURL:     envStr("PEUPAJOH_SCRAPER_BASE_URL", "https://www.fatsecret.co.id"),
			TimeoutSecs: envInt("PEUPAJOH_SCRAPER_TIMEOUT_SECS", 10),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "peupajoh-backend"),
		},
		Retention: RetentionConfig{
			Enabled:       envBool("PEUPAJOH_RETENTION_ENABLED", false),
			MaxAgeDays:    envInt("PEUPAJOH_RETENTION_MAX_AGE_DAYS", 30),
			IntervalHours: envInt("PEUPAJOH_RETENTION_INTERVAL_HOURS", 24),
			ArchiveDir:    envStr("PEUPAJOH_RETENTION_ARCHIVE_DIR", ""),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// Package config holds all TrustStack configuration: YAML file loading,
// defaults, and environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all TrustStack configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Database   DatabaseConfig   `yaml:"database"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Browser    BrowserConfig    `yaml:"browser"`
	Search     SearchConfig     `yaml:"search"`
	Collection CollectionConfig `yaml:"collection"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Usage      UsageConfig      `yaml:"usage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig configures SQLite persistence.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// FetchConfig configures the page fetcher.
type FetchConfig struct {
	UserAgent       string  `yaml:"user_agent"`
	TimeoutSeconds  float64 `yaml:"timeout_seconds"`
	MaxRetries      int     `yaml:"max_retries"`
	BaseBackoff     float64 `yaml:"base_backoff_seconds"`
	DebugDir        string  `yaml:"debug_dir"`
	ParallelWorkers int     `yaml:"parallel_workers"`
	UseBrowser      bool    `yaml:"use_browser"`
	MinBodyLength   int     `yaml:"min_body_length"`
	MinBrandBody    int     `yaml:"min_brand_body_length"`
	DomainInterval  float64 `yaml:"domain_interval_seconds"`
}

// BrowserConfig configures the headless browser controller.
type BrowserConfig struct {
	Headless           bool    `yaml:"headless"`
	Bin                string  `yaml:"bin"`
	NavigationSeconds  float64 `yaml:"navigation_seconds"`
	BodyWaitSeconds    float64 `yaml:"body_wait_seconds"`
	RequestWaitSeconds float64 `yaml:"request_wait_seconds"`
	ViewportWidth      int     `yaml:"viewport_width"`
	ViewportHeight     int     `yaml:"viewport_height"`
}

// NavigationTimeout returns the page navigation ceiling.
func (c BrowserConfig) NavigationTimeout() time.Duration {
	if c.NavigationSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.NavigationSeconds * float64(time.Second))
}

// BodyWaitTimeout returns the body-element wait ceiling.
func (c BrowserConfig) BodyWaitTimeout() time.Duration {
	if c.BodyWaitSeconds <= 0 {
		return 8 * time.Second
	}
	return time.Duration(c.BodyWaitSeconds * float64(time.Second))
}

// SearchConfig configures the search providers.
type SearchConfig struct {
	Provider string       `yaml:"provider"` // brave or serper
	Brave    BraveConfig  `yaml:"brave"`
	Serper   SerperConfig `yaml:"serper"`
}

// BraveConfig configures the Brave Search API backend.
type BraveConfig struct {
	APIKey            string  `yaml:"api_key"`
	AuthMode          string  `yaml:"auth_mode"` // x-api-key, bearer, subscription-token, query, both
	MaxCount          int     `yaml:"max_count"`
	TimeoutSeconds    float64 `yaml:"timeout_seconds"`
	AllowHTMLFallback bool    `yaml:"allow_html_fallback"`
	RequestInterval   float64 `yaml:"request_interval_seconds"`
}

// SerperConfig configures the Serper (Google) backend.
type SerperConfig struct {
	APIKey          string  `yaml:"api_key"`
	TimeoutSeconds  float64 `yaml:"timeout_seconds"`
	RequestInterval float64 `yaml:"request_interval_seconds"`
	MaxPerRequest   int     `yaml:"max_per_request"`
}

// CollectionConfig configures the URL collector and classifier.
type CollectionConfig struct {
	BrandOwnedRatio    float64  `yaml:"brand_owned_ratio"`
	ThirdPartyRatio    float64  `yaml:"third_party_ratio"`
	Workers            int      `yaml:"workers"`
	BrandDomains       []string `yaml:"brand_domains"`
	BrandSubdomains    []string `yaml:"brand_subdomains"`
	BrandSocialHandles []string `yaml:"brand_social_handles"`
	SubpageExpansion   bool     `yaml:"subpage_expansion"`
}

// BrandControlled reports whether the configured ratio makes the
// collection brand-controlled (diversity caps are relaxed).
func (c CollectionConfig) BrandControlled() bool {
	return c.BrandOwnedRatio >= 0.8
}

// ScoringConfig configures the LLM scoring service and rubric files.
type ScoringConfig struct {
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	Model          string `yaml:"model"`
	VisualAnalysis bool   `yaml:"visual_analysis"`
	RubricPath     string `yaml:"rubric_path"`
	SignalsPath    string `yaml:"signals_path"`
}

// UsageConfig configures LLM cost-quota alarms.
type UsageConfig struct {
	MaxInputTokens  int64   `yaml:"max_input_tokens"`
	MaxOutputTokens int64   `yaml:"max_output_tokens"`
	MaxUSD          float64 `yaml:"max_usd"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Name:    "truststack",
		Version: "1.0.0",
		Database: DatabaseConfig{
			Path: "./truststack.db",
		},
		Fetch: FetchConfig{
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			TimeoutSeconds:  10,
			MaxRetries:      3,
			BaseBackoff:     1.0,
			ParallelWorkers: 5,
			MinBodyLength:   200,
			MinBrandBody:    75,
			DomainInterval:  2.0,
		},
		Browser: BrowserConfig{
			Headless:          true,
			NavigationSeconds: 20,
			BodyWaitSeconds:   8,
			ViewportWidth:     1920,
			ViewportHeight:    1080,
		},
		Search: SearchConfig{
			Provider: "brave",
			Brave: BraveConfig{
				AuthMode:        "x-api-key",
				MaxCount:        20,
				TimeoutSeconds:  10,
				RequestInterval: 1.0,
			},
			Serper: SerperConfig{
				TimeoutSeconds:  30,
				RequestInterval: 1.0,
				MaxPerRequest:   10,
			},
		},
		Collection: CollectionConfig{
			BrandOwnedRatio:  0.6,
			ThirdPartyRatio:  0.4,
			Workers:          5,
			SubpageExpansion: true,
		},
		Scoring: ScoringConfig{
			Model:       "gemini-2.0-flash",
			RubricPath:  "configs/rubric.yaml",
			SignalsPath: "configs/trust_signals.yaml",
		},
		Usage: UsageConfig{
			MaxInputTokens:  5_000_000,
			MaxOutputTokens: 1_000_000,
			MaxUSD:          25,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the config file at path, merges it over defaults, and
// applies environment overrides. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overlays recognised environment variables onto the config.
func (c *Config) ApplyEnv() {
	setString(&c.Database.Path, "DATABASE_PATH")

	setString(&c.Search.Brave.APIKey, "BRAVE_API_KEY")
	setString(&c.Search.Brave.AuthMode, "BRAVE_API_AUTH")
	setInt(&c.Search.Brave.MaxCount, "BRAVE_API_MAX_COUNT")
	setFloat(&c.Search.Brave.TimeoutSeconds, "BRAVE_API_TIMEOUT")
	setBool(&c.Search.Brave.AllowHTMLFallback, "BRAVE_ALLOW_HTML_FALLBACK")
	setFloat(&c.Search.Brave.RequestInterval, "BRAVE_REQUEST_INTERVAL")

	setString(&c.Search.Serper.APIKey, "SERPER_API_KEY")
	setFloat(&c.Search.Serper.TimeoutSeconds, "SERPER_API_TIMEOUT")
	setFloat(&c.Search.Serper.RequestInterval, "SERPER_REQUEST_INTERVAL")
	setInt(&c.Search.Serper.MaxPerRequest, "SERPER_MAX_PER_REQUEST")

	setString(&c.Fetch.UserAgent, "TS_USER_AGENT")
	setBool(&c.Fetch.UseBrowser, "TS_USE_BROWSER")
	setString(&c.Fetch.DebugDir, "TS_FETCH_DEBUG_DIR")
	setInt(&c.Fetch.ParallelWorkers, "TS_PARALLEL_FETCH_WORKERS")

	setString(&c.Scoring.GeminiAPIKey, "GEMINI_API_KEY")
}

// Validate checks invariants that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	sum := c.Collection.BrandOwnedRatio + c.Collection.ThirdPartyRatio
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("collection ratios must sum to 1.0, got %.2f", sum)
	}
	if c.Collection.Workers <= 0 {
		return fmt.Errorf("collection workers must be positive")
	}
	switch c.Search.Provider {
	case "brave", "serper":
	default:
		return fmt.Errorf("unknown search provider %q", c.Search.Provider)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Package config is the root configuration for the CIRA processing core,
// assembled the way the teacher's internal/config assembles WebStalk's:
// a single Config struct loaded via viper, yaml+mapstructure tagged,
// env-overridable, with a DefaultConfig and a Validate pass.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Crawl      CrawlConfig      `mapstructure:"crawl"     yaml:"crawl"`
	RateGate   RateGateConfig   `mapstructure:"rate_gate" yaml:"rate_gate"`
	Robots     RobotsConfig     `mapstructure:"robots"    yaml:"robots"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"  yaml:"analysis"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler" yaml:"scheduler"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"   yaml:"fetcher"`
	Logging    LoggingConfig    `mapstructure:"logging"   yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"   yaml:"metrics"`
}

// CrawlConfig holds the defaults a CompanyConfig is built from when the
// control interface doesn't override a field. Only mode, max pages, max
// depth and time limit have defaults here (see CompanyConfigFromDefaults);
// the remaining fields are process-wide crawl tunables.
type CrawlConfig struct {
	DefaultMode            string         `mapstructure:"default_mode"            yaml:"default_mode"`
	DefaultMaxPages        int            `mapstructure:"default_max_pages"       yaml:"default_max_pages"`
	DefaultMaxDepth        int            `mapstructure:"default_max_depth"       yaml:"default_max_depth"`
	DefaultTimeLimitSec    int            `mapstructure:"default_time_limit_sec"  yaml:"default_time_limit_sec"`
	CheckpointEveryPages   int            `mapstructure:"checkpoint_every_pages"  yaml:"checkpoint_every_pages"`
	CheckpointEverySeconds int            `mapstructure:"checkpoint_every_seconds" yaml:"checkpoint_every_seconds"`
	MaxSitemaps            int            `mapstructure:"max_sitemaps"            yaml:"max_sitemaps"`
	MaxSitemapURLs         int            `mapstructure:"max_sitemap_urls"        yaml:"max_sitemap_urls"`
	SocialFollowCaps       map[string]int `mapstructure:"social_follow_caps" yaml:"social_follow_caps"`
	PageFetchTimeout       time.Duration  `mapstructure:"page_fetch_timeout" yaml:"page_fetch_timeout"`
	MaxFetchRetries        int            `mapstructure:"max_fetch_retries"       yaml:"max_fetch_retries"`
	PageFailureBudget      float64        `mapstructure:"page_failure_budget"     yaml:"page_failure_budget"`
}

// RateGateConfig configures the per-domain token bucket.
type RateGateConfig struct {
	DefaultRefillPerSec float64       `mapstructure:"default_refill_per_sec" yaml:"default_refill_per_sec"`
	AcquireTimeout      time.Duration `mapstructure:"acquire_timeout"        yaml:"acquire_timeout"`
}

// RobotsConfig configures the robots.txt cache.
type RobotsConfig struct {
	UserAgent        string        `mapstructure:"user_agent"       yaml:"user_agent"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"    yaml:"fetch_timeout"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"        yaml:"cache_ttl"`
	NegativeCacheTTL time.Duration `mapstructure:"negative_cache_ttl" yaml:"negative_cache_ttl"`
}

// CheckpointConfig configures where/how checkpoints persist.
type CheckpointConfig struct {
	StaleThresholdSec int `mapstructure:"stale_threshold_sec" yaml:"stale_threshold_sec"`
}

// AnalysisConfig configures the Analyzing phase.
type AnalysisConfig struct {
	SectionFailureBudget float64       `mapstructure:"section_failure_budget" yaml:"section_failure_budget"`
	LLMTimeout           time.Duration `mapstructure:"llm_timeout"            yaml:"llm_timeout"`
	MaxRetries           int           `mapstructure:"max_retries"            yaml:"max_retries"`
}

// SchedulerConfig configures the BatchScheduler.
type SchedulerConfig struct {
	GlobalConcurrency  int           `mapstructure:"global_concurrency"     yaml:"global_concurrency"`
	DefaultPerBatchCap int           `mapstructure:"default_per_batch_cap"  yaml:"default_per_batch_cap"`
	RetentionWindow    time.Duration `mapstructure:"retention_window"       yaml:"retention_window"`
}

// FetcherConfig controls the HTTP/browser fetchers.
type FetcherConfig struct {
	UserAgent             string        `mapstructure:"user_agent"         yaml:"user_agent"`
	PageTimeout           time.Duration `mapstructure:"page_timeout"       yaml:"page_timeout"`
	MaxBodySize           int64         `mapstructure:"max_body_size"      yaml:"max_body_size"`
	FollowRedirects       bool          `mapstructure:"follow_redirects"   yaml:"follow_redirects"`
	MaxRedirects          int           `mapstructure:"max_redirects"      yaml:"max_redirects"`
	RenderViewportW       int           `mapstructure:"render_viewport_w"  yaml:"render_viewport_w"`
	RenderViewportH       int           `mapstructure:"render_viewport_h"  yaml:"render_viewport_h"`
	QuickModeMinTextBytes int           `mapstructure:"quick_mode_min_text_bytes" yaml:"quick_mode_min_text_bytes"`
}

// LoggingConfig controls the root slog.Logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the optional Prometheus registry.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults, mirroring every
// constant spec.md names explicitly (CHECKPOINT_EVERY_PAGES=10,
// CHECKPOINT_EVERY_SECONDS=120, MAX_SITEMAP_URLS=10000, MAX_SITEMAPS=50,
// STALE_THRESHOLD=3600, global concurrency 10, per-batch 3, retention 7d).
func DefaultConfig() *Config {
	return &Config{
		Crawl: CrawlConfig{
			DefaultMode:            "quick",
			DefaultMaxPages:        200,
			DefaultMaxDepth:        5,
			DefaultTimeLimitSec:    1800,
			CheckpointEveryPages:   10,
			CheckpointEverySeconds: 120,
			MaxSitemaps:            50,
			MaxSitemapURLs:         10000,
			SocialFollowCaps: map[string]int{
				"linkedin": 5,
				"twitter":  5,
				"facebook": 5,
			},
			PageFetchTimeout:  30 * time.Second,
			MaxFetchRetries:   3,
			PageFailureBudget: 0.25,
		},
		RateGate: RateGateConfig{
			DefaultRefillPerSec: 1.0,
			AcquireTimeout:      30 * time.Second,
		},
		Robots: RobotsConfig{
			UserAgent:        "CIRA Bot/1.0",
			FetchTimeout:     10 * time.Second,
			CacheTTL:         24 * time.Hour,
			NegativeCacheTTL: 1 * time.Hour,
		},
		Checkpoint: CheckpointConfig{
			StaleThresholdSec: 3600,
		},
		Analysis: AnalysisConfig{
			SectionFailureBudget: 0.5,
			LLMTimeout:           60 * time.Second,
			MaxRetries:           3,
		},
		Scheduler: SchedulerConfig{
			GlobalConcurrency:  10,
			DefaultPerBatchCap: 3,
			RetentionWindow:    7 * 24 * time.Hour,
		},
		Fetcher: FetcherConfig{
			UserAgent:             "CIRA Bot/1.0",
			PageTimeout:           30 * time.Second,
			MaxBodySize:           10 * 1024 * 1024,
			FollowRedirects:       true,
			MaxRedirects:          10,
			RenderViewportW:       1366,
			RenderViewportH:       768,
			QuickModeMinTextBytes: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

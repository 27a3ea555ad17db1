package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and defaults, exactly
// the priority order the teacher's config.Load documents: env > file >
// defaults (CLI flags are merged in by the cmd/cira layer after Load
// returns, same as the teacher's cobra flags override viper values).
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("CIRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("cira")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".cira"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("crawl.default_mode", cfg.Crawl.DefaultMode)
	v.SetDefault("crawl.default_max_pages", cfg.Crawl.DefaultMaxPages)
	v.SetDefault("crawl.default_max_depth", cfg.Crawl.DefaultMaxDepth)
	v.SetDefault("crawl.default_time_limit_sec", cfg.Crawl.DefaultTimeLimitSec)
	v.SetDefault("crawl.checkpoint_every_pages", cfg.Crawl.CheckpointEveryPages)
	v.SetDefault("crawl.checkpoint_every_seconds", cfg.Crawl.CheckpointEverySeconds)
	v.SetDefault("crawl.max_sitemaps", cfg.Crawl.MaxSitemaps)
	v.SetDefault("crawl.max_sitemap_urls", cfg.Crawl.MaxSitemapURLs)
	v.SetDefault("crawl.page_fetch_timeout", cfg.Crawl.PageFetchTimeout)
	v.SetDefault("crawl.max_fetch_retries", cfg.Crawl.MaxFetchRetries)
	v.SetDefault("crawl.page_failure_budget", cfg.Crawl.PageFailureBudget)

	v.SetDefault("rate_gate.default_refill_per_sec", cfg.RateGate.DefaultRefillPerSec)
	v.SetDefault("rate_gate.acquire_timeout", cfg.RateGate.AcquireTimeout)

	v.SetDefault("robots.user_agent", cfg.Robots.UserAgent)
	v.SetDefault("robots.fetch_timeout", cfg.Robots.FetchTimeout)
	v.SetDefault("robots.cache_ttl", cfg.Robots.CacheTTL)
	v.SetDefault("robots.negative_cache_ttl", cfg.Robots.NegativeCacheTTL)

	v.SetDefault("checkpoint.stale_threshold_sec", cfg.Checkpoint.StaleThresholdSec)

	v.SetDefault("analysis.section_failure_budget", cfg.Analysis.SectionFailureBudget)
	v.SetDefault("analysis.llm_timeout", cfg.Analysis.LLMTimeout)
	v.SetDefault("analysis.max_retries", cfg.Analysis.MaxRetries)

	v.SetDefault("scheduler.global_concurrency", cfg.Scheduler.GlobalConcurrency)
	v.SetDefault("scheduler.default_per_batch_cap", cfg.Scheduler.DefaultPerBatchCap)
	v.SetDefault("scheduler.retention_window", cfg.Scheduler.RetentionWindow)

	v.SetDefault("fetcher.user_agent", cfg.Fetcher.UserAgent)
	v.SetDefault("fetcher.page_timeout", cfg.Fetcher.PageTimeout)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.follow_redirects", cfg.Fetcher.FollowRedirects)
	v.SetDefault("fetcher.max_redirects", cfg.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.render_viewport_w", cfg.Fetcher.RenderViewportW)
	v.SetDefault("fetcher.render_viewport_h", cfg.Fetcher.RenderViewportH)
	v.SetDefault("fetcher.quick_mode_min_text_bytes", cfg.Fetcher.QuickModeMinTextBytes)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}

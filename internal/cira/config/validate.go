package config

import (
	"fmt"
	"net/url"

	"github.com/cira-systems/cira-core/internal/cira/model"
)

// Validate checks the root configuration for invalid values, following the
// teacher's internal/config/validate.go structure field-by-field.
func Validate(cfg *Config) error {
	if cfg.Crawl.DefaultMaxDepth < 0 {
		return fmt.Errorf("crawl.default_max_depth must be >= 0, got %d", cfg.Crawl.DefaultMaxDepth)
	}
	if cfg.Crawl.DefaultMaxPages < 0 {
		return fmt.Errorf("crawl.default_max_pages must be >= 0, got %d", cfg.Crawl.DefaultMaxPages)
	}
	if cfg.Crawl.DefaultTimeLimitSec <= 0 {
		return fmt.Errorf("crawl.default_time_limit_sec must be > 0")
	}
	if cfg.Crawl.CheckpointEveryPages <= 0 {
		return fmt.Errorf("crawl.checkpoint_every_pages must be > 0")
	}
	if cfg.Crawl.CheckpointEverySeconds <= 0 {
		return fmt.Errorf("crawl.checkpoint_every_seconds must be > 0")
	}
	if cfg.Crawl.PageFailureBudget < 0 || cfg.Crawl.PageFailureBudget > 1 {
		return fmt.Errorf("crawl.page_failure_budget must be in [0,1], got %f", cfg.Crawl.PageFailureBudget)
	}

	if cfg.RateGate.DefaultRefillPerSec <= 0 {
		return fmt.Errorf("rate_gate.default_refill_per_sec must be > 0")
	}

	if cfg.Checkpoint.StaleThresholdSec <= 0 {
		return fmt.Errorf("checkpoint.stale_threshold_sec must be > 0")
	}

	if cfg.Analysis.SectionFailureBudget < 0 || cfg.Analysis.SectionFailureBudget > 1 {
		return fmt.Errorf("analysis.section_failure_budget must be in [0,1], got %f", cfg.Analysis.SectionFailureBudget)
	}
	if cfg.Analysis.MaxRetries < 0 {
		return fmt.Errorf("analysis.max_retries must be >= 0")
	}

	if cfg.Scheduler.GlobalConcurrency < 1 {
		return fmt.Errorf("scheduler.global_concurrency must be >= 1, got %d", cfg.Scheduler.GlobalConcurrency)
	}
	if cfg.Scheduler.DefaultPerBatchCap < 1 {
		return fmt.Errorf("scheduler.default_per_batch_cap must be >= 1, got %d", cfg.Scheduler.DefaultPerBatchCap)
	}

	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
	}

	return nil
}

// ValidateURL checks that a URL is crawlable (http/https with a host),
// matching the teacher's ValidateURL helper.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateCompanyConfig enforces the enumerated CompanyConfig option set
// from spec.md §9: every field must carry a recognized value, and the
// structure itself rejects unknown options by construction (Go structs
// have no "extra fields" concept, so the enforcement surface here is the
// enumerated value ranges within the known fields).
func ValidateCompanyConfig(cc model.CompanyConfig) error {
	if cc.Mode != model.ModeQuick && cc.Mode != model.ModeThorough {
		return fmt.Errorf("mode must be %q or %q, got %q", model.ModeQuick, model.ModeThorough, cc.Mode)
	}
	if cc.MaxPages < 0 {
		return fmt.Errorf("maxPages must be >= 0, got %d", cc.MaxPages)
	}
	if cc.MaxDepth < 0 {
		return fmt.Errorf("maxDepth must be >= 0, got %d", cc.MaxDepth)
	}
	if cc.TimeLimitSec <= 0 {
		return fmt.Errorf("timeLimitSec must be > 0, got %d", cc.TimeLimitSec)
	}
	for _, pattern := range cc.ExclusionPatterns {
		if pattern == "" {
			return fmt.Errorf("exclusionPatterns must not contain empty globs")
		}
	}
	return nil
}

// CompanyConfigFromDefaults builds a CompanyConfig seeded from the
// process-wide crawl defaults, for control.CreateCompany callers that omit
// fields.
func CompanyConfigFromDefaults(crawl CrawlConfig) model.CompanyConfig {
	return model.CompanyConfig{
		Mode:         model.Mode(crawl.DefaultMode),
		MaxPages:     crawl.DefaultMaxPages,
		MaxDepth:     crawl.DefaultMaxDepth,
		TimeLimitSec: crawl.DefaultTimeLimitSec,
	}
}

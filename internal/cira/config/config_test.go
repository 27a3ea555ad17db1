package config

import (
	"testing"

	"github.com/cira-systems/cira-core/internal/cira/model"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("DefaultConfig() should be valid: %v", err)
	}
}

func TestValidateRejectsNegativeMaxDepth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Crawl.DefaultMaxDepth = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for a negative max depth")
	}
}

func TestValidateRejectsOutOfRangeFailureBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Analysis.SectionFailureBudget = 1.5
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for a failure budget above 1")
	}
}

func TestValidateRejectsZeroGlobalConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.GlobalConcurrency = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for zero global concurrency")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for an unrecognized log level")
	}
}

func TestValidateRejectsBadMetricsPortWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for an invalid metrics port when metrics is enabled")
	}
}

func TestValidateAllowsBadMetricsPortWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Metrics.Port = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("a bad port shouldn't matter when metrics is disabled: %v", err)
	}
}

func TestValidateURLRejectsNonHTTPScheme(t *testing.T) {
	if err := ValidateURL("ftp://example.com"); err == nil {
		t.Fatal("expected an error for a non-http(s) scheme")
	}
}

func TestValidateURLRejectsMissingHost(t *testing.T) {
	if err := ValidateURL("https://"); err == nil {
		t.Fatal("expected an error for a missing host")
	}
}

func TestValidateURLAcceptsHTTPS(t *testing.T) {
	if err := ValidateURL("https://acme.test/about"); err != nil {
		t.Fatalf("ValidateURL: %v", err)
	}
}

func TestValidateCompanyConfigRejectsUnknownMode(t *testing.T) {
	cc := model.CompanyConfig{Mode: "turbo", TimeLimitSec: 60}
	if err := ValidateCompanyConfig(cc); err == nil {
		t.Fatal("expected an error for an unrecognized mode")
	}
}

func TestValidateCompanyConfigRejectsEmptyExclusionPattern(t *testing.T) {
	cc := model.CompanyConfig{Mode: model.ModeQuick, TimeLimitSec: 60, ExclusionPatterns: []string{""}}
	if err := ValidateCompanyConfig(cc); err == nil {
		t.Fatal("expected an error for an empty exclusion pattern")
	}
}

func TestValidateCompanyConfigAcceptsWellFormed(t *testing.T) {
	cc := model.CompanyConfig{Mode: model.ModeThorough, MaxPages: 100, MaxDepth: 5, TimeLimitSec: 600}
	if err := ValidateCompanyConfig(cc); err != nil {
		t.Fatalf("ValidateCompanyConfig: %v", err)
	}
}

func TestCompanyConfigFromDefaults(t *testing.T) {
	crawl := CrawlConfig{DefaultMode: "thorough", DefaultMaxPages: 50, DefaultMaxDepth: 3, DefaultTimeLimitSec: 900}
	cc := CompanyConfigFromDefaults(crawl)
	if cc.Mode != model.ModeThorough || cc.MaxPages != 50 || cc.MaxDepth != 3 || cc.TimeLimitSec != 900 {
		t.Fatalf("cc = %+v", cc)
	}
}

func TestLoadWithMissingConfigFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Crawl.DefaultMaxPages != DefaultConfig().Crawl.DefaultMaxPages {
		t.Fatalf("expected default max pages when no config file is present, got %d", cfg.Crawl.DefaultMaxPages)
	}
}

func TestLoadWithExplicitMissingPathReturnsError(t *testing.T) {
	if _, err := Load("/nonexistent/path/cira.yaml"); err == nil {
		t.Fatal("expected an error for an explicitly named but missing config file")
	}
}

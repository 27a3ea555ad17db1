package metrics

import (
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	r := New(slog.New(slog.DiscardHandler))

	r.PagesCrawled.WithLabelValues("c1").Inc()
	if got := testutil.ToFloat64(r.PagesCrawled.WithLabelValues("c1")); got != 1 {
		t.Fatalf("PagesCrawled = %v, want 1", got)
	}

	r.CompaniesActive.Set(3)
	if got := testutil.ToFloat64(r.CompaniesActive); got != 3 {
		t.Fatalf("CompaniesActive = %v, want 3", got)
	}

	r.LLMTokensUsed.WithLabelValues("input").Add(42)
	if got := testutil.ToFloat64(r.LLMTokensUsed.WithLabelValues("input")); got != 42 {
		t.Fatalf("LLMTokensUsed{input} = %v, want 42", got)
	}

	r.BatchQueueDepth.WithLabelValues("b1").Set(5)
	if got := testutil.ToFloat64(r.BatchQueueDepth.WithLabelValues("b1")); got != 5 {
		t.Fatalf("BatchQueueDepth{b1} = %v, want 5", got)
	}
}

func TestNewUsesIndependentRegistries(t *testing.T) {
	// Each New() call uses its own private prometheus.Registry, so building
	// two registries in the same test must not collide with each other.
	r1 := New(slog.New(slog.DiscardHandler))
	r2 := New(slog.New(slog.DiscardHandler))
	r1.PagesCrawled.WithLabelValues("x").Inc()
	r2.PagesCrawled.WithLabelValues("x").Inc()
	if got := testutil.ToFloat64(r1.PagesCrawled.WithLabelValues("x")); got != 1 {
		t.Fatalf("r1 PagesCrawled = %v, want 1 (independent registries must not share state)", got)
	}
}

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
)

func TestNewClampsDefaultBurstToOne(t *testing.T) {
	g := New(10, 0)
	if g.defaultBurst != 1 {
		t.Fatalf("defaultBurst = %d, want 1", g.defaultBurst)
	}
}

func TestTryAcquireRespectsBurst(t *testing.T) {
	g := New(0.001, 1)
	if !g.TryAcquire("example.com") {
		t.Fatal("first TryAcquire should succeed (burst of 1 starts full)")
	}
	if g.TryAcquire("example.com") {
		t.Fatal("second immediate TryAcquire should fail: bucket just drained and refill rate is tiny")
	}
}

func TestTryAcquireIsPerDomain(t *testing.T) {
	g := New(0.001, 1)
	if !g.TryAcquire("a.com") {
		t.Fatal("a.com should acquire from its own bucket")
	}
	if !g.TryAcquire("b.com") {
		t.Fatal("b.com should have an independent bucket from a.com")
	}
}

func TestSetDomainRateOverridesLimiter(t *testing.T) {
	g := New(1000, 10)
	g.SetDomainRate("slow.com", 60) // 1 request per minute
	if !g.TryAcquire("slow.com") {
		t.Fatal("first acquire after override should still succeed (fresh bucket starts full)")
	}
	if g.TryAcquire("slow.com") {
		t.Fatal("second immediate acquire should fail under a 60s crawl-delay override")
	}
}

func TestSetDomainRateZeroClearsOverride(t *testing.T) {
	g := New(1000, 10)
	g.SetDomainRate("host.com", 60)
	g.SetDomainRate("host.com", 0)
	g.mu.Lock()
	_, overridden := g.overrides["host.com"]
	g.mu.Unlock()
	if overridden {
		t.Fatal("a crawl delay of 0 should clear any prior override")
	}
}

func TestAcquireWithTimeoutTimesOut(t *testing.T) {
	g := New(0.001, 1)
	g.TryAcquire("example.com") // drain the single token

	err := g.AcquireWithTimeout("example.com", 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error, got nil")
	}
	if !ciraerr.IsRetryable(err) {
		t.Fatalf("acquire timeout should be retryable, got %v", err)
	}
}

func TestAcquireRespectsCallerCancellation(t *testing.T) {
	g := New(0.001, 1)
	g.TryAcquire("example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Acquire(ctx, "example.com")
	if err == nil {
		t.Fatal("expected an error for an already-cancelled context")
	}
}

func TestHalveDomainRateHalvesDefaultRate(t *testing.T) {
	g := New(10, 10)
	g.HalveDomainRate("host.com")
	g.mu.Lock()
	hr, overridden := g.overrides["host.com"]
	g.mu.Unlock()
	if !overridden {
		t.Fatal("HalveDomainRate should install an override")
	}
	if hr.ratePerSec != 5 {
		t.Fatalf("ratePerSec = %v, want 5 (half of default 10)", hr.ratePerSec)
	}
}

func TestHalveDomainRateCompoundsOnRepeatedCalls(t *testing.T) {
	g := New(1000, 10)
	g.SetDomainRate("host.com", 1) // override: 1 req/sec
	g.HalveDomainRate("host.com")
	g.HalveDomainRate("host.com")
	g.mu.Lock()
	hr := g.overrides["host.com"]
	g.mu.Unlock()
	if hr.ratePerSec != 0.25 {
		t.Fatalf("ratePerSec = %v, want 0.25 after two halvings of 1.0", hr.ratePerSec)
	}
}

func TestResetClearsPerDomainState(t *testing.T) {
	g := New(0.001, 1)
	g.SetDomainRate("host.com", 60)
	g.TryAcquire("host.com")
	g.Reset()

	if !g.TryAcquire("host.com") {
		t.Fatal("after Reset, host.com should behave like a fresh default-rate bucket")
	}
}

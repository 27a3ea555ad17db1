// Package ratelimit implements RateGate, the per-domain token-bucket
// throttle from spec.md §4.1. It generalizes the teacher's
// scheduler.applyThrottle (internal/engine/scheduler.go), which tracked a
// single crawl-delay-derived sleep per domain, into a real token bucket
// via golang.org/x/time/rate so bursts and steady-state rates are both
// configurable per host.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
)

// Gate is a per-domain rate limiter. The zero value is not usable; use
// New.
type Gate struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  float64
	defaultBurst int
	overrides    map[string]hostRate
}

type hostRate struct {
	ratePerSec float64
	burst      int
}

// New builds a Gate with a default refill rate (tokens/sec) shared by
// every domain until SetDomainRate overrides it, e.g. from a robots.txt
// Crawl-delay directive.
func New(defaultRatePerSec float64, defaultBurst int) *Gate {
	if defaultBurst < 1 {
		defaultBurst = 1
	}
	return &Gate{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  defaultRatePerSec,
		defaultBurst: defaultBurst,
		overrides:    make(map[string]hostRate),
	}
}

// SetDomainRate overrides the refill rate for a single domain, used when
// RobotsCache reports a Crawl-delay: the domain's rate becomes
// min(current rate, 1/crawlDelaySec). A crawlDelay of 0 clears any prior
// override back to the default rate. Repeating a call that leaves the rate
// unchanged keeps the domain's existing token bucket.
func (g *Gate) SetDomainRate(domain string, crawlDelaySec float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if crawlDelaySec <= 0 {
		delete(g.overrides, domain)
		delete(g.limiters, domain)
		return
	}
	r := 1.0 / crawlDelaySec
	current, ok := g.overrides[domain]
	if !ok {
		current = hostRate{ratePerSec: g.defaultRate, burst: g.defaultBurst}
	}
	if current.ratePerSec < r {
		r = current.ratePerSec
	}
	if ok && current.ratePerSec == r && current.burst == 1 {
		return
	}
	g.overrides[domain] = hostRate{ratePerSec: r, burst: 1}
	delete(g.limiters, domain)
}

// HalveDomainRate cuts a domain's effective refill rate in half for the
// remainder of the process, per spec.md §7/§8: "429 on the crawl target
// halves the domain refill rate for the remainder of the session." The
// halved rate itself becomes the new override, so repeated 429s keep
// backing off rather than resetting to the prior rate.
func (g *Gate) HalveDomainRate(domain string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, burst := g.defaultRate, g.defaultBurst
	if hr, ok := g.overrides[domain]; ok {
		r, burst = hr.ratePerSec, hr.burst
	}
	g.overrides[domain] = hostRate{ratePerSec: r / 2, burst: burst}
	delete(g.limiters, domain)
}

func (g *Gate) limiterFor(domain string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if l, ok := g.limiters[domain]; ok {
		return l
	}
	r, burst := g.defaultRate, g.defaultBurst
	if hr, ok := g.overrides[domain]; ok {
		r, burst = hr.ratePerSec, hr.burst
	}
	l := rate.NewLimiter(rate.Limit(r), burst)
	g.limiters[domain] = l
	return l
}

// Acquire blocks until a token for domain is available, ctx is cancelled,
// or the context's deadline elapses, whichever comes first. It returns
// ciraerr.Timeout-wrapped when the deadline is the cause (including when
// the next token would only free up after the deadline), distinguishing
// it from a caller cancellation.
func (g *Gate) Acquire(ctx context.Context, domain string) error {
	l := g.limiterFor(domain)
	if err := l.Wait(ctx); err != nil {
		if ctx.Err() == context.Canceled {
			return ciraerr.Cancelled("rate gate acquire cancelled for " + domain)
		}
		return ciraerr.Wrap(ciraerr.CodeTransient, "rate gate acquire timed out for "+domain, ciraerr.Timeout)
	}
	return nil
}

// TryAcquire attempts a non-blocking acquire, returning false if no token
// is immediately available. Used by workers that want to skip a busy
// domain rather than block on it.
func (g *Gate) TryAcquire(domain string) bool {
	return g.limiterFor(domain).Allow()
}

// AcquireWithTimeout is a convenience wrapper combining Acquire with a
// bounded wait, matching the teacher's preference for explicit timeouts
// over bare context.Background() calls.
func (g *Gate) AcquireWithTimeout(domain string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Acquire(ctx, domain)
}

// Reset removes all per-domain state, used between crawl sessions in
// tests to avoid cross-test bleed-through of token buckets.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limiters = make(map[string]*rate.Limiter)
	g.overrides = make(map[string]hostRate)
}

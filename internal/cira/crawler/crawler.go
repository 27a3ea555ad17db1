// Package crawler implements CrawlEngine from spec.md §4.4: it produces a
// bounded sequence of Page records for one company, respecting
// politeness, depth/page/time caps, and pause requests. Structurally it
// generalizes the teacher's internal/engine/engine.go Engine +
// internal/engine/scheduler.go Scheduler (single worker loop over a
// Frontier, atomic State for pause/stop, per-domain throttle before each
// fetch) into a single-company, single-goroutine driver — the teacher's
// multi-worker pool concern moves up a layer into BatchScheduler, which
// runs many CrawlEngines concurrently rather than many workers inside one.
package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/fetch"
	"github.com/cira-systems/cira-core/internal/cira/frontier"
	"github.com/cira-systems/cira-core/internal/cira/metrics"
	"github.com/cira-systems/cira-core/internal/cira/model"
	"github.com/cira-systems/cira-core/internal/cira/ports"
	"github.com/cira-systems/cira-core/internal/cira/ratelimit"
	"github.com/cira-systems/cira-core/internal/cira/robots"
	"github.com/cira-systems/cira-core/internal/cira/urlnorm"
)

// maxFetchRetries bounds the transient-error retry loop in fetchAndProcess,
// per spec.md §7's "retry with exponential backoff up to 3 attempts".
const maxFetchRetries = 3

// Deps are the CrawlEngine's external collaborators, wired explicitly by
// the caller (PipelineRunner) rather than looked up from a global,
// per spec.md §9's re-architecture hint against global mutable singletons.
type Deps struct {
	Fetcher  ports.Fetcher
	RateGate *ratelimit.Gate
	Robots   *robots.Cache
	Clock    ports.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Registry // optional; nil disables instrumentation

	// MaxRetries bounds the per-page transient-fetch-error retry loop.
	// Zero (the unset default) falls back to maxFetchRetries.
	MaxRetries int
}

// Result is one crawled page plus the links discovered on it. Failed is
// set when the fetch ultimately failed after exhausting retries (or on a
// permanent error), distinguishing a genuine per-page failure from a
// non-failure skip (robots disallow, depth cap, rate-gate requeue) for
// the per-stage error budget in spec.md §7.
type Result struct {
	Page   model.Page
	Links  []DiscoveredLink
	WasDup bool
	Failed bool
}

// DiscoveredLink is one outbound link found on a crawled page.
type DiscoveredLink struct {
	URL        string
	IsExternal bool
}

// Control is the pause/cancel signal the PipelineRunner shares with a
// running CrawlEngine, mirroring spec.md §4's "cancellation token
// propagated into fetchers, extractors, and LLM calls".
type Control struct {
	paused    atomic.Bool
	cancelled atomic.Bool
}

func (c *Control) Pause()            { c.paused.Store(true) }
func (c *Control) Resume()           { c.paused.Store(false) }
func (c *Control) Cancel()           { c.cancelled.Store(true) }
func (c *Control) IsPaused() bool    { return c.paused.Load() }
func (c *Control) IsCancelled() bool { return c.cancelled.Load() }

// Engine drives a single company's crawl to a stop reason.
type Engine struct {
	deps     Deps
	cfg      model.CompanyConfig
	startURL string
	domain   string

	frontier      *frontier.Frontier
	contentHashes map[string]bool
	externalCaps  map[string]int // platform -> remaining follow budget
	exclude       []glob.Glob

	pagesCrawled int
	crawlStart   time.Time
}

// New builds an Engine for one company's crawl.
func New(deps Deps, cfg model.CompanyConfig, startURL string, f *frontier.Frontier, priorContentHashes map[string]bool) (*Engine, error) {
	u, err := url.Parse(startURL)
	if err != nil || u.Host == "" {
		return nil, ciraerr.Validation("invalid start URL %q", startURL)
	}

	excludes := make([]glob.Glob, 0, len(cfg.ExclusionPatterns))
	for _, pattern := range cfg.ExclusionPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, ciraerr.Validation("invalid exclusion pattern %q: %v", pattern, err)
		}
		excludes = append(excludes, g)
	}

	hashes := priorContentHashes
	if hashes == nil {
		hashes = make(map[string]bool)
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = maxFetchRetries
	}

	return &Engine{
		deps:          deps,
		cfg:           cfg,
		startURL:      urlnorm.Normalize(startURL),
		domain:        urlnorm.Domain(startURL),
		frontier:      f,
		contentHashes: hashes,
		externalCaps: map[string]int{
			"linkedin": 5,
			"twitter":  5,
			"facebook": 5,
		},
		exclude:    excludes,
		crawlStart: deps.Clock.Now(),
	}, nil
}

// Seed primes the frontier with the start URL and any sitemap-discovered
// URLs, per spec.md §4.4 step 1. Callers that already restored a
// checkpoint should skip Seed and rely on the restored frontier instead.
func (e *Engine) Seed(sitemapURLs []string) {
	e.frontier.Push(e.startURL, 0)
	for _, u := range sitemapURLs {
		e.frontier.Push(u, 1)
	}
}

// stopCondition reports why the engine should stop, or "" to continue.
func (e *Engine) stopCondition(ctl *Control) model.StopReason {
	if ctl.IsCancelled() {
		return model.StopFailed
	}
	if ctl.IsPaused() {
		return model.StopPaused
	}
	if e.cfg.MaxPages > 0 && e.pagesCrawled >= e.cfg.MaxPages {
		return model.StopPageLimit
	}
	if e.deps.Clock.Now().Sub(e.crawlStart) >= time.Duration(e.cfg.TimeLimitSec)*time.Second {
		return model.StopTimeLimit
	}
	if e.frontier.IsEmpty() {
		return model.StopFrontierFree
	}
	return ""
}

// Step pops one URL and crawls it, returning the page and any discovered
// links. A non-empty StopReason in the second return means the engine
// should stop; callers loop Step until it is non-empty.
func (e *Engine) Step(ctx context.Context, ctl *Control) (*Result, model.StopReason) {
	if reason := e.stopCondition(ctl); reason != "" {
		return nil, reason
	}

	entry, ok := e.frontier.Pop()
	if !ok {
		return nil, model.StopFrontierFree
	}

	if e.cfg.MaxDepth > 0 && entry.Depth > e.cfg.MaxDepth {
		return &Result{}, ""
	}

	domain := urlnorm.Domain(entry.URL)
	allowed, err := e.deps.Robots.IsAllowed(ctx, scheme(entry.URL), domain, path(entry.URL))
	if err == nil && !allowed {
		e.deps.Logger.Debug("blocked by robots.txt", "url", entry.URL)
		return &Result{}, ""
	}

	if delay, err := e.deps.Robots.CrawlDelay(ctx, scheme(entry.URL), domain); err == nil && delay > 0 {
		e.deps.RateGate.SetDomainRate(domain, delay)
	}

	remaining := time.Duration(e.cfg.TimeLimitSec)*time.Second - e.deps.Clock.Now().Sub(e.crawlStart)
	waitStart := time.Now()
	if err := e.deps.RateGate.AcquireWithTimeout(domain, remaining); err != nil {
		e.frontier.Requeue(entry)
		return &Result{}, ""
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.RateGateWait.Observe(time.Since(waitStart).Seconds())
	}

	result, stopReason := e.fetchAndProcess(ctx, entry)
	if stopReason != "" {
		return nil, stopReason
	}
	return result, ""
}

// fetchWithRetry retries attempt on a retryable (transient) error with
// exponential backoff, up to e.deps.MaxRetries, matching the teacher's
// scheduler.handleFetchError shape (also followed by analyze.runSection).
// A *ciraerr.RateLimited error is returned to the caller immediately
// without retrying here: 429 handling is the caller's job (halve the
// domain rate and requeue the URL rather than block this goroutine).
func (e *Engine) fetchWithRetry(ctx context.Context, attempt func() error) error {
	var lastErr error
	for i := 0; i <= e.deps.MaxRetries; i++ {
		if i > 0 {
			backoff := time.Duration(math.Pow(2, float64(i))) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := attempt()
		if err == nil {
			return nil
		}
		lastErr = err

		var rl *ciraerr.RateLimited
		if errors.As(err, &rl) {
			return err
		}
		if !ciraerr.IsRetryable(err) {
			break
		}
	}
	return lastErr
}

// handleFetchError classifies a failed fetch: a 429 halves the domain's
// refill rate and requeues the URL for a later pass (not counted as a
// page failure, since it will be retried); anything else is a settled
// per-page failure counted against the crawl's error budget.
func (e *Engine) handleFetchError(entry frontier.Entry, domain, kind string, err error) *Result {
	var rl *ciraerr.RateLimited
	if errors.As(err, &rl) {
		e.deps.Logger.Warn("rate limited, halving domain rate and requeueing", "url", entry.URL, "domain", domain)
		e.deps.RateGate.HalveDomainRate(domain)
		e.frontier.Requeue(entry)
		return &Result{}
	}

	e.deps.Logger.Warn(kind+" fetch failed", "url", entry.URL, "err", err)
	if e.deps.Metrics != nil {
		e.deps.Metrics.FetchErrors.WithLabelValues(kind).Inc()
	}
	return &Result{Page: model.Page{URL: entry.URL}, Failed: true}
}

func (e *Engine) fetchAndProcess(ctx context.Context, entry frontier.Entry) (*Result, model.StopReason) {
	timeout := 30 * time.Second
	domain := urlnorm.Domain(entry.URL)

	var text string
	var links []string
	var isPDF = strings.HasSuffix(strings.ToLower(path(entry.URL)), ".pdf")

	if isPDF {
		var fr *ports.FetchResult
		err := e.fetchWithRetry(ctx, func() error {
			var ferr error
			fr, ferr = e.deps.Fetcher.FetchStatic(ctx, entry.URL, timeout)
			return ferr
		})
		if err != nil {
			return e.handleFetchError(entry, domain, "pdf", err), ""
		}
		text, _ = fetch.ExtractPDF(fr.Body)
	} else if e.cfg.Mode == model.ModeThorough {
		var rr *ports.RenderResult
		err := e.fetchWithRetry(ctx, func() error {
			var rerr error
			rr, rerr = e.deps.Fetcher.FetchRendered(ctx, entry.URL, timeout, 1366, 768)
			return rerr
		})
		if err != nil {
			return e.handleFetchError(entry, domain, "rendered", err), ""
		}
		text, links = rr.Text, rr.Links
	} else {
		var fr *ports.FetchResult
		err := e.fetchWithRetry(ctx, func() error {
			var ferr error
			fr, ferr = e.deps.Fetcher.FetchStatic(ctx, entry.URL, timeout)
			return ferr
		})
		if err != nil {
			return e.handleFetchError(entry, domain, "static", err), ""
		}
		extractedText, extractedLinks, exErr := fetch.ExtractHTML(fr.Body)
		if exErr == nil {
			text, links = extractedText, extractedLinks
		}
		if looksLikeSPA(text, fr.Body) {
			if rr, err := e.deps.Fetcher.FetchRendered(ctx, entry.URL, timeout, 1366, 768); err == nil {
				text, links = rr.Text, rr.Links
			}
		}
	}

	hash := contentHash(text)
	wasDup := e.contentHashes[hash]
	if !wasDup && hash != emptyHash {
		e.contentHashes[hash] = true
	}

	pageType := urlnorm.Classify(entry.URL)
	pageType = refinePageType(pageType, text)

	page := model.Page{
		URL:           entry.URL,
		PageType:      pageType,
		ContentHash:   hash,
		ExtractedText: text,
		IsExternal:    urlnorm.Domain(entry.URL) != e.domain,
	}

	e.pagesCrawled++

	discovered := e.enqueueLinks(entry.Depth, links)

	return &Result{Page: page, Links: discovered, WasDup: wasDup}, ""
}

func (e *Engine) enqueueLinks(parentDepth int, links []string) []DiscoveredLink {
	var out []DiscoveredLink
	nextDepth := parentDepth + 1
	for _, raw := range links {
		resolved := resolveLink(e.startURL, raw)
		if resolved == "" {
			continue
		}
		if e.isExcluded(resolved) {
			continue
		}

		host := urlnorm.Domain(resolved)
		inDomain := host == e.domain
		platform := socialPlatform(host)

		if !inDomain && platform == "" {
			continue // off-domain, not a recognized social profile
		}
		if !inDomain && platform != "" {
			if !e.socialFollowEnabled(platform) {
				continue
			}
			if e.externalCaps[platform] <= 0 {
				continue
			}
			e.externalCaps[platform]--
		}
		if e.cfg.MaxDepth > 0 && nextDepth > e.cfg.MaxDepth {
			continue
		}

		if e.frontier.Push(resolved, nextDepth) {
			out = append(out, DiscoveredLink{URL: resolved, IsExternal: !inDomain})
		}
	}
	return out
}

func (e *Engine) socialFollowEnabled(platform string) bool {
	switch platform {
	case "linkedin":
		return e.cfg.FollowLinkedIn
	case "twitter":
		return e.cfg.FollowTwitter
	case "facebook":
		return e.cfg.FollowFacebook
	}
	return false
}

func (e *Engine) isExcluded(rawURL string) bool {
	p := path(rawURL)
	for _, g := range e.exclude {
		if g.Match(p) {
			return true
		}
	}
	return false
}

// PagesCrawled returns the running count for this crawl.
func (e *Engine) PagesCrawled() int { return e.pagesCrawled }

// ContentHashes returns the set of content hashes seen so far, for
// checkpoint/recovery round-tripping.
func (e *Engine) ContentHashes() map[string]bool { return e.contentHashes }

const emptyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func contentHash(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func scheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return "https"
	}
	return u.Scheme
}

func path(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

func resolveLink(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := baseURL.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return urlnorm.Normalize(resolved.String())
}

func socialPlatform(host string) string {
	switch {
	case strings.Contains(host, "linkedin.com"):
		return "linkedin"
	case strings.Contains(host, "twitter.com"), strings.Contains(host, "x.com"):
		return "twitter"
	case strings.Contains(host, "facebook.com"):
		return "facebook"
	}
	return ""
}

func refinePageType(pt model.PageType, text string) model.PageType {
	return urlnorm.ClassifyContent(pt, firstWords(text, 200))
}

func firstWords(text string, n int) string {
	if len(text) <= n {
		return text
	}
	return text[:n]
}

func looksLikeSPA(extractedText string, body []byte) bool {
	return len(extractedText) < 1024 && strings.Contains(strings.ToLower(string(body)), "<script")
}

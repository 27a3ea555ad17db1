// Package robots implements RobotsCache from spec.md §4.2: a per-domain
// robots.txt cache with TTL-based refresh. Structurally this mirrors the
// teacher's internal/engine/robots.go RobotsManager (per-domain cache
// entry, fetchedAt-based staleness, crawl-delay extraction), but replaces
// its hand-rolled parseRobotsTxt/matchRobotsPattern with
// github.com/temoto/robotstxt for correct wildcard/longest-match
// semantics and rule-group precedence.
package robots

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
)

const maxRobotsBodyBytes = 512 * 1024

// entry caches one domain's parsed robots.txt, or the fact that none was
// found, alongside a fetchedAt timestamp used for TTL expiry.
type entry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	fetchErr  bool // true if the last fetch failed (negative cache)
}

// Cache is a thread-safe per-domain robots.txt cache.
type Cache struct {
	httpClient       *http.Client
	userAgent        string
	cacheTTL         time.Duration
	negativeCacheTTL time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
}

// New builds a Cache. userAgent is both the HTTP User-Agent sent when
// fetching robots.txt and the rule-group name matched within it.
func New(userAgent string, fetchTimeout, cacheTTL, negativeCacheTTL time.Duration) *Cache {
	return &Cache{
		httpClient:       &http.Client{Timeout: fetchTimeout},
		userAgent:        userAgent,
		cacheTTL:         cacheTTL,
		negativeCacheTTL: negativeCacheTTL,
		entries:          make(map[string]*entry),
	}
}

// IsAllowed reports whether path may be fetched on domain under the
// cached robots.txt, fetching and caching it first if absent or expired.
// A robots.txt that fails to fetch is treated as permissive (allow-all),
// matching the teacher's fail-open behavior.
func (c *Cache) IsAllowed(ctx context.Context, scheme, domain, path string) (bool, error) {
	e, err := c.get(ctx, scheme, domain)
	if err != nil {
		return true, err
	}
	if e.data == nil {
		return true, nil
	}
	return e.data.TestAgent(path, c.userAgent), nil
}

// CrawlDelay returns the Crawl-delay directive for domain, or 0 if none
// is declared (or robots.txt could not be fetched).
func (c *Cache) CrawlDelay(ctx context.Context, scheme, domain string) (float64, error) {
	e, err := c.get(ctx, scheme, domain)
	if err != nil || e.data == nil {
		return 0, err
	}
	group := e.data.FindGroup(c.userAgent)
	if group == nil {
		return 0, nil
	}
	return group.CrawlDelay.Seconds(), nil
}

// Sitemaps returns the Sitemap: directives declared in domain's
// robots.txt, capped by maxSitemaps per spec.md's MAX_SITEMAPS guard.
func (c *Cache) Sitemaps(ctx context.Context, scheme, domain string, maxSitemaps int) ([]string, error) {
	e, err := c.get(ctx, scheme, domain)
	if err != nil || e.data == nil {
		return nil, err
	}
	sitemaps := e.data.Sitemaps
	if maxSitemaps > 0 && len(sitemaps) > maxSitemaps {
		sitemaps = sitemaps[:maxSitemaps]
	}
	return sitemaps, nil
}

func (c *Cache) get(ctx context.Context, scheme, domain string) (*entry, error) {
	c.mu.RLock()
	e, ok := c.entries[domain]
	c.mu.RUnlock()

	if ok && !c.expired(e) {
		return e, nil
	}

	fetched, ferr := c.fetch(ctx, scheme, domain)

	c.mu.Lock()
	c.entries[domain] = fetched
	c.mu.Unlock()

	return fetched, ferr
}

func (c *Cache) expired(e *entry) bool {
	ttl := c.cacheTTL
	if e.fetchErr {
		ttl = c.negativeCacheTTL
	}
	return time.Since(e.fetchedAt) > ttl
}

func (c *Cache) fetch(ctx context.Context, scheme, domain string) (*entry, error) {
	robotsURL := scheme + "://" + domain + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &entry{fetchedAt: time.Now(), fetchErr: true}, nil
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &entry{fetchedAt: time.Now(), fetchErr: true}, ciraerr.Wrap(ciraerr.CodeTransient, "fetch robots.txt for "+domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &entry{fetchedAt: time.Now()}, nil
	}
	if resp.StatusCode >= 400 {
		return &entry{fetchedAt: time.Now(), fetchErr: true}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return &entry{fetchedAt: time.Now(), fetchErr: true}, nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return &entry{fetchedAt: time.Now(), fetchErr: true}, nil
	}

	return &entry{data: data, fetchedAt: time.Now()}, nil
}

// Clear removes every cached entry, used between crawl sessions in tests.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

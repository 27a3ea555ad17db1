package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/ports"
)

var errNoRenderedFetcher = errors.New("no rendered fetcher configured")

// CompositeFetcher implements ports.Fetcher by delegating to a
// StaticFetcher and a RenderedFetcher, the pairing crawler.Engine expects
// from a single Fetcher dependency (spec.md §4.4 steps 3-4's quick/
// thorough branching). The rendered leg is optional: a process that never
// runs thorough-mode crawls can pass a nil *RenderedFetcher and any
// FetchRendered call fails closed rather than panicking.
type CompositeFetcher struct {
	static   *StaticFetcher
	rendered *RenderedFetcher
}

// NewCompositeFetcher pairs a StaticFetcher with a RenderedFetcher.
func NewCompositeFetcher(static *StaticFetcher, rendered *RenderedFetcher) *CompositeFetcher {
	return &CompositeFetcher{static: static, rendered: rendered}
}

// FetchStatic delegates to the wrapped StaticFetcher.
func (c *CompositeFetcher) FetchStatic(ctx context.Context, url string, timeout time.Duration) (*ports.FetchResult, error) {
	return c.static.FetchStatic(ctx, url, timeout)
}

// FetchRendered delegates to the wrapped RenderedFetcher, if one was
// configured.
func (c *CompositeFetcher) FetchRendered(ctx context.Context, url string, timeout time.Duration, viewportW, viewportH int) (*ports.RenderResult, error) {
	if c.rendered == nil {
		return nil, &ciraerr.Permanent{Op: "fetch rendered", Cause: errNoRenderedFetcher}
	}
	return c.rendered.FetchRendered(ctx, url, timeout, viewportW, viewportH)
}

// Close releases both underlying fetchers' resources.
func (c *CompositeFetcher) Close() error {
	if c.static != nil {
		_ = c.static.Close()
	}
	if c.rendered != nil {
		return c.rendered.Close()
	}
	return nil
}

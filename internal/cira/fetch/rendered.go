package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/ports"
)

// RenderedFetcher drives a headless Chromium instance via go-rod,
// generalizing the teacher's internal/fetcher/browser.go BrowserFetcher
// (launch flags, page pool, stealth patching, WaitStable settle) onto the
// ports.Fetcher.FetchRendered contract: it returns extracted text and
// discovered links rather than raw HTML, since the CrawlEngine (not the
// fetcher) owns text/link extraction policy for static fetches and this
// keeps both paths producing comparable output.
type RenderedFetcher struct {
	browser  *rod.Browser
	mu       sync.Mutex
	pagePool chan *rod.Page
	maxPages int
}

// NewRenderedFetcher launches a stealth-patched headless Chromium.
func NewRenderedFetcher(maxPages int) (*RenderedFetcher, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	launchURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	if maxPages < 1 {
		maxPages = 4
	}
	return &RenderedFetcher{
		browser:  browser,
		pagePool: make(chan *rod.Page, maxPages),
		maxPages: maxPages,
	}, nil
}

func (rf *RenderedFetcher) getPage() (*rod.Page, error) {
	select {
	case p := <-rf.pagePool:
		return p, nil
	default:
		p, err := stealth.Page(rf.browser)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func (rf *RenderedFetcher) putPage(p *rod.Page) {
	select {
	case rf.pagePool <- p:
	default:
		p.Close()
	}
}

// FetchRendered implements ports.Fetcher: navigates to url, waits for the
// page to settle, and extracts visible text plus outbound links.
func (rf *RenderedFetcher) FetchRendered(ctx context.Context, url string, timeout time.Duration, viewportW, viewportH int) (*ports.RenderResult, error) {
	page, err := rf.getPage()
	if err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodeTransient, "acquire browser page for "+url, err)
	}
	defer rf.putPage(page)

	if viewportW > 0 && viewportH > 0 {
		_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  viewportW,
			Height: viewportH,
		})
	}

	if err := page.Timeout(timeout).Navigate(url); err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodeTransient, "navigate "+url, err)
	}
	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		// Page still rendered something; proceed with whatever loaded rather
		// than failing the whole fetch over an unstable-DOM timeout.
	}

	html, err := page.HTML()
	if err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodeTransient, "read rendered HTML for "+url, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodePermanent, "parse rendered HTML for "+url, err)
	}

	text := doc.Find("body").Text()

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
	})

	return &ports.RenderResult{Text: text, Links: links}, nil
}

func (rf *RenderedFetcher) Close() error {
	return rf.browser.Close()
}

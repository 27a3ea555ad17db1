// Package fetch implements ports.Fetcher: static HTTP fetching, headless-
// browser rendering, and the PDF/sitemap helpers the CrawlEngine needs to
// turn a URL into text. StaticFetcher generalizes the teacher's
// internal/fetcher/http.go HTTPFetcher (custom transport, brotli/gzip/
// deflate decompression, redirect policy, 429 Retry-After surfacing) onto
// the ports.Fetcher boundary, fixing User-Agent to "CIRA Bot/1.0" per
// spec.md §6 rather than rotating a configured pool.
package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/ports"
)

const userAgent = "CIRA Bot/1.0"

// StaticFetcher fetches pages over plain HTTP/HTTPS.
type StaticFetcher struct {
	client       *http.Client
	maxBodySize  int64
	maxRedirects int
}

// NewStaticFetcher builds a StaticFetcher. followRedirects/maxRedirects
// mirror the teacher's redirectPolicy closure exactly.
func NewStaticFetcher(maxBodySize int64, followRedirects bool, maxRedirects int) *StaticFetcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{},
		DisableCompression:  true,
	}

	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if !followRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("max redirects (%d) reached", maxRedirects)
		}
		return nil
	}

	return &StaticFetcher{
		client: &http.Client{
			Transport:     transport,
			CheckRedirect: redirectPolicy,
		},
		maxBodySize:  maxBodySize,
		maxRedirects: maxRedirects,
	}
}

// FetchStatic implements ports.Fetcher.
func (f *StaticFetcher) FetchStatic(ctx context.Context, url string, timeout time.Duration) (*ports.FetchResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodePermanent, "build request for "+url, err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf,*/*;q=0.8")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")

	start := time.Now()
	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodeTransient, "fetch "+url, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(httpResp.Header.Get("Retry-After"))
		return nil, &ciraerr.RateLimited{Op: "fetch " + url, Cause: fmt.Errorf("HTTP 429"), RetryAfter: retryAfter}
	}
	if httpResp.StatusCode >= 500 {
		return nil, ciraerr.Wrap(ciraerr.CodeTransient, "fetch "+url, fmt.Errorf("HTTP %d", httpResp.StatusCode))
	}
	if httpResp.StatusCode >= 400 {
		return nil, ciraerr.Wrap(ciraerr.CodePermanent, "fetch "+url, fmt.Errorf("HTTP %d", httpResp.StatusCode))
	}

	var reader io.Reader = httpResp.Body
	if f.maxBodySize > 0 {
		reader = io.LimitReader(reader, f.maxBodySize)
	}
	reader, err = decompressReader(httpResp, reader)
	if err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodePermanent, "decompress "+url, err)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodeTransient, "read body "+url, err)
	}
	_ = start

	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}

	return &ports.FetchResult{
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       body,
		FinalURL:   httpResp.Request.URL.String(),
	}, nil
}

func decompressReader(resp *http.Response, r io.Reader) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		return gzip.NewReader(r)
	case "deflate":
		return flate.NewReader(r), nil
	case "br":
		return brotli.NewReader(r), nil
	default:
		return r, nil
	}
}

func parseRetryAfter(header string) float64 {
	if header == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil {
		return secs
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t).Seconds()
	}
	return 0
}

func (f *StaticFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

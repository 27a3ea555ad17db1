package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
)

func TestCompositeFetcherFetchStaticDelegates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("static response"))
	}))
	defer srv.Close()

	static := NewStaticFetcher(0, true, 5)
	defer static.Close()
	c := NewCompositeFetcher(static, nil)

	res, err := c.FetchStatic(context.Background(), srv.URL, time.Second)
	if err != nil {
		t.Fatalf("FetchStatic: %v", err)
	}
	if string(res.Body) != "static response" {
		t.Fatalf("Body = %q", res.Body)
	}
}

func TestCompositeFetcherFetchRenderedFailsClosedWithoutRenderedLeg(t *testing.T) {
	static := NewStaticFetcher(0, true, 5)
	defer static.Close()
	c := NewCompositeFetcher(static, nil)

	_, err := c.FetchRendered(context.Background(), "https://example.com", time.Second, 1280, 720)
	if err == nil {
		t.Fatal("expected an error when no rendered fetcher is configured")
	}
	if ciraerr.IsRetryable(err) {
		t.Fatal("missing rendered fetcher should not be classified as retryable")
	}
}

func TestCompositeFetcherCloseClosesStaticLeg(t *testing.T) {
	static := NewStaticFetcher(0, true, 5)
	c := NewCompositeFetcher(static, nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cira-systems/cira-core/internal/cira/clock"
	"github.com/cira-systems/cira-core/internal/cira/fetch"
	"github.com/cira-systems/cira-core/internal/cira/model"
	"github.com/cira-systems/cira-core/internal/cira/ports"
	"github.com/cira-systems/cira-core/internal/cira/ratelimit"
	"github.com/cira-systems/cira-core/internal/cira/robots"
	"github.com/cira-systems/cira-core/internal/cira/storage/memory"
)

type fakeLLM struct{}

func (fakeLLM) Complete(ctx context.Context, prompt string, maxTokens int, timeout time.Duration) (*ports.CompletionResult, error) {
	return &ports.CompletionResult{Text: "generated section text", InputTokens: 10, OutputTokens: 5}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.WriteHeader(http.StatusNotFound)
		case "/start":
			fmt.Fprint(w, `<html><body><p>Acme builds widgets.</p><a href="/about">About</a></body></html>`)
		case "/about":
			fmt.Fprint(w, `<html><body><p>Jane Smith, CEO, founded Acme in 2019.</p></body></html>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestDeps(t *testing.T, store ports.Storage) Deps {
	t.Helper()
	staticFetcher := fetch.NewStaticFetcher(0, true, 5)
	t.Cleanup(func() { staticFetcher.Close() })

	return Deps{
		Storage:                store,
		Fetcher:                fetch.NewCompositeFetcher(staticFetcher, nil),
		LLM:                    fakeLLM{},
		Clock:                  clock.Real{},
		RateGate:               ratelimit.New(1000, 10),
		Robots:                 robots.New("cira-bot", time.Second, time.Minute, time.Minute),
		Logger:                 slog.New(slog.DiscardHandler),
		CheckpointEveryPages:   1000,
		CheckpointEverySeconds: 3600,
		SectionFailureBudget:   0.5,
		AnalysisMaxRetries:     0,
		LLMCallTimeout:         time.Second,
		LLMMaxTokens:           2048,
	}
}

func newTestCompany(startURL string) *model.Company {
	return &model.Company{
		ID:       "c1",
		Name:     "Acme",
		StartURL: startURL,
		Status:   model.CompanyPending,
		ConfigSnapshot: model.CompanyConfig{
			Mode:         model.ModeQuick,
			MaxPages:     10,
			MaxDepth:     5,
			TimeLimitSec: 60,
		},
	}
}

func TestRunnerDrivesCompanyToCompleted(t *testing.T) {
	srv := newTestServer(t)
	store := memory.New()
	company := newTestCompany(srv.URL + "/start")
	if err := store.CreateCompany(t.Context(), company); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}

	r, err := New(newTestDeps(t, store), company)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := r.Run(t.Context())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != model.CompanyCompleted {
		t.Fatalf("Status = %q, want completed", result.Status)
	}
	if result.Phase != model.PhaseCompleted {
		t.Fatalf("Phase = %q, want completed", result.Phase)
	}
	if result.CompletedAt == nil {
		t.Fatal("CompletedAt should be set")
	}

	analyses, err := store.AnalysesForCompany(t.Context(), company.ID)
	if err != nil || len(analyses) != 1 {
		t.Fatalf("AnalysesForCompany: %v, %v", analyses, err)
	}
	if analyses[0].Version != 1 {
		t.Fatalf("Version = %d, want 1", analyses[0].Version)
	}
	if analyses[0].ExecutiveSummary == "" {
		t.Fatal("ExecutiveSummary should be populated by runGenerating")
	}

	pages, err := store.PagesForCompany(t.Context(), company.ID)
	if err != nil || len(pages) == 0 {
		t.Fatalf("PagesForCompany: %v, %v", pages, err)
	}
}

func TestNewRejectsCompletedCompany(t *testing.T) {
	store := memory.New()
	company := newTestCompany("https://example.com")
	company.Status = model.CompanyCompleted

	if _, err := New(newTestDeps(t, store), company); err == nil {
		t.Fatal("expected an error constructing a Runner for an already-completed company")
	}
}

func TestPauseRequiresInProgress(t *testing.T) {
	store := memory.New()
	company := newTestCompany("https://example.com")
	r, err := New(newTestDeps(t, store), company)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Pause(); err == nil {
		t.Fatal("Pause should fail before the company is in_progress")
	}
}

func TestPauseIsIdempotent(t *testing.T) {
	store := memory.New()
	company := newTestCompany("https://example.com")
	company.Status = model.CompanyInProgress
	r, err := New(newTestDeps(t, store), company)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Pause(); err != nil {
		t.Fatalf("first Pause: %v", err)
	}
	r.company.Status = model.CompanyInProgress // simulate caller re-wiring state for a second pause attempt
	if err := r.Pause(); err != nil {
		t.Fatalf("second Pause should be a no-op, not an error: %v", err)
	}
}

func TestCancelSetsControlState(t *testing.T) {
	store := memory.New()
	company := newTestCompany("https://example.com")
	r, err := New(newTestDeps(t, store), company)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Cancel()
	if !r.engineControl.IsCancelled() {
		t.Fatal("Cancel should mark the engine control cancelled")
	}
}

func TestRunCrawlingRebuildsContentHashesFromStoredPagesNotVisitedURLs(t *testing.T) {
	srv := newTestServer(t)
	store := memory.New()
	company := newTestCompany(srv.URL + "/start")
	if err := store.CreateCompany(t.Context(), company); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}

	deps := newTestDeps(t, store)
	r, err := New(deps, company)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	pagesBefore, err := store.PagesForCompany(t.Context(), company.ID)
	if err != nil || len(pagesBefore) == 0 {
		t.Fatalf("PagesForCompany: %v, %v", pagesBefore, err)
	}

	// Simulate a resume: a checkpoint whose Visited set names something
	// other than the start URL, so a correct content-hash rebuild can only
	// come from the already-stored pages' ContentHash, not from cp.Visited
	// (a URL set that happens to share no members with a content hash).
	company.Status = model.CompanyPending
	if err := store.UpdateCompany(t.Context(), company); err != nil {
		t.Fatalf("UpdateCompany: %v", err)
	}
	cp := &model.Checkpoint{
		Visited:    []string{"https://unrelated.example/not-a-hash"},
		Queued:     []model.QueuedURL{{URL: company.StartURL, Depth: 0}},
		CrawlStart: time.Now(),
	}
	if err := store.SaveCheckpoint(t.Context(), company.ID, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	r2, err := New(deps, company)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r2.runCrawling(t.Context()); err != nil {
		t.Fatalf("runCrawling: %v", err)
	}

	pagesAfter, err := store.PagesForCompany(t.Context(), company.ID)
	if err != nil {
		t.Fatalf("PagesForCompany: %v", err)
	}
	if len(pagesAfter) != len(pagesBefore) {
		t.Fatalf("len(pagesAfter) = %d, want %d: identical content crawled again across a resume boundary should be deduped by content hash, not re-appended", len(pagesAfter), len(pagesBefore))
	}
}

func TestRunCrawlingFailsWhenErrorBudgetExceeded(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.WriteHeader(http.StatusNotFound)
		case "/start":
			fmt.Fprint(w, `<html><body><p>ok</p><a href="/bad1">1</a><a href="/bad2">2</a><a href="/bad3">3</a></body></html>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := memory.New()
	company := newTestCompany(srv.URL + "/start")
	if err := store.CreateCompany(t.Context(), company); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}

	deps := newTestDeps(t, store)
	deps.CrawlFailureBudget = 0.5
	company.Status = model.CompanyInProgress

	r, err := New(deps, company)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.runCrawling(t.Context()); err == nil {
		t.Fatal("3 of 4 crawled pages failing should exceed a 0.5 error budget and fail the crawling phase")
	}
}

func TestAssignSectionRoutesEachName(t *testing.T) {
	var s model.AnalysisSections
	assignSection(&s, model.SectionOverview, "a")
	assignSection(&s, model.SectionBusinessModel, "b")
	assignSection(&s, model.SectionTeam, "c")
	assignSection(&s, model.SectionMarket, "d")
	assignSection(&s, model.SectionTech, "e")
	assignSection(&s, model.SectionInsights, "f")
	assignSection(&s, model.SectionRedFlags, "g")

	if s.Overview != "a" || s.BusinessModel != "b" || s.Team != "c" || s.Market != "d" ||
		s.Tech != "e" || s.Insights != "f" || s.RedFlags != "g" {
		t.Fatalf("s = %+v", s)
	}
}

func TestAssembleSummarySkipsEmptySections(t *testing.T) {
	s := model.AnalysisSections{Overview: "overview text", Market: "market text"}
	summary := assembleSummary(s)
	if summary != "overview text\n\nmarket text" {
		t.Fatalf("summary = %q", summary)
	}
}

// Package pipeline implements PipelineRunner from spec.md §4.5: the
// per-company state machine driving queued → crawling → extracting →
// analyzing → generating → completed, with pause/resume/fail transitions
// and recovery. Generalizes the teacher's internal/engine/engine.go
// atomic-CAS State machine (Idle/Running/Paused/Stopping/Stopped) onto
// the richer Phase/CompanyStatus pair spec.md's data model requires, and
// borrows its phase orchestration shape from other_examples'
// extraction_analysis_orchestrator.go (crawl → extract → analyze →
// synthesize staged pipeline).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	neturl "net/url"
	"sync/atomic"
	"time"

	"github.com/cira-systems/cira-core/internal/cira/analyze"
	"github.com/cira-systems/cira-core/internal/cira/checkpoint"
	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/crawler"
	"github.com/cira-systems/cira-core/internal/cira/extract"
	"github.com/cira-systems/cira-core/internal/cira/fetch"
	"github.com/cira-systems/cira-core/internal/cira/frontier"
	"github.com/cira-systems/cira-core/internal/cira/metrics"
	"github.com/cira-systems/cira-core/internal/cira/model"
	"github.com/cira-systems/cira-core/internal/cira/ports"
	"github.com/cira-systems/cira-core/internal/cira/ratelimit"
	"github.com/cira-systems/cira-core/internal/cira/robots"
	"github.com/cira-systems/cira-core/internal/cira/urlnorm"
)

// state mirrors the teacher's atomic.Int32 CAS pattern for pause/resume,
// applied here to a company rather than a whole engine instance.
type state int32

const (
	stateRunning state = iota
	statePaused
	stateCancelled
)

// Deps bundles the process-wide singletons a Runner needs, wired
// explicitly by the caller (typically BatchScheduler) rather than looked
// up from a global.
type Deps struct {
	Storage  ports.Storage
	Fetcher  ports.Fetcher
	LLM      ports.LLM
	Clock    ports.Clock
	RateGate *ratelimit.Gate
	Robots   *robots.Cache
	Logger   *slog.Logger
	Metrics  *metrics.Registry // optional; nil disables instrumentation

	CheckpointEveryPages   int
	CheckpointEverySeconds int
	SectionFailureBudget   float64
	AnalysisMaxRetries     int
	LLMCallTimeout         time.Duration
	LLMMaxTokens           int

	CrawlMaxRetries    int
	CrawlFailureBudget float64

	// StaleThreshold is how old an in_progress company's checkpoint can be
	// before control.Surface.RecoverStale marks it failed instead of
	// resuming it (spec.md §4.5, STALE_THRESHOLD).
	StaleThreshold time.Duration
}

// Runner executes one company's pipeline to completion, failure, or
// paused state. A Runner instance is single-use: callers create one per
// run attempt (including resumes).
type Runner struct {
	deps    Deps
	company *model.Company
	st      atomic.Int32

	engineControl *crawler.Control
	frontier      *frontier.Frontier
}

// New builds a Runner for company, which must be in pending, in_progress,
// or paused status.
func New(deps Deps, company *model.Company) (*Runner, error) {
	switch company.Status {
	case model.CompanyPending, model.CompanyInProgress, model.CompanyPaused:
	default:
		return nil, ciraerr.InvalidState("start pipeline run", string(company.Status))
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		deps:          deps,
		company:       company,
		engineControl: &crawler.Control{},
	}, nil
}

// Run executes phases from the company's current phase through
// completion, a stop condition, or failure. It returns the updated
// Company. Run itself writes the Company when it completes, suspends or
// fails, and saves crawl checkpoints while crawling; the phase changes in
// between are not written to Storage on their own.
func (r *Runner) Run(ctx context.Context) (*model.Company, error) {
	if r.company.Status == model.CompanyPending {
		r.company.Status = model.CompanyInProgress
		r.company.Phase = model.PhaseQueued
		now := r.deps.Clock.NowUTC()
		r.company.StartedAt = &now
	}
	r.deps.Logger.Info("pipeline run starting", "companyId", r.company.ID, "startUrl", r.company.StartURL)

	r.company.Phase = model.PhaseCrawling
	if err := r.runCrawling(ctx); err != nil {
		r.deps.Logger.Error("crawling phase failed", "companyId", r.company.ID, "err", err)
		return r.fail(ctx, err)
	}
	if r.st.Load() == int32(statePaused) {
		r.deps.Logger.Info("pipeline paused", "companyId", r.company.ID)
		return r.suspend(ctx)
	}

	r.company.Phase = model.PhaseExtracting
	entities, err := r.runExtracting(ctx)
	if err != nil {
		r.deps.Logger.Error("extracting phase failed", "companyId", r.company.ID, "err", err)
		return r.fail(ctx, err)
	}

	r.company.Phase = model.PhaseAnalyzing
	analysis, err := r.runAnalyzing(ctx, entities)
	if err != nil {
		r.deps.Logger.Error("analyzing phase failed", "companyId", r.company.ID, "err", err)
		return r.fail(ctx, err)
	}

	r.company.Phase = model.PhaseGenerating
	if err := r.runGenerating(ctx, analysis); err != nil {
		r.deps.Logger.Error("generating phase failed", "companyId", r.company.ID, "err", err)
		return r.fail(ctx, err)
	}

	r.company.Phase = model.PhaseCompleted
	r.company.Status = model.CompanyCompleted
	now := r.deps.Clock.NowUTC()
	r.company.CompletedAt = &now

	if err := r.deps.Storage.UpdateCompany(ctx, r.company); err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodeFatal, "persist completed company", err)
	}
	r.deps.Logger.Info("pipeline run completed", "companyId", r.company.ID)
	return r.company, nil
}

// Pause requests a transition to paused; only valid while in_progress.
// Double-pause is a no-op, per spec.md §8's idempotence requirement.
func (r *Runner) Pause() error {
	if r.company.Status != model.CompanyInProgress {
		return ciraerr.InvalidState("pause", string(r.company.Status))
	}
	r.engineControl.Pause()
	r.st.Store(int32(statePaused))
	return nil
}

// Cancel requests cooperative cancellation from any phase.
func (r *Runner) Cancel() {
	r.engineControl.Cancel()
	r.st.Store(int32(stateCancelled))
}

func (r *Runner) runCrawling(ctx context.Context) error {
	cp, f, err := checkpoint.Restore(ctx, r.deps.Storage, r.company.ID)
	if err != nil {
		return err
	}
	r.frontier = f

	var contentHashes map[string]bool
	var externalFound []string
	var currentDepth int
	crawlStart := r.deps.Clock.Now()
	if cp != nil {
		externalFound = cp.ExternalFound
		currentDepth = cp.CurrentDepth
		crawlStart = cp.CrawlStart

		// contentHashes dedups by page content, not by URL: cp.Visited is the
		// frontier's visited-URL set (consumed by frontier.Restore above),
		// which is the wrong universe for SHA-256 content dedup. Rebuild it
		// from already-stored pages so two distinct URLs serving identical
		// content across a pause/resume boundary are still caught.
		priorPages, err := r.deps.Storage.PagesForCompany(ctx, r.company.ID)
		if err != nil {
			return ciraerr.Wrap(ciraerr.CodeFatal, "load pages for resume dedup", err)
		}
		contentHashes = make(map[string]bool, len(priorPages))
		for _, p := range priorPages {
			if p.ContentHash != "" {
				contentHashes[p.ContentHash] = true
			}
		}
	}

	eng, err := crawler.New(crawler.Deps{
		Fetcher:    r.deps.Fetcher,
		RateGate:   r.deps.RateGate,
		Robots:     r.deps.Robots,
		Clock:      r.deps.Clock,
		Logger:     r.deps.Logger.With("companyId", r.company.ID),
		Metrics:    r.deps.Metrics,
		MaxRetries: r.deps.CrawlMaxRetries,
	}, r.company.ConfigSnapshot, r.company.StartURL, f, contentHashes)
	if err != nil {
		return err
	}

	if cp == nil {
		var seedURLs []string
		scheme, domain := "https", urlnorm.Domain(r.company.StartURL)
		if u, err := neturl.Parse(r.company.StartURL); err == nil && u.Scheme != "" {
			scheme = u.Scheme
		}
		if sm, err := r.deps.Robots.Sitemaps(ctx, scheme, domain, 50); err == nil && len(sm) > 0 {
			if expanded, err := fetch.ExpandSitemaps(ctx, r.deps.Fetcher, sm, 50, 10000); err == nil {
				seedURLs = expanded
			}
		}
		eng.Seed(seedURLs)
	}

	trigger := checkpoint.NewTrigger(r.deps.CheckpointEveryPages, r.deps.CheckpointEverySeconds, r.deps.Clock)

	var pages []*model.Page
	failedPages := 0
	totalAttempts := 0

	for {
		result, stopReason := eng.Step(ctx, r.engineControl)
		if stopReason != "" {
			r.logStop(stopReason)
			break
		}
		if result == nil {
			continue
		}
		if result.Page.URL != "" {
			totalAttempts++
			switch {
			case result.Failed:
				failedPages++
			case !result.WasDup:
				pages = append(pages, &result.Page)
				if r.deps.Metrics != nil {
					r.deps.Metrics.PagesCrawled.WithLabelValues(r.company.ID).Inc()
				}
			}
			trigger.RecordPage()
		}

		for _, link := range result.Links {
			if link.IsExternal {
				externalFound = append(externalFound, link.URL)
			}
		}

		if trigger.Due() {
			snap := checkpoint.Build(f, externalFound, currentDepth, crawlStart, r.deps.Clock, 0, nil)
			if err := checkpoint.Save(ctx, r.deps.Storage, r.company.ID, snap); err != nil {
				return err
			}
			trigger.Reset()
		}

		if r.st.Load() == int32(statePaused) || r.st.Load() == int32(stateCancelled) {
			break
		}
	}

	if len(pages) > 0 {
		if err := r.deps.Storage.AppendPages(ctx, pages); err != nil {
			return ciraerr.Wrap(ciraerr.CodeFatal, "persist pages", err)
		}
	}

	// Per-stage crawl error budget (spec.md §7): too many permanent/exhausted
	// fetch failures relative to pages attempted fails the whole company
	// rather than silently shipping a partial crawl.
	if totalAttempts > 0 && float64(failedPages)/float64(totalAttempts) > r.deps.CrawlFailureBudget {
		return ciraerr.New(ciraerr.CodeFatal, fmt.Sprintf("more than %.0f%% of crawled pages failed", r.deps.CrawlFailureBudget*100))
	}

	finalSnap := checkpoint.Build(f, externalFound, currentDepth, crawlStart, r.deps.Clock, 0, nil)
	if err := checkpoint.Save(ctx, r.deps.Storage, r.company.ID, finalSnap); err != nil {
		return err
	}

	return nil
}

func (r *Runner) logStop(reason model.StopReason) {
	r.deps.Logger.Info("crawl stopped", "companyId", r.company.ID, "reason", reason)
}

func (r *Runner) runExtracting(ctx context.Context) ([]*model.Entity, error) {
	pages, err := r.deps.Storage.PagesForCompany(ctx, r.company.ID)
	if err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodeFatal, "load pages for extraction", err)
	}

	var all []*model.Entity
	for _, p := range pages {
		all = append(all, extract.FromPage(r.company.ID, p.URL, p.ExtractedText)...)
	}
	merged := extract.Merge(all)

	if err := r.deps.Storage.AppendEntities(ctx, merged); err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodeFatal, "persist entities", err)
	}
	return merged, nil
}

func (r *Runner) runAnalyzing(ctx context.Context, entities []*model.Entity) (*model.Analysis, error) {
	pages, err := r.deps.Storage.PagesForCompany(ctx, r.company.ID)
	if err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodeFatal, "load pages for analysis", err)
	}

	results := analyze.Run(ctx, analyze.Options{
		LLM:         r.deps.LLM,
		Clock:       r.deps.Clock,
		CompanyID:   r.company.ID,
		MaxRetries:  r.deps.AnalysisMaxRetries,
		CallTimeout: r.deps.LLMCallTimeout,
		MaxTokens:   2048,
	}, pages, entities)

	if analyze.FailureBudgetExceeded(results, r.deps.SectionFailureBudget) {
		return nil, ciraerr.New(ciraerr.CodeFatal, fmt.Sprintf("more than %.0f%% of analysis sections failed", r.deps.SectionFailureBudget*100))
	}

	sections := model.AnalysisSections{}
	var usage []*model.TokenUsage
	for _, res := range results {
		assignSection(&sections, res.Section, res.Text)
		if !res.Failed {
			u := res.Usage
			usage = append(usage, &u)
			if r.deps.Metrics != nil {
				r.deps.Metrics.LLMTokensUsed.WithLabelValues("input").Add(float64(u.InputTokens))
				r.deps.Metrics.LLMTokensUsed.WithLabelValues("output").Add(float64(u.OutputTokens))
			}
		}
	}
	if len(usage) > 0 {
		if err := r.deps.Storage.AppendTokenUsage(ctx, usage); err != nil {
			return nil, ciraerr.Wrap(ciraerr.CodeFatal, "persist token usage", err)
		}
	}

	prior, err := r.deps.Storage.AnalysesForCompany(ctx, r.company.ID)
	if err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodeFatal, "load prior analyses", err)
	}
	version := 1
	if len(prior) > 0 {
		version = prior[len(prior)-1].Version + 1
	}

	return &model.Analysis{
		CompanyID: r.company.ID,
		Version:   version,
		Sections:  sections,
		CreatedAt: r.deps.Clock.NowUTC(),
	}, nil
}

func assignSection(s *model.AnalysisSections, name model.SectionName, text string) {
	switch name {
	case model.SectionOverview:
		s.Overview = text
	case model.SectionBusinessModel:
		s.BusinessModel = text
	case model.SectionTeam:
		s.Team = text
	case model.SectionMarket:
		s.Market = text
	case model.SectionTech:
		s.Tech = text
	case model.SectionInsights:
		s.Insights = text
	case model.SectionRedFlags:
		s.RedFlags = text
	}
}

func (r *Runner) runGenerating(ctx context.Context, analysis *model.Analysis) error {
	analysis.ExecutiveSummary = assembleSummary(analysis.Sections)

	if err := r.deps.Storage.SaveAnalysis(ctx, analysis); err != nil {
		return ciraerr.Wrap(ciraerr.CodeFatal, "save analysis", err)
	}
	return r.deps.Storage.PruneOldAnalyses(ctx, r.company.ID, model.MaxRetainedVersions)
}

func assembleSummary(s model.AnalysisSections) string {
	parts := []string{s.Overview, s.BusinessModel, s.Team, s.Market}
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	summary := ""
	for i, p := range nonEmpty {
		if i > 0 {
			summary += "\n\n"
		}
		summary += p
	}
	return summary
}

func (r *Runner) suspend(ctx context.Context) (*model.Company, error) {
	r.company.Status = model.CompanyPaused
	if err := r.deps.Storage.UpdateCompany(ctx, r.company); err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodeFatal, "persist paused company", err)
	}
	return r.company, nil
}

func (r *Runner) fail(ctx context.Context, cause error) (*model.Company, error) {
	r.company.Status = model.CompanyFailed
	r.company.FailureReason = cause.Error()
	if err := r.deps.Storage.UpdateCompany(ctx, r.company); err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodeFatal, "persist failed company", err)
	}
	return r.company, cause
}

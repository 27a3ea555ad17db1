// Package control implements the exposed control surface from spec.md
// §6: the operations an outer caller (CLI, API, scheduler cron) drives
// the processing core through — createCompany, start/pause/resume/
// rescan/deleteCompany, snapshotProgress, batch lifecycle, and
// compareVersions. It is the single place that wires PipelineRunner,
// BatchScheduler, and Storage together; nothing below this package
// constructs its own dependencies. Modeled on the teacher's
// cmd/webstalk/main.go command-dispatch shape, generalized from CLI
// subcommands directly invoking the engine to a typed Go API any
// frontend (CLI, HTTP handler) can call.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cira-systems/cira-core/internal/cira/checkpoint"
	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/diff"
	"github.com/cira-systems/cira-core/internal/cira/model"
	"github.com/cira-systems/cira-core/internal/cira/pipeline"
	"github.com/cira-systems/cira-core/internal/cira/ports"
	"github.com/cira-systems/cira-core/internal/cira/scheduler"
)

// leaseStaleAfter bounds how long a lease survives without a checkpoint
// refresh before another owner may steal it (spec.md §4.3's crash
// recovery: a worker that died mid-crawl must not wedge its company
// forever).
const leaseStaleAfter = 10 * time.Minute

// Surface is the control interface. One Surface per process; it is safe
// for concurrent use.
type Surface struct {
	storage   ports.Storage
	scheduler *scheduler.Scheduler
	pipeDeps  pipeline.Deps
	ownerID   string
}

// New builds a Surface. pipeDeps supplies every capability a Runner
// needs (storage, fetcher, LLM, clock, rate gate, robots cache, and the
// checkpoint/retry/budget tunables); pipeDeps.Storage and storage must
// be the same instance.
func New(storage ports.Storage, pipeDeps pipeline.Deps, globalConcurrency int, ownerID string) *Surface {
	s := &Surface{storage: storage, pipeDeps: pipeDeps, ownerID: ownerID}
	s.scheduler = scheduler.New(storage, s.newRunner, globalConcurrency)
	if pipeDeps.Logger != nil {
		s.scheduler.WithLogger(pipeDeps.Logger.With("component", "scheduler"))
	}
	if pipeDeps.Metrics != nil {
		s.scheduler.WithMetrics(pipeDeps.Metrics)
	}
	return s
}

func (s *Surface) newRunner(company *model.Company) (*pipeline.Runner, error) {
	return pipeline.New(s.pipeDeps, company)
}

// CreateCompany registers a new research subject in pending status.
func (s *Surface) CreateCompany(ctx context.Context, name, startURL string, cfg model.CompanyConfig) (*model.Company, error) {
	if name == "" || startURL == "" {
		return nil, ciraerr.Validation("name and startUrl are required")
	}
	c := &model.Company{
		ID:             uuid.NewString(),
		Name:           name,
		StartURL:       startURL,
		Mode:           cfg.Mode,
		Status:         model.CompanyPending,
		Phase:          model.PhaseQueued,
		ConfigSnapshot: cfg,
		CreatedAt:      s.pipeDeps.Clock.NowUTC(),
	}
	if err := s.storage.CreateCompany(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// StartCompany acquires the company's processing lease and runs its
// pipeline synchronously to completion, suspension, or failure. Callers
// driving many companies concurrently should instead register the
// company under a batch and let BatchScheduler dispatch it.
func (s *Surface) StartCompany(ctx context.Context, companyID string) (*model.Company, error) {
	ok, err := s.storage.AcquireLease(ctx, companyID, s.ownerID, leaseStaleAfter)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ciraerr.InvalidState("start company", "lease held by another owner")
	}
	defer s.storage.ReleaseLease(ctx, companyID, s.ownerID)

	company, err := s.storage.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	runner, err := pipeline.New(s.pipeDeps, company)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx)
}

// RecoverStale implements spec.md §4.5's process-start recovery: every
// in_progress company is either resumed (checkpoint still fresh, reset to
// pending so the next sweep restores it) or marked failed with reason
// "stale" (checkpoint older than pipeDeps.StaleThreshold, or missing
// entirely), so a worker that died mid-crawl never wedges its companies
// forever. Callers invoke this once at process startup, before the first
// scheduling sweep.
func (s *Surface) RecoverStale(ctx context.Context) error {
	inProgress, err := s.storage.ListCompaniesByStatus(ctx, model.CompanyInProgress, time.Time{})
	if err != nil {
		return err
	}
	now := s.pipeDeps.Clock.Now()
	for _, c := range inProgress {
		cp, err := s.storage.LoadCheckpoint(ctx, c.ID)
		stale := true
		if err == nil {
			stale = checkpoint.IsStale(cp, now, s.pipeDeps.StaleThreshold)
		} else if ce, ok := err.(*ciraerr.Error); !ok || ce.Code != ciraerr.CodeNotFound {
			return err
		}

		if stale {
			c.Status = model.CompanyFailed
			c.FailureReason = "stale"
		} else {
			c.Status = model.CompanyPending
		}
		if err := s.storage.UpdateCompany(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// PauseCompany requests a graceful pause on a company currently running
// under the Scheduler (i.e. dispatched as part of a batch). It is a
// no-op error if the company has no in-flight Runner — a company run
// directly via StartCompany is not tracked here and can only be
// interrupted by cancelling the context passed to StartCompany.
func (s *Surface) PauseCompany(ctx context.Context, companyID string) error {
	found, err := s.scheduler.PauseRunningCompany(companyID)
	if err != nil {
		return err
	}
	if !found {
		return ciraerr.InvalidState("pause company", "not currently running")
	}
	return nil
}

// ResumeCompany clears a paused company back to pending so the next
// scheduler sweep (or a direct StartCompany call) restores its
// checkpoint and continues crawling where it left off.
func (s *Surface) ResumeCompany(ctx context.Context, companyID string) (*model.Company, error) {
	c, err := s.storage.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CompanyPaused {
		return nil, ciraerr.InvalidState("resume company", string(c.Status))
	}
	c.Status = model.CompanyPending
	if err := s.storage.UpdateCompany(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RescanCompany clears a completed or failed company's checkpoint and
// requeues it for a fresh crawl, per spec.md §6's rescan operation: a
// full recrawl rather than an incremental refresh.
func (s *Surface) RescanCompany(ctx context.Context, companyID string) (*model.Company, error) {
	c, err := s.storage.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case model.CompanyCompleted, model.CompanyFailed:
	default:
		return nil, ciraerr.InvalidState("rescan company", string(c.Status))
	}
	c.Status = model.CompanyPending
	c.Phase = model.PhaseQueued
	c.CheckpointRef = ""
	c.FailureReason = ""
	c.CompletedAt = nil
	if err := s.storage.UpdateCompany(ctx, c); err != nil {
		return nil, err
	}
	// A fresh crawl must not resume the old checkpoint: clearing it
	// makes checkpoint.Restore report no checkpoint, so the next run
	// reseeds the frontier from the start URL and sitemaps rather than
	// restoring the (empty, post-completion) old frontier state.
	if err := s.storage.DeleteCheckpoint(ctx, companyID); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCompany removes a company and its associated pages/entities/
// analyses/token-usage records (cascade, per spec.md §6).
func (s *Surface) DeleteCompany(ctx context.Context, companyID string) error {
	c, err := s.storage.GetCompany(ctx, companyID)
	if err != nil {
		return err
	}
	if c.Status == model.CompanyInProgress {
		return ciraerr.InvalidState("delete company", string(c.Status))
	}
	return s.storage.DeleteCompany(ctx, companyID)
}

// Progress is the on-demand snapshot spec.md §6 returns from
// snapshotProgress: no streaming, just the company's current
// phase/status plus page and token counters as of this call.
type Progress struct {
	CompanyID    string              `json:"companyId"`
	Status       model.CompanyStatus `json:"status"`
	Phase        model.Phase         `json:"phase"`
	PagesCrawled int                 `json:"pagesCrawled"`
	TokensUsed   int64               `json:"tokensUsed"`
	EstCost      float64             `json:"estCost"`
}

// SnapshotProgress computes a Company's current progress on demand.
func (s *Surface) SnapshotProgress(ctx context.Context, companyID string) (*Progress, error) {
	c, err := s.storage.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	pages, err := s.storage.PagesForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return &Progress{
		CompanyID:    c.ID,
		Status:       c.Status,
		Phase:        c.Phase,
		PagesCrawled: len(pages),
		TokensUsed:   c.TokensUsed,
		EstCost:      c.EstCost,
	}, nil
}

// CreateBatch registers a BatchJob grouping companyIDs under a fair-
// share scheduling unit and marks each company's BatchID.
func (s *Surface) CreateBatch(ctx context.Context, name string, priority, perBatchConcurrencyCap int, companyIDs []string) (*model.BatchJob, error) {
	if len(companyIDs) == 0 {
		return nil, ciraerr.Validation("batch requires at least one company")
	}
	b := &model.BatchJob{
		ID:                     uuid.NewString(),
		Name:                   name,
		Priority:               priority,
		Status:                 model.BatchPending,
		PerBatchConcurrencyCap: perBatchConcurrencyCap,
		CompanyIDs:             companyIDs,
		Counts:                 model.BatchCounts{Total: len(companyIDs), Pending: len(companyIDs)},
		CreatedAt:              s.pipeDeps.Clock.NowUTC(),
	}
	if err := s.storage.CreateBatchJob(ctx, b); err != nil {
		return nil, err
	}
	for _, id := range companyIDs {
		c, err := s.storage.GetCompany(ctx, id)
		if err != nil {
			continue
		}
		c.BatchID = b.ID
		_ = s.storage.UpdateCompany(ctx, c)
	}
	return b, nil
}

// StartBatch opens a pending batch for dispatch and runs one scheduling
// sweep immediately; callers re-invoke RunSweep (e.g. on a ticker) to
// pick up companies as concurrency frees.
func (s *Surface) StartBatch(ctx context.Context, batchID string) error {
	b, err := s.storage.GetBatchJob(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status != model.BatchPending {
		return ciraerr.InvalidState("start batch", string(b.Status))
	}
	b.Status = model.BatchProcessing
	if err := s.storage.UpdateBatchJob(ctx, b); err != nil {
		return err
	}
	return s.scheduler.RunBatches(ctx, []string{batchID})
}

// RunSweep re-invokes the scheduler's round-robin dispatch across the
// given batch IDs, filling any freed concurrency slots.
func (s *Surface) RunSweep(ctx context.Context, batchIDs []string) error {
	return s.scheduler.RunBatches(ctx, batchIDs)
}

func (s *Surface) PauseBatch(ctx context.Context, batchID string) error {
	return s.scheduler.Pause(ctx, batchID)
}
func (s *Surface) ResumeBatch(ctx context.Context, batchID string) error {
	return s.scheduler.Resume(ctx, batchID)
}
func (s *Surface) CancelBatch(ctx context.Context, batchID string) error {
	return s.scheduler.Cancel(ctx, batchID)
}

// BatchProgress returns the batch's persisted counts (pending+inProgress
// +succeeded+failed == total always holds, per spec.md §3).
func (s *Surface) BatchProgress(ctx context.Context, batchID string) (model.BatchCounts, error) {
	return s.scheduler.Progress(ctx, batchID)
}

// CompareVersions diffs two Analysis versions for a company and
// classifies team/product/content changes. Content changes come from the
// two versions' sections; team/product changes compare the company's
// current entity set on both sides (no per-version entity snapshot is
// resolved).
func (s *Surface) CompareVersions(ctx context.Context, companyID string, fromVersion, toVersion int) (*diff.ComparisonResult, error) {
	analyses, err := s.storage.AnalysesForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	var v1, v2 *model.Analysis
	for _, a := range analyses {
		if a.Version == fromVersion {
			v1 = a
		}
		if a.Version == toVersion {
			v2 = a
		}
	}
	if v1 == nil || v2 == nil {
		return nil, ciraerr.NotFound("analysis version", fmt.Sprintf("%d or %d", fromVersion, toVersion))
	}

	entities, err := s.storage.EntitiesForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	// Entities are not versioned per analysis snapshot in the current
	// data model, so both sides compare against the same current entity
	// set; team/product changes show up once the next crawl's
	// extraction pass actually adds or removes entities.
	result := diff.CompareVersions(companyID, v1, v2, entities, entities)
	return &result, nil
}

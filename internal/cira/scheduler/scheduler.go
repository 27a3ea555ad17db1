// Package scheduler implements BatchScheduler from spec.md §4.6: it owns
// the global execution budget and performs fair round-robin dispatch
// across active batches, respecting per-batch and global concurrency
// caps, and maintains batch counts as companies complete. Grounded on the
// teacher's internal/distributed/master.go task-assignment sweep
// (Node/Task bookkeeping, AssignTasks round) generalized from
// worker-node assignment to batch-fair company dispatch, and on
// other_examples' law-makers batch-scraper.go bounded-concurrency
// dispatch pattern (a semaphore-per-group used here per-batch instead of
// per-domain).
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/metrics"
	"github.com/cira-systems/cira-core/internal/cira/model"
	"github.com/cira-systems/cira-core/internal/cira/pipeline"
	"github.com/cira-systems/cira-core/internal/cira/ports"
)

// RunnerFactory builds a pipeline.Runner for a company, injected so the
// scheduler never constructs pipeline dependencies itself.
type RunnerFactory func(company *model.Company) (*pipeline.Runner, error)

// Scheduler dispatches companies across registered batches fairly,
// bounded by a global concurrency cap and each batch's own cap.
type Scheduler struct {
	storage   ports.Storage
	newRunner RunnerFactory

	globalConcurrency int
	mu                sync.Mutex
	activeTotal       int
	activePerBatch    map[string]int
	runningCompanies  map[string]*pipeline.Runner
	batchOrder        []string // round-robin cursor order
	logger            *slog.Logger
	metrics           *metrics.Registry // optional; nil disables instrumentation

	wg sync.WaitGroup
}

// WithMetrics attaches a metrics registry, returning the receiver for
// chaining at construction time.
func (s *Scheduler) WithMetrics(reg *metrics.Registry) *Scheduler {
	s.metrics = reg
	return s
}

// New builds a Scheduler.
func New(storage ports.Storage, newRunner RunnerFactory, globalConcurrency int) *Scheduler {
	return &Scheduler{
		storage:           storage,
		newRunner:         newRunner,
		globalConcurrency: globalConcurrency,
		activePerBatch:    make(map[string]int),
		runningCompanies:  make(map[string]*pipeline.Runner),
		logger:            slog.New(slog.DiscardHandler),
	}
}

// WithLogger attaches a logger for dispatch/completion events, returning
// the receiver for chaining at construction time.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// RunBatches performs one fair-share dispatch sweep across batchIDs in
// FIFO registration order, starting as many companies as the global and
// per-batch caps allow. Callers invoke this repeatedly (e.g. on a ticker
// or on every company-completion callback) to keep the schedule filled.
func (s *Scheduler) RunBatches(ctx context.Context, batchIDs []string) error {
	s.mu.Lock()
	s.batchOrder = batchIDs
	s.mu.Unlock()

	for {
		company, batch, ok := s.nextEligible(ctx, batchIDs)
		if !ok {
			return nil
		}
		s.dispatch(ctx, company, batch)
	}
}

// nextEligible walks batches in round-robin order and returns the first
// pending company whose batch and the global budget both have headroom.
// Fairness: a full pass grants at most one company per batch before
// circling back, so two equal-priority batches interleave rather than
// one draining before the other starts (spec.md §8 scenario 5).
func (s *Scheduler) nextEligible(ctx context.Context, batchIDs []string) (*model.Company, *model.BatchJob, bool) {
	s.mu.Lock()
	if s.activeTotal >= s.globalConcurrency {
		s.mu.Unlock()
		return nil, nil, false
	}
	order := append([]string(nil), s.batchOrder...)
	s.mu.Unlock()
	if len(order) == 0 {
		order = batchIDs
	}

	for _, batchID := range order {
		batch, err := s.storage.GetBatchJob(ctx, batchID)
		if err != nil || batch.Status == model.BatchCompleted || batch.Status == model.BatchCancelled || batch.Status == model.BatchPaused {
			continue
		}

		s.mu.Lock()
		atCap := s.activePerBatch[batchID] >= batch.PerBatchConcurrencyCap
		s.mu.Unlock()
		if atCap {
			continue
		}

		for _, companyID := range batch.CompanyIDs {
			company, err := s.storage.GetCompany(ctx, companyID)
			if err != nil || company.Status != model.CompanyPending {
				continue
			}
			s.mu.Lock()
			if s.activeTotal >= s.globalConcurrency || s.activePerBatch[batchID] >= batch.PerBatchConcurrencyCap {
				s.mu.Unlock()
				break
			}
			s.activeTotal++
			s.activePerBatch[batchID]++
			// Rotate the granted batch to the back so the next pass starts
			// with the batch after it.
			for i, id := range s.batchOrder {
				if id == batchID {
					s.batchOrder = append(append([]string(nil), s.batchOrder[i+1:]...), s.batchOrder[:i+1]...)
					break
				}
			}
			s.mu.Unlock()
			s.onCompanyStatusChange(ctx, batch.ID, model.CompanyInProgress)
			return company, batch, true
		}
	}
	return nil, nil, false
}

func (s *Scheduler) dispatch(ctx context.Context, company *model.Company, batch *model.BatchJob) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(batch.ID)

		s.logger.Info("dispatching company", "companyId", company.ID, "batchId", batch.ID)

		runner, err := s.newRunner(company)
		if err != nil {
			s.logger.Error("failed to construct runner", "companyId", company.ID, "err", err)
			s.onCompanyStatusChange(ctx, batch.ID, model.CompanyFailed)
			return
		}

		s.mu.Lock()
		s.runningCompanies[company.ID] = runner
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.CompaniesActive.Inc()
		}

		updated, runErr := runner.Run(ctx)

		s.mu.Lock()
		delete(s.runningCompanies, company.ID)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.CompaniesActive.Dec()
		}

		status := model.CompanyFailed
		if runErr == nil && updated != nil {
			status = updated.Status
		}
		s.logger.Info("company dispatch finished", "companyId", company.ID, "status", status)
		s.onCompanyStatusChange(ctx, batch.ID, status)
	}()
}

func (s *Scheduler) release(batchID string) {
	s.mu.Lock()
	s.activeTotal--
	s.activePerBatch[batchID]--
	s.mu.Unlock()
}

// onCompanyStatusChange updates BatchJob.Counts transactionally, per
// spec.md §9: "BatchScheduler counters ... updates that affect
// eligibility run in a single transaction together with batch counter
// updates." The read-modify-write of the BatchJob runs under s.mu, so
// concurrent status changes within this Scheduler cannot lose an update.
func (s *Scheduler) onCompanyStatusChange(ctx context.Context, batchID string, newStatus model.CompanyStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.storage.GetBatchJob(ctx, batchID)
	if err != nil {
		return
	}

	switch newStatus {
	case model.CompanyCompleted:
		batch.Counts.InProgress--
		batch.Counts.Succeeded++
	case model.CompanyFailed:
		batch.Counts.InProgress--
		batch.Counts.Failed++
	case model.CompanyInProgress:
		batch.Counts.Pending--
		batch.Counts.InProgress++
	}

	if batch.Counts.Pending == 0 && batch.Counts.InProgress == 0 {
		batch.Status = model.BatchCompleted
	}

	if s.metrics != nil {
		s.metrics.BatchQueueDepth.WithLabelValues(batchID).Set(float64(batch.Counts.Pending))
	}

	_ = s.storage.UpdateBatchJob(ctx, batch)
}

// Pause marks a batch paused; in-flight companies finish their current
// step but no new company in that batch is dispatched.
func (s *Scheduler) Pause(ctx context.Context, batchID string) error {
	return s.setBatchStatus(ctx, batchID, model.BatchPaused)
}

// Resume reopens a paused batch for dispatch.
func (s *Scheduler) Resume(ctx context.Context, batchID string) error {
	return s.setBatchStatus(ctx, batchID, model.BatchProcessing)
}

// Cancel stops dispatching new companies from a batch and cancels any
// in-flight runners belonging to it.
func (s *Scheduler) Cancel(ctx context.Context, batchID string) error {
	batch, err := s.storage.GetBatchJob(ctx, batchID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, id := range batch.CompanyIDs {
		if runner, ok := s.runningCompanies[id]; ok {
			runner.Cancel()
		}
	}
	s.mu.Unlock()
	return s.setBatchStatus(ctx, batchID, model.BatchCancelled)
}

// PauseRunningCompany requests a graceful pause on a company's in-flight
// Runner, if one is currently dispatched. Returns false if the company
// has no active Runner (e.g. it is not yet scheduled, or runs outside
// this Scheduler via a direct StartCompany call).
func (s *Scheduler) PauseRunningCompany(companyID string) (bool, error) {
	s.mu.Lock()
	runner, ok := s.runningCompanies[companyID]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, runner.Pause()
}

// CancelRunningCompany requests cooperative cancellation on a company's
// in-flight Runner, if one is currently dispatched.
func (s *Scheduler) CancelRunningCompany(companyID string) bool {
	s.mu.Lock()
	runner, ok := s.runningCompanies[companyID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	runner.Cancel()
	return true
}

func (s *Scheduler) setBatchStatus(ctx context.Context, batchID string, status model.BatchStatus) error {
	batch, err := s.storage.GetBatchJob(ctx, batchID)
	if err != nil {
		return err
	}
	switch batch.Status {
	case model.BatchCompleted, model.BatchCancelled:
		return ciraerr.InvalidState("change batch status", string(batch.Status))
	}
	batch.Status = status
	return s.storage.UpdateBatchJob(ctx, batch)
}

// Progress computes a batch's on-demand progress snapshot from its
// persisted counts, matching spec.md §6's "produced on demand (no
// streaming)" contract.
func (s *Scheduler) Progress(ctx context.Context, batchID string) (model.BatchCounts, error) {
	batch, err := s.storage.GetBatchJob(ctx, batchID)
	if err != nil {
		return model.BatchCounts{}, err
	}
	return batch.Counts, nil
}

// Wait blocks until every dispatched runner goroutine has returned,
// used by tests and graceful-shutdown paths.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Package checkpoint drives when and how a CrawlEngine's progress is
// persisted, generalizing the teacher's internal/engine/checkpoint.go
// CheckpointManager (periodic save trigger + atomic persistence) onto the
// model.Checkpoint schema and ports.Storage boundary spec.md §6 defines.
package checkpoint

import (
	"context"
	"time"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/frontier"
	"github.com/cira-systems/cira-core/internal/cira/model"
	"github.com/cira-systems/cira-core/internal/cira/ports"
)

// Trigger decides whether a checkpoint write is due, tracking both a
// page-count threshold and a wall-clock threshold per spec.md §4.4 step 9
// (CHECKPOINT_EVERY_PAGES=10, CHECKPOINT_EVERY_SECONDS=120).
type Trigger struct {
	everyPages   int
	everySeconds int
	pagesSince   int
	lastWrite    time.Time
	clock        ports.Clock
}

// NewTrigger builds a Trigger anchored at the current clock time.
func NewTrigger(everyPages, everySeconds int, clock ports.Clock) *Trigger {
	return &Trigger{
		everyPages:   everyPages,
		everySeconds: everySeconds,
		lastWrite:    clock.Now(),
		clock:        clock,
	}
}

// RecordPage increments the pages-since-last-checkpoint counter.
func (t *Trigger) RecordPage() {
	t.pagesSince++
}

// Due reports whether a checkpoint is due under either threshold.
func (t *Trigger) Due() bool {
	if t.pagesSince >= t.everyPages {
		return true
	}
	return t.clock.Now().Sub(t.lastWrite) >= time.Duration(t.everySeconds)*time.Second
}

// Reset clears the trigger's counters after a checkpoint write.
func (t *Trigger) Reset() {
	t.pagesSince = 0
	t.lastWrite = t.clock.Now()
}

// Build assembles a model.Checkpoint from live crawl state.
func Build(f *frontier.Frontier, externalFound []string, currentDepth int, crawlStart time.Time, clock ports.Clock, entitiesCount int, sectionsCompleted []string) *model.Checkpoint {
	queued, visited := f.Snapshot()
	return &model.Checkpoint{
		Visited:           visited,
		Queued:            queued,
		ExternalFound:     externalFound,
		CurrentDepth:      currentDepth,
		CrawlStart:        crawlStart,
		LastCheckpoint:    clock.NowUTC(),
		EntitiesCount:     entitiesCount,
		SectionsCompleted: sectionsCompleted,
	}
}

// Save persists a checkpoint atomically via the storage port. Storage
// implementations are expected to make this durable before returning
// (write-temp-then-rename for file-backed stores, a single document
// write for database-backed ones), matching the teacher's CheckpointManager
// atomic-save guarantee.
func Save(ctx context.Context, store ports.Storage, companyID string, cp *model.Checkpoint) error {
	if err := store.SaveCheckpoint(ctx, companyID, cp); err != nil {
		return ciraerr.Wrap(ciraerr.CodeFatal, "checkpoint write failed for "+companyID, err)
	}
	return nil
}

// Restore loads a company's checkpoint and rehydrates a Frontier from it.
// Returns a nil checkpoint, an empty Frontier and a nil error when no
// checkpoint exists yet (fresh crawl).
func Restore(ctx context.Context, store ports.Storage, companyID string) (*model.Checkpoint, *frontier.Frontier, error) {
	cp, err := store.LoadCheckpoint(ctx, companyID)
	if err != nil {
		if ce, ok := err.(*ciraerr.Error); ok && ce.Code == ciraerr.CodeNotFound {
			return nil, frontier.New(), nil
		}
		return nil, nil, err
	}
	f := frontier.New()
	f.Restore(cp.Queued, cp.Visited)
	return cp, f, nil
}

// IsStale reports whether a checkpoint's age exceeds staleThreshold,
// per spec.md §4.5's recovery rule: "in_progress whose last checkpoint is
// newer than STALE_THRESHOLD is resumed; older ones are marked failed".
func IsStale(cp *model.Checkpoint, now time.Time, staleThreshold time.Duration) bool {
	return now.Sub(cp.LastCheckpoint) > staleThreshold
}

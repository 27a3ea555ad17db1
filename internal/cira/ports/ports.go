// Package ports defines the capability interfaces the processing core
// consumes (Storage, Fetcher, LLM, Clock) per spec.md §6. Generalizing
// the teacher's internal/storage.Storage single-method interface, these
// are wired as explicit constructor dependencies throughout — never
// looked up from a global, matching spec.md §9's "explicit per-process
// values wired by the scheduler at startup" re-architecture hint.
package ports

import (
	"context"
	"time"

	"github.com/cira-systems/cira-core/internal/cira/model"
)

// Storage is the transactional persistence boundary for every entity in
// the data model. Implementations must support atomic lease acquisition
// on Company (compare-and-set on leaseOwner) so exactly one PipelineRunner
// ever holds an in_progress company, append-only writes for Page/Entity/
// TokenUsage, and range queries by (status, createdAt).
type Storage interface {
	CreateCompany(ctx context.Context, c *model.Company) error
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	UpdateCompany(ctx context.Context, c *model.Company) error
	DeleteCompany(ctx context.Context, id string) error
	ListCompaniesByStatus(ctx context.Context, status model.CompanyStatus, since time.Time) ([]*model.Company, error)

	// AcquireLease compare-and-sets leaseOwner from "" (or stale) to owner,
	// returning false if another owner already holds a live lease.
	AcquireLease(ctx context.Context, companyID, owner string, staleAfter time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, companyID, owner string) error

	SaveCheckpoint(ctx context.Context, companyID string, cp *model.Checkpoint) error
	LoadCheckpoint(ctx context.Context, companyID string) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, companyID string) error

	AppendPages(ctx context.Context, pages []*model.Page) error
	PagesForCompany(ctx context.Context, companyID string) ([]*model.Page, error)
	ContentHashExists(ctx context.Context, companyID, hash string) (bool, error)

	AppendEntities(ctx context.Context, entities []*model.Entity) error
	EntitiesForCompany(ctx context.Context, companyID string) ([]*model.Entity, error)

	SaveAnalysis(ctx context.Context, a *model.Analysis) error
	AnalysesForCompany(ctx context.Context, companyID string) ([]*model.Analysis, error)
	PruneOldAnalyses(ctx context.Context, companyID string, keep int) error

	AppendTokenUsage(ctx context.Context, usage []*model.TokenUsage) error
	TokenUsageForCompany(ctx context.Context, companyID string) ([]*model.TokenUsage, error)

	CreateBatchJob(ctx context.Context, b *model.BatchJob) error
	GetBatchJob(ctx context.Context, id string) (*model.BatchJob, error)
	UpdateBatchJob(ctx context.Context, b *model.BatchJob) error

	Close() error
}

// FetchResult is the static-fetch outcome: raw status/headers/body.
type FetchResult struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	FinalURL   string
}

// RenderResult is the headless-render fetch outcome: extracted text and
// discovered outbound links, rather than raw bytes.
type RenderResult struct {
	Text  string
	Links []string
}

// Fetcher is the HTTP capability boundary, matching spec.md §6's two
// operations exactly. User-Agent is fixed to "CIRA Bot/1.0" by the
// implementation, not by callers.
type Fetcher interface {
	FetchStatic(ctx context.Context, url string, timeout time.Duration) (*FetchResult, error)
	FetchRendered(ctx context.Context, url string, timeout time.Duration, viewportW, viewportH int) (*RenderResult, error)
}

// CompletionResult is one LLM call's outcome with token accounting for
// TokenUsage records.
type CompletionResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// LLM is the language-model capability boundary. Implementations signal
// retryable failure via ciraerr.Transient/RateLimited and non-retryable
// failure via ciraerr.Permanent.
type LLM interface {
	Complete(ctx context.Context, prompt string, maxTokens int, timeout time.Duration) (*CompletionResult, error)
}

// Clock abstracts time so pipeline/scheduler tests can control elapsed-
// time and timeout accounting deterministically, mirroring the teacher's
// preference for injected dependencies over package-level time.Now calls.
type Clock interface {
	Now() time.Time    // monotonic-safe, for elapsed-time arithmetic
	NowUTC() time.Time // wall-clock, for persisted timestamps
}

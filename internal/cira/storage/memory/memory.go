// Package memory is an in-process ports.Storage reference implementation,
// used by the test suites for crawler/pipeline/scheduler and as the
// default backend for single-process deployments. Structurally it mirrors
// the teacher's internal/storage/file.go JSONStorage in keeping
// everything buffered in memory behind a mutex rather than round-
// tripping to a database, but implements the full transactional surface
// ports.Storage requires (lease CAS, cascade delete, range queries).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/model"
)

// Store is a thread-safe in-memory ports.Storage.
type Store struct {
	mu sync.Mutex

	companies   map[string]*model.Company
	checkpoints map[string]*model.Checkpoint
	pages       map[string][]*model.Page
	entities    map[string][]*model.Entity
	analyses    map[string][]*model.Analysis
	tokenUsage  map[string][]*model.TokenUsage
	batches     map[string]*model.BatchJob
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		companies:   make(map[string]*model.Company),
		checkpoints: make(map[string]*model.Checkpoint),
		pages:       make(map[string][]*model.Page),
		entities:    make(map[string][]*model.Entity),
		analyses:    make(map[string][]*model.Analysis),
		tokenUsage:  make(map[string][]*model.TokenUsage),
		batches:     make(map[string]*model.BatchJob),
	}
}

func cloneCompany(c *model.Company) *model.Company {
	cp := *c
	return &cp
}

func (s *Store) CreateCompany(ctx context.Context, c *model.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[c.ID]; ok {
		return ciraerr.New(ciraerr.CodeValidation, "company "+c.ID+" already exists")
	}
	s.companies[c.ID] = cloneCompany(c)
	return nil
}

func (s *Store) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return nil, ciraerr.NotFound("company", id)
	}
	return cloneCompany(c), nil
}

func (s *Store) UpdateCompany(ctx context.Context, c *model.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[c.ID]; !ok {
		return ciraerr.NotFound("company", c.ID)
	}
	s.companies[c.ID] = cloneCompany(c)
	return nil
}

func (s *Store) DeleteCompany(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[id]; !ok {
		return ciraerr.NotFound("company", id)
	}
	delete(s.companies, id)
	delete(s.checkpoints, id)
	delete(s.pages, id)
	delete(s.entities, id)
	delete(s.analyses, id)
	delete(s.tokenUsage, id)
	return nil
}

func (s *Store) ListCompaniesByStatus(ctx context.Context, status model.CompanyStatus, since time.Time) ([]*model.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Company
	for _, c := range s.companies {
		if c.Status == status && !c.CreatedAt.Before(since) {
			out = append(out, cloneCompany(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AcquireLease implements a compare-and-set: succeeds if leaseOwner is
// empty or its last checkpoint is older than staleAfter.
func (s *Store) AcquireLease(ctx context.Context, companyID, owner string, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[companyID]
	if !ok {
		return false, ciraerr.NotFound("company", companyID)
	}
	if c.LeaseOwner != "" && c.LeaseOwner != owner {
		stale := c.LastCheckpointAt != nil && time.Since(*c.LastCheckpointAt) > staleAfter
		if !stale {
			return false, nil
		}
	}
	c.LeaseOwner = owner
	return true, nil
}

func (s *Store) ReleaseLease(ctx context.Context, companyID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[companyID]
	if !ok {
		return ciraerr.NotFound("company", companyID)
	}
	if c.LeaseOwner == owner {
		c.LeaseOwner = ""
	}
	return nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, companyID string, cp *model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[companyID]; !ok {
		return ciraerr.NotFound("company", companyID)
	}
	cpCopy := *cp
	s.checkpoints[companyID] = &cpCopy
	now := time.Now()
	s.companies[companyID].LastCheckpointAt = &now
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, companyID string) (*model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[companyID]
	if !ok {
		return nil, ciraerr.NotFound("checkpoint", companyID)
	}
	cpCopy := *cp
	return &cpCopy, nil
}

// DeleteCheckpoint clears a company's checkpoint so the next
// checkpoint.Restore reports a fresh crawl, used by rescan.
func (s *Store) DeleteCheckpoint(ctx context.Context, companyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, companyID)
	return nil
}

func (s *Store) AppendPages(ctx context.Context, pages []*model.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pages {
		s.pages[p.CompanyID] = append(s.pages[p.CompanyID], p)
	}
	return nil
}

func (s *Store) PagesForCompany(ctx context.Context, companyID string) ([]*model.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Page, len(s.pages[companyID]))
	copy(out, s.pages[companyID])
	return out, nil
}

func (s *Store) ContentHashExists(ctx context.Context, companyID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pages[companyID] {
		if p.ContentHash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AppendEntities(ctx context.Context, entities []*model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		s.entities[e.CompanyID] = append(s.entities[e.CompanyID], e)
	}
	return nil
}

func (s *Store) EntitiesForCompany(ctx context.Context, companyID string) ([]*model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Entity, len(s.entities[companyID]))
	copy(out, s.entities[companyID])
	return out, nil
}

func (s *Store) SaveAnalysis(ctx context.Context, a *model.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[a.CompanyID] = append(s.analyses[a.CompanyID], a)
	return nil
}

func (s *Store) AnalysesForCompany(ctx context.Context, companyID string) ([]*model.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Analysis, len(s.analyses[companyID]))
	copy(out, s.analyses[companyID])
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// PruneOldAnalyses retains only the most recent `keep` versions, dropping
// the oldest first (spec.md §3: "oldest pruned when count>3").
func (s *Store) PruneOldAnalyses(ctx context.Context, companyID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.analyses[companyID]
	sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	if len(list) > keep {
		list = list[len(list)-keep:]
	}
	s.analyses[companyID] = list
	return nil
}

func (s *Store) AppendTokenUsage(ctx context.Context, usage []*model.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range usage {
		s.tokenUsage[u.CompanyID] = append(s.tokenUsage[u.CompanyID], u)
	}
	return nil
}

func (s *Store) TokenUsageForCompany(ctx context.Context, companyID string) ([]*model.TokenUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.TokenUsage, len(s.tokenUsage[companyID]))
	copy(out, s.tokenUsage[companyID])
	return out, nil
}

func (s *Store) CreateBatchJob(ctx context.Context, b *model.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; ok {
		return ciraerr.New(ciraerr.CodeValidation, "batch "+b.ID+" already exists")
	}
	bCopy := *b
	s.batches[b.ID] = &bCopy
	return nil
}

func (s *Store) GetBatchJob(ctx context.Context, id string) (*model.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, ciraerr.NotFound("batch", id)
	}
	bCopy := *b
	return &bCopy, nil
}

func (s *Store) UpdateBatchJob(ctx context.Context, b *model.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; !ok {
		return ciraerr.NotFound("batch", b.ID)
	}
	bCopy := *b
	s.batches[b.ID] = &bCopy
	return nil
}

func (s *Store) Close() error { return nil }

// Package model holds the persisted entities of the research pipeline:
// Company, CrawlSession, Page, Entity, Analysis, TokenUsage, Checkpoint,
// and BatchJob. These are plain structs carrying both json and bson
// struct tags (kept identical) so the in-memory and MongoDB Storage
// backends serialize field names consistently; the storage layer (an
// external collaborator, see ports.Storage) owns their physical
// representation.
package model

import "time"

// CompanyStatus is the lifecycle status of a Company record.
type CompanyStatus string

const (
	CompanyPending    CompanyStatus = "pending"
	CompanyInProgress CompanyStatus = "in_progress"
	CompanyPaused     CompanyStatus = "paused"
	CompanyCompleted  CompanyStatus = "completed"
	CompanyFailed     CompanyStatus = "failed"
)

// Phase is the current pipeline phase of an in-progress Company.
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseCrawling   Phase = "crawling"
	PhaseExtracting Phase = "extracting"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseGenerating Phase = "generating"
	PhaseCompleted  Phase = "completed"
)

// Mode selects the crawl fetch strategy.
type Mode string

const (
	ModeQuick    Mode = "quick"
	ModeThorough Mode = "thorough"
)

// CompanyConfig is the single enumerated configuration record for a
// Company's crawl. The option set is fixed by this struct type; field
// values are checked by config.ValidateCompanyConfig. JSON/BSON decoding
// into it ignores unknown keys rather than rejecting them.
type CompanyConfig struct {
	Mode              Mode     `json:"mode" bson:"mode"`
	MaxPages          int      `json:"maxPages" bson:"maxPages"`
	MaxDepth          int      `json:"maxDepth" bson:"maxDepth"`
	TimeLimitSec      int      `json:"timeLimitSec" bson:"timeLimitSec"`
	FollowLinkedIn    bool     `json:"followLinkedIn" bson:"followLinkedIn"`
	FollowTwitter     bool     `json:"followTwitter" bson:"followTwitter"`
	FollowFacebook    bool     `json:"followFacebook" bson:"followFacebook"`
	ExclusionPatterns []string `json:"exclusionPatterns" bson:"exclusionPatterns"`
}

// Company is the root research subject.
type Company struct {
	ID               string        `json:"id" bson:"id"`
	Name             string        `json:"name" bson:"name"`
	StartURL         string        `json:"startUrl" bson:"startUrl"`
	Industry         string        `json:"industry,omitempty" bson:"industry,omitempty"`
	Mode             Mode          `json:"mode" bson:"mode"`
	Status           CompanyStatus `json:"status" bson:"status"`
	Phase            Phase         `json:"phase" bson:"phase"`
	ConfigSnapshot   CompanyConfig `json:"configSnapshot" bson:"configSnapshot"`
	TokensUsed       int64         `json:"tokensUsed" bson:"tokensUsed"`
	EstCost          float64       `json:"estCost" bson:"estCost"`
	CreatedAt        time.Time     `json:"createdAt" bson:"createdAt"`
	StartedAt        *time.Time    `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	CheckpointRef    string        `json:"checkpointRef,omitempty" bson:"checkpointRef,omitempty"`
	BatchID          string        `json:"batchId,omitempty" bson:"batchId,omitempty"`
	FailureReason    string        `json:"failureReason,omitempty" bson:"failureReason,omitempty"`
	LeaseOwner       string        `json:"leaseOwner,omitempty" bson:"leaseOwner,omitempty"`
	LastCheckpointAt *time.Time    `json:"lastCheckpointAt,omitempty" bson:"lastCheckpointAt,omitempty"`
}

// CrawlSessionStatus is the lifecycle status of a CrawlSession.
type CrawlSessionStatus string

const (
	SessionActive    CrawlSessionStatus = "active"
	SessionPaused    CrawlSessionStatus = "paused"
	SessionCompleted CrawlSessionStatus = "completed"
	SessionTimeout   CrawlSessionStatus = "timeout"
)

// StopReason explains why a CrawlEngine run ended.
type StopReason string

const (
	StopPageLimit    StopReason = "page_limit"
	StopTimeLimit    StopReason = "time_limit"
	StopFrontierFree StopReason = "frontier_empty"
	StopPaused       StopReason = "paused"
	StopFailed       StopReason = "failed"
)

// CrawlSession is the 1:1 in-progress crawl record owned by the CrawlEngine.
type CrawlSession struct {
	ID                    string             `json:"id" bson:"id"`
	CompanyID             string             `json:"companyId" bson:"companyId"`
	PagesCrawled          int                `json:"pagesCrawled" bson:"pagesCrawled"`
	PagesQueued           int                `json:"pagesQueued" bson:"pagesQueued"`
	DepthReached          int                `json:"depthReached" bson:"depthReached"`
	ExternalLinksFollowed int                `json:"externalLinksFollowed" bson:"externalLinksFollowed"`
	Status                CrawlSessionStatus `json:"status" bson:"status"`
	StopReason            StopReason         `json:"stopReason,omitempty" bson:"stopReason,omitempty"`
	Checkpoint            Checkpoint         `json:"checkpoint" bson:"checkpoint"`
}

// PageType is the canonical categorization used for crawl prioritization.
type PageType string

const (
	PageAbout   PageType = "about"
	PageTeam    PageType = "team"
	PageProduct PageType = "product"
	PageService PageType = "service"
	PageContact PageType = "contact"
	PageCareers PageType = "careers"
	PagePricing PageType = "pricing"
	PageBlog    PageType = "blog"
	PageNews    PageType = "news"
	PageOther   PageType = "other"
)

// PageTypePriority ranks page types for frontier ordering; lower is visited
// sooner. Matches spec.md §4.3 exactly.
var PageTypePriority = map[PageType]int{
	PageAbout:   1,
	PageTeam:    2,
	PageProduct: 3,
	PageService: 4,
	PageContact: 5,
	PageCareers: 6,
	PagePricing: 7,
	PageBlog:    8,
	PageNews:    9,
	PageOther:   10,
}

// Page is an immutable crawled page record.
type Page struct {
	ID            string    `json:"id" bson:"id"`
	CompanyID     string    `json:"companyId" bson:"companyId"`
	URL           string    `json:"url" bson:"url"`
	PageType      PageType  `json:"pageType" bson:"pageType"`
	ContentHash   string    `json:"contentHash" bson:"contentHash"`
	RawBody       []byte    `json:"rawBody,omitempty" bson:"rawBody,omitempty"`
	ExtractedText string    `json:"extractedText" bson:"extractedText"`
	CrawledAt     time.Time `json:"crawledAt" bson:"crawledAt"`
	IsExternal    bool      `json:"isExternal" bson:"isExternal"`
}

// EntityType enumerates the structured fact categories the extractor emits.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrg          EntityType = "org"
	EntityLocation     EntityType = "location"
	EntityProduct      EntityType = "product"
	EntityDate         EntityType = "date"
	EntityMoney        EntityType = "money"
	EntityEmail        EntityType = "email"
	EntityPhone        EntityType = "phone"
	EntityAddress      EntityType = "address"
	EntitySocialHandle EntityType = "social_handle"
	EntityTechStack    EntityType = "tech_stack"
)

// Entity is a structured fact extracted from one or more pages.
type Entity struct {
	ID         string     `json:"id" bson:"id"`
	CompanyID  string     `json:"companyId" bson:"companyId"`
	Type       EntityType `json:"type" bson:"type"`
	Value      string     `json:"value" bson:"value"`
	Context    string     `json:"context" bson:"context"`
	SourceURLs []string   `json:"sourceUrls" bson:"sourceUrls"`
	Confidence float64    `json:"confidence" bson:"confidence"`
}

// AnalysisSections holds the named sub-analyses that compose a brief.
type AnalysisSections struct {
	Overview      string `json:"overview" bson:"overview"`
	BusinessModel string `json:"businessModel" bson:"businessModel"`
	Team          string `json:"team" bson:"team"`
	Market        string `json:"market" bson:"market"`
	Tech          string `json:"tech" bson:"tech"`
	Insights      string `json:"insights" bson:"insights"`
	RedFlags      string `json:"redFlags,omitempty" bson:"redFlags,omitempty"`
}

// SectionName identifies one of the AnalysisSections fields by name, used
// as the unit of work for the Analyzing phase and for TokenUsage.Section.
type SectionName string

const (
	SectionOverview      SectionName = "overview"
	SectionBusinessModel SectionName = "businessModel"
	SectionTeam          SectionName = "team"
	SectionMarket        SectionName = "market"
	SectionTech          SectionName = "tech"
	SectionInsights      SectionName = "insights"
	SectionRedFlags      SectionName = "redFlags"
)

// AllSections is the fixed evaluation order for the Analyzing phase.
var AllSections = []SectionName{
	SectionOverview,
	SectionBusinessModel,
	SectionTeam,
	SectionMarket,
	SectionTech,
	SectionInsights,
	SectionRedFlags,
}

// TokenBreakdown aggregates token usage per section for display.
type TokenBreakdown struct {
	Section      SectionName `json:"section" bson:"section"`
	InputTokens  int64       `json:"inputTokens" bson:"inputTokens"`
	OutputTokens int64       `json:"outputTokens" bson:"outputTokens"`
}

// Analysis is an append-only, versioned brief for a Company.
type Analysis struct {
	ID                string           `json:"id" bson:"id"`
	CompanyID         string           `json:"companyId" bson:"companyId"`
	Version           int              `json:"version" bson:"version"`
	ExecutiveSummary  string           `json:"executiveSummary" bson:"executiveSummary"`
	Sections          AnalysisSections `json:"sections" bson:"sections"`
	TokenBreakdown    []TokenBreakdown `json:"tokenBreakdown" bson:"tokenBreakdown"`
	CreatedAt         time.Time        `json:"createdAt" bson:"createdAt"`
	SignificantChange bool             `json:"significantChange" bson:"significantChange"`
}

// MaxRetainedVersions bounds Analysis retention per company (spec.md §3).
const MaxRetainedVersions = 3

// CallType distinguishes the kind of LLM invocation a TokenUsage row bills.
type CallType string

const (
	CallTypeSectionAnalysis CallType = "section_analysis"
	CallTypeSummary         CallType = "summary"
)

// TokenUsage is an append-only billing record for one LLM call.
type TokenUsage struct {
	ID           string      `json:"id" bson:"id"`
	CompanyID    string      `json:"companyId" bson:"companyId"`
	CallType     CallType    `json:"callType" bson:"callType"`
	Section      SectionName `json:"section,omitempty" bson:"section,omitempty"`
	InputTokens  int64       `json:"inputTokens" bson:"inputTokens"`
	OutputTokens int64       `json:"outputTokens" bson:"outputTokens"`
	Timestamp    time.Time   `json:"timestamp" bson:"timestamp"`
}

// QueuedURL is one frontier entry as persisted in a Checkpoint.
type QueuedURL struct {
	URL      string `json:"url" bson:"url"`
	Priority int    `json:"priority" bson:"priority"`
	Depth    int    `json:"depth" bson:"depth"`
}

// Checkpoint is the authoritative, forward-compatible schema from
// spec.md §6. Unknown is a passthrough bag for fields written by a newer
// version of this software that this version doesn't recognize; they are
// preserved verbatim on re-save.
type Checkpoint struct {
	Visited           []string       `json:"visited" bson:"visited"`
	Queued            []QueuedURL    `json:"queued" bson:"queued"`
	ExternalFound     []string       `json:"externalFound" bson:"externalFound"`
	CurrentDepth      int            `json:"currentDepth" bson:"currentDepth"`
	CrawlStart        time.Time      `json:"crawlStart" bson:"crawlStart"`
	LastCheckpoint    time.Time      `json:"lastCheckpoint" bson:"lastCheckpoint"`
	EntitiesCount     int            `json:"entitiesCount" bson:"entitiesCount"`
	SectionsCompleted []string       `json:"sectionsCompleted" bson:"sectionsCompleted"`
	Unknown           map[string]any `json:"-" bson:"-"`
}

// BatchStatus is the lifecycle status of a BatchJob.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchPaused     BatchStatus = "paused"
	BatchCompleted  BatchStatus = "completed"
	BatchCancelled  BatchStatus = "cancelled"
)

// BatchCounts tracks company status aggregates for a BatchJob. The
// invariant pending+inProgress+succeeded+failed == total holds at every
// observable instant (spec.md §3).
type BatchCounts struct {
	Total      int `json:"total" bson:"total"`
	Pending    int `json:"pending" bson:"pending"`
	InProgress int `json:"inProgress" bson:"inProgress"`
	Succeeded  int `json:"succeeded" bson:"succeeded"`
	Failed     int `json:"failed" bson:"failed"`
}

// BatchJob groups companies under a fair-share scheduling unit.
type BatchJob struct {
	ID                     string      `json:"id" bson:"id"`
	Name                   string      `json:"name" bson:"name"`
	Priority               int         `json:"priority" bson:"priority"`
	Status                 BatchStatus `json:"status" bson:"status"`
	PerBatchConcurrencyCap int         `json:"perBatchConcurrencyCap" bson:"perBatchConcurrencyCap"`
	CompanyIDs             []string    `json:"companyIds" bson:"companyIds"`
	Counts                 BatchCounts `json:"counts" bson:"counts"`
	CreatedAt              time.Time   `json:"createdAt" bson:"createdAt"`
	PauseInFlight          bool        `json:"pauseInFlight" bson:"pauseInFlight"`
}

// Package analyze implements the Analyzing phase of PipelineRunner
// (spec.md §4.5): one LLM call per AnalysisSections field, each receiving
// curated page excerpts and relevant entities, with per-call retry and a
// section-failure budget. Orchestration-wise this plays the role the
// teacher's internal/ai package leaves implicit (LLMClient.Generate is
// called directly by callers with no retry/budget wrapper); the retry-
// with-backoff shape itself is grounded on the teacher's
// scheduler.handleFetchError exponential backoff.
package analyze

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/model"
	"github.com/cira-systems/cira-core/internal/cira/ports"
)

// SectionResult is one section's settled outcome: either text was
// produced, or the section is left empty after exhausting retries.
type SectionResult struct {
	Section model.SectionName
	Text    string
	Usage   model.TokenUsage
	Failed  bool
}

// Options configures a Run.
type Options struct {
	LLM         ports.LLM
	Clock       ports.Clock
	CompanyID   string
	MaxRetries  int
	CallTimeout time.Duration
	MaxTokens   int
}

const maxExcerptChars = 6000

// sectionPrompts gives each section a short task description; the
// curated page excerpt and entity list are appended at call time.
var sectionPrompts = map[model.SectionName]string{
	model.SectionOverview:      "Summarize what this company does, its products, and its market position.",
	model.SectionBusinessModel: "Describe how this company makes money: pricing, customers, channels.",
	model.SectionTeam:          "Summarize the leadership team and notable hires based on the extracted people.",
	model.SectionMarket:        "Assess the company's market, competitors, and positioning.",
	model.SectionTech:          "Summarize the company's technology stack and engineering practices.",
	model.SectionInsights:      "Identify notable strategic insights or growth signals.",
	model.SectionRedFlags:      "Identify any red flags, risks, or concerning signals. If none, say so briefly.",
}

// Run executes one LLM call per section in model.AllSections order,
// returning a settled result for every section. A section's persistent
// failure (after Options.MaxRetries) leaves that section's Text empty
// but Failed true; Run itself never returns an error for individual
// section failures — callers apply the >50% section-failure-budget rule
// from spec.md §4.5 across the returned slice.
func Run(ctx context.Context, opts Options, pages []*model.Page, entities []*model.Entity) []SectionResult {
	excerpt := curateExcerpt(pages)
	entitySummary := summarizeEntities(entities)

	results := make([]SectionResult, 0, len(model.AllSections))
	for _, section := range model.AllSections {
		results = append(results, runSection(ctx, opts, section, excerpt, entitySummary))
	}
	return results
}

func runSection(ctx context.Context, opts Options, section model.SectionName, excerpt, entitySummary string) SectionResult {
	prompt := buildPrompt(section, excerpt, entitySummary)

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-ctx.Done():
				return SectionResult{Section: section, Failed: true}
			case <-time.After(backoff):
			}
		}

		result, err := opts.LLM.Complete(ctx, prompt, opts.MaxTokens, opts.CallTimeout)
		if err == nil {
			return SectionResult{
				Section: section,
				Text:    result.Text,
				Usage: model.TokenUsage{
					CompanyID:    opts.CompanyID,
					CallType:     model.CallTypeSectionAnalysis,
					Section:      section,
					InputTokens:  int64(result.InputTokens),
					OutputTokens: int64(result.OutputTokens),
					Timestamp:    opts.Clock.NowUTC(),
				},
			}
		}

		lastErr = err
		if !ciraerr.IsRetryable(err) {
			break
		}
	}

	_ = lastErr
	return SectionResult{Section: section, Failed: true}
}

// FailureBudgetExceeded reports whether more than the given fraction of
// sections failed, the trigger spec.md §4.5 names for failing the whole
// Analyzing phase rather than just leaving sections empty.
func FailureBudgetExceeded(results []SectionResult, budget float64) bool {
	if len(results) == 0 {
		return false
	}
	failed := 0
	for _, r := range results {
		if r.Failed {
			failed++
		}
	}
	return float64(failed)/float64(len(results)) > budget
}

func buildPrompt(section model.SectionName, excerpt, entitySummary string) string {
	var b strings.Builder
	b.WriteString(sectionPrompts[section])
	b.WriteString("\n\nPage excerpts:\n")
	b.WriteString(excerpt)
	if entitySummary != "" {
		b.WriteString("\n\nExtracted facts:\n")
		b.WriteString(entitySummary)
	}
	return b.String()
}

func curateExcerpt(pages []*model.Page) string {
	var b strings.Builder
	for _, p := range pages {
		if b.Len() >= maxExcerptChars {
			break
		}
		chunk := p.ExtractedText
		remaining := maxExcerptChars - b.Len()
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		fmt.Fprintf(&b, "[%s] %s\n", p.PageType, chunk)
	}
	return b.String()
}

func summarizeEntities(entities []*model.Entity) string {
	var b strings.Builder
	for _, e := range entities {
		fmt.Fprintf(&b, "- %s: %s\n", e.Type, e.Value)
	}
	return b.String()
}

package analyze

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/clock"
	"github.com/cira-systems/cira-core/internal/cira/model"
	"github.com/cira-systems/cira-core/internal/cira/ports"
)

type scriptedLLM struct {
	// calls[i] is the result/error for the i-th call overall (across all
	// sections); once exhausted, the last entry repeats.
	calls   []llmCall
	callLog []string
}

type llmCall struct {
	result *ports.CompletionResult
	err    error
}

func (f *scriptedLLM) Complete(ctx context.Context, prompt string, maxTokens int, timeout time.Duration) (*ports.CompletionResult, error) {
	idx := len(f.callLog)
	f.callLog = append(f.callLog, prompt)
	if idx >= len(f.calls) {
		idx = len(f.calls) - 1
	}
	c := f.calls[idx]
	return c.result, c.err
}

func TestRunProducesOneResultPerSection(t *testing.T) {
	llm := &scriptedLLM{calls: []llmCall{{result: &ports.CompletionResult{Text: "ok", InputTokens: 1, OutputTokens: 1}}}}
	opts := Options{LLM: llm, Clock: clock.Real{}, CompanyID: "c1", MaxRetries: 0, CallTimeout: time.Second, MaxTokens: 100}

	results := Run(t.Context(), opts, nil, nil)
	if len(results) != len(model.AllSections) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(model.AllSections))
	}
	for i, r := range results {
		if r.Failed {
			t.Errorf("section %d (%s) unexpectedly failed", i, r.Section)
		}
		if r.Text != "ok" {
			t.Errorf("section %d Text = %q", i, r.Text)
		}
	}
}

func TestRunSectionSucceedsOnFirstTry(t *testing.T) {
	llm := &scriptedLLM{calls: []llmCall{{result: &ports.CompletionResult{Text: "overview text", InputTokens: 5, OutputTokens: 7}}}}
	opts := Options{LLM: llm, Clock: clock.Real{}, CompanyID: "c1", MaxRetries: 2, CallTimeout: time.Second, MaxTokens: 100}

	r := runSection(t.Context(), opts, model.SectionOverview, "excerpt", "facts")
	if r.Failed {
		t.Fatal("should not have failed")
	}
	if r.Text != "overview text" {
		t.Fatalf("Text = %q", r.Text)
	}
	if r.Usage.InputTokens != 5 || r.Usage.OutputTokens != 7 {
		t.Fatalf("Usage = %+v", r.Usage)
	}
	if r.Usage.Section != model.SectionOverview || r.Usage.CallType != model.CallTypeSectionAnalysis {
		t.Fatalf("Usage = %+v", r.Usage)
	}
}

func TestRunSectionGivesUpAfterNonRetryableError(t *testing.T) {
	llm := &scriptedLLM{calls: []llmCall{{err: ciraerr.New(ciraerr.CodePermanent, "nope")}}}
	opts := Options{LLM: llm, Clock: clock.Real{}, CompanyID: "c1", MaxRetries: 3, CallTimeout: time.Second, MaxTokens: 100}

	r := runSection(t.Context(), opts, model.SectionTeam, "", "")
	if !r.Failed {
		t.Fatal("a permanent error should not be retried and should leave the section failed")
	}
	if len(llm.callLog) != 1 {
		t.Fatalf("expected exactly one call for a non-retryable error, got %d", len(llm.callLog))
	}
}

func TestRunSectionRetriesTransientErrorThenSucceeds(t *testing.T) {
	llm := &scriptedLLM{calls: []llmCall{
		{err: ciraerr.Wrap(ciraerr.CodeTransient, "flaky", errors.New("timeout"))},
		{result: &ports.CompletionResult{Text: "recovered", InputTokens: 1, OutputTokens: 1}},
	}}
	opts := Options{LLM: llm, Clock: clock.Real{}, CompanyID: "c1", MaxRetries: 1, CallTimeout: time.Second, MaxTokens: 100}

	r := runSection(t.Context(), opts, model.SectionMarket, "", "")
	if r.Failed || r.Text != "recovered" {
		t.Fatalf("r = %+v, want a recovered section after one retry", r)
	}
	if len(llm.callLog) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(llm.callLog))
	}
}

func TestRunSectionStopsRetryingOnContextCancellation(t *testing.T) {
	llm := &scriptedLLM{calls: []llmCall{
		{err: ciraerr.Wrap(ciraerr.CodeTransient, "flaky", errors.New("timeout"))},
	}}
	opts := Options{LLM: llm, Clock: clock.Real{}, CompanyID: "c1", MaxRetries: 5, CallTimeout: time.Second, MaxTokens: 100}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := runSection(ctx, opts, model.SectionInsights, "", "")
	if !r.Failed {
		t.Fatal("a cancelled context should leave the section failed, not hang through all retries")
	}
}

func TestFailureBudgetExceeded(t *testing.T) {
	results := []SectionResult{
		{Section: model.SectionOverview, Failed: true},
		{Section: model.SectionTeam, Failed: true},
		{Section: model.SectionMarket, Failed: false},
		{Section: model.SectionTech, Failed: false},
	}
	if FailureBudgetExceeded(results, 0.5) {
		t.Fatal("exactly 50% failed should not exceed a 0.5 budget")
	}
	if !FailureBudgetExceeded(results, 0.4) {
		t.Fatal("50% failed should exceed a 0.4 budget")
	}
}

func TestFailureBudgetExceededEmptyResults(t *testing.T) {
	if FailureBudgetExceeded(nil, 0.1) {
		t.Fatal("no results should never exceed any budget")
	}
}

func TestCurateExcerptTruncatesAtMaxChars(t *testing.T) {
	big := make([]byte, maxExcerptChars*2)
	for i := range big {
		big[i] = 'x'
	}
	pages := []*model.Page{{PageType: model.PageAbout, ExtractedText: string(big)}}
	excerpt := curateExcerpt(pages)
	if len(excerpt) > maxExcerptChars+50 {
		t.Fatalf("len(excerpt) = %d, should be capped near maxExcerptChars", len(excerpt))
	}
}

func TestSummarizeEntitiesListsEachEntity(t *testing.T) {
	entities := []*model.Entity{
		{Type: model.EntityEmail, Value: "hi@acme.com"},
		{Type: model.EntityOrg, Value: "Acme Inc"},
	}
	s := summarizeEntities(entities)
	if s == "" {
		t.Fatal("expected non-empty summary")
	}
}

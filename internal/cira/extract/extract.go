// Package extract implements the Extracting phase of PipelineRunner
// (spec.md §4.5): regex-based structured extraction of Entity records
// from crawled page text, with NER-style heuristics for names and
// organizations. There is no NER library in the teacher's or the wider
// retrieval pack's dependency set, so entity recognition here is
// regex/heuristic, in the same spirit as the teacher's internal/seo and
// internal/automation packages, which also do pattern-based text
// analysis rather than pulling in an NLP library.
package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/cira-systems/cira-core/internal/cira/model"
)

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}`)
	moneyPattern  = regexp.MustCompile(`\$\s?\d[\d,]*(\.\d+)?\s?(million|billion|M|B|k)?`)
	datePattern   = regexp.MustCompile(`\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}\b`)
	handlePattern = regexp.MustCompile(`@[A-Za-z0-9_]{2,30}`)

	titledNamePattern = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z]\.)?\s+[A-Z][a-z]+)\b,?\s+(CEO|CTO|CFO|COO|Founder|Co-Founder|President|VP|Director|Head of [A-Z][a-z]+)\b`)
	orgSuffixPattern  = regexp.MustCompile(`\b([A-Z][A-Za-z0-9&]+(?:\s[A-Z][A-Za-z0-9&]+){0,3}\s(?:Inc|LLC|Ltd|Corp|Corporation|Co|GmbH|PBC))\.?\b`)
)

var techKeywords = []string{
	"Kubernetes", "AWS", "Azure", "GCP", "React", "Go", "Golang", "Python",
	"TypeScript", "PostgreSQL", "MongoDB", "Kafka", "Redis", "Docker",
	"TensorFlow", "PyTorch", "GraphQL", "Rust", "Java", "Snowflake",
}

// FromPage extracts structured Entity records from one page's text. Each
// entity's SourceURLs is seeded with sourceURL; callers merge duplicates
// across pages via Merge.
func FromPage(companyID, sourceURL, text string) []*model.Entity {
	var out []*model.Entity

	add := func(t model.EntityType, value, context string, confidence float64) {
		out = append(out, &model.Entity{
			CompanyID:  companyID,
			Type:       t,
			Value:      value,
			Context:    context,
			SourceURLs: []string{sourceURL},
			Confidence: confidence,
		})
	}

	for _, m := range emailPattern.FindAllString(text, -1) {
		add(model.EntityEmail, strings.ToLower(m), snippetAround(text, m), 0.9)
	}
	for _, m := range phonePattern.FindAllString(text, -1) {
		if len(strings.Map(digitsOnly, m)) < 7 {
			continue
		}
		add(model.EntityPhone, m, snippetAround(text, m), 0.6)
	}
	for _, m := range moneyPattern.FindAllString(text, -1) {
		add(model.EntityMoney, strings.TrimSpace(m), snippetAround(text, m), 0.7)
	}
	for _, m := range datePattern.FindAllString(text, -1) {
		add(model.EntityDate, m, snippetAround(text, m), 0.8)
	}
	for _, m := range handlePattern.FindAllString(text, -1) {
		add(model.EntitySocialHandle, m, snippetAround(text, m), 0.5)
	}
	for _, m := range titledNamePattern.FindAllStringSubmatch(text, -1) {
		add(model.EntityPerson, m[1]+" ("+m[2]+")", snippetAround(text, m[0]), 0.85)
	}
	for _, m := range orgSuffixPattern.FindAllString(text, -1) {
		add(model.EntityOrg, strings.TrimSpace(strings.TrimSuffix(m, ".")), snippetAround(text, m), 0.65)
	}
	for _, kw := range techKeywords {
		if containsWord(text, kw) {
			add(model.EntityTechStack, kw, snippetAround(text, kw), 0.6)
		}
	}

	return out
}

// Merge deduplicates entities by (type, normalizedValue), keeping the
// max confidence and the union of source URLs, per spec.md §4.5.
func Merge(entities []*model.Entity) []*model.Entity {
	type key struct {
		t model.EntityType
		v string
	}
	merged := make(map[key]*model.Entity)
	var order []key

	for _, e := range entities {
		k := key{e.Type, normalizeValue(e.Value)}
		existing, ok := merged[k]
		if !ok {
			cp := *e
			merged[k] = &cp
			order = append(order, k)
			continue
		}
		if e.Confidence > existing.Confidence {
			existing.Confidence = e.Confidence
			existing.Context = e.Context
		}
		existing.SourceURLs = unionStrings(existing.SourceURLs, e.SourceURLs)
	}

	out := make([]*model.Entity, 0, len(order))
	for _, k := range order {
		out = append(out, merged[k])
	}
	return out
}

func normalizeValue(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func digitsOnly(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return -1
}

func containsWord(text, word string) bool {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`).MatchString(text)
}

func snippetAround(text, match string) string {
	idx := strings.Index(text, match)
	if idx == -1 {
		return match
	}
	start := idx - 40
	if start < 0 {
		start = 0
	}
	end := idx + len(match) + 40
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}

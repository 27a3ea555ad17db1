package extract

import (
	"testing"

	"github.com/cira-systems/cira-core/internal/cira/model"
)

func findType(entities []*model.Entity, t model.EntityType) []*model.Entity {
	var out []*model.Entity
	for _, e := range entities {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func TestFromPageExtractsEmail(t *testing.T) {
	entities := FromPage("c1", "https://acme.test", "Contact us at Hello@Acme.com for more info.")
	emails := findType(entities, model.EntityEmail)
	if len(emails) != 1 || emails[0].Value != "hello@acme.com" {
		t.Fatalf("emails = %+v, want lowercased hello@acme.com", emails)
	}
}

func TestFromPageExtractsMoney(t *testing.T) {
	entities := FromPage("c1", "https://acme.test", "We raised $15 million in Series A.")
	money := findType(entities, model.EntityMoney)
	if len(money) != 1 {
		t.Fatalf("money = %+v, want one match", money)
	}
}

func TestFromPageExtractsDate(t *testing.T) {
	entities := FromPage("c1", "https://acme.test", "Founded on March 3, 2019 in San Francisco.")
	dates := findType(entities, model.EntityDate)
	if len(dates) != 1 || dates[0].Value != "March 3, 2019" {
		t.Fatalf("dates = %+v", dates)
	}
}

func TestFromPageExtractsTitledPerson(t *testing.T) {
	entities := FromPage("c1", "https://acme.test", "Jane A. Smith, CEO of the company, announced the news.")
	people := findType(entities, model.EntityPerson)
	if len(people) != 1 {
		t.Fatalf("people = %+v, want one match", people)
	}
}

func TestFromPageExtractsOrgSuffix(t *testing.T) {
	entities := FromPage("c1", "https://acme.test", "Acme Widgets Inc. is headquartered downtown.")
	orgs := findType(entities, model.EntityOrg)
	if len(orgs) != 1 || orgs[0].Value != "Acme Widgets Inc" {
		t.Fatalf("orgs = %+v", orgs)
	}
}

func TestFromPageExtractsTechStack(t *testing.T) {
	entities := FromPage("c1", "https://acme.test", "Our stack runs on Kubernetes and PostgreSQL.")
	tech := findType(entities, model.EntityTechStack)
	if len(tech) != 2 {
		t.Fatalf("tech = %+v, want 2 matches", tech)
	}
}

func TestFromPageIgnoresShortPhoneLikeNumbers(t *testing.T) {
	entities := FromPage("c1", "https://acme.test", "Room 42-1 is down the hall.")
	phones := findType(entities, model.EntityPhone)
	if len(phones) != 0 {
		t.Fatalf("phones = %+v, want none (too few digits)", phones)
	}
}

func TestFromPageSetsSourceURL(t *testing.T) {
	entities := FromPage("c1", "https://acme.test/about", "Email us: hi@acme.com")
	if len(entities) == 0 || entities[0].SourceURLs[0] != "https://acme.test/about" {
		t.Fatalf("entities = %+v", entities)
	}
}

func TestMergeDedupesByTypeAndNormalizedValue(t *testing.T) {
	a := &model.Entity{Type: model.EntityEmail, Value: "Hi@Acme.com", Confidence: 0.9, SourceURLs: []string{"https://a"}}
	b := &model.Entity{Type: model.EntityEmail, Value: "hi@acme.com", Confidence: 0.95, SourceURLs: []string{"https://b"}}

	merged := Merge([]*model.Entity{a, b})
	if len(merged) != 1 {
		t.Fatalf("len(merged) = %d, want 1", len(merged))
	}
	if merged[0].Confidence != 0.95 {
		t.Fatalf("Confidence = %v, want the max of the two (0.95)", merged[0].Confidence)
	}
	if len(merged[0].SourceURLs) != 2 {
		t.Fatalf("SourceURLs = %v, want the union of both", merged[0].SourceURLs)
	}
}

func TestMergeKeepsDistinctTypesSeparate(t *testing.T) {
	a := &model.Entity{Type: model.EntityEmail, Value: "acme", Confidence: 0.5}
	b := &model.Entity{Type: model.EntityOrg, Value: "acme", Confidence: 0.5}
	merged := Merge([]*model.Entity{a, b})
	if len(merged) != 2 {
		t.Fatalf("len(merged) = %d, want 2 (different types should not merge)", len(merged))
	}
}

func TestMergePreservesFirstSeenOrder(t *testing.T) {
	a := &model.Entity{Type: model.EntityOrg, Value: "zeta corp", Confidence: 0.5}
	b := &model.Entity{Type: model.EntityOrg, Value: "alpha corp", Confidence: 0.5}
	merged := Merge([]*model.Entity{a, b})
	if merged[0].Value != "zeta corp" || merged[1].Value != "alpha corp" {
		t.Fatalf("Merge should preserve first-seen order, got %+v", merged)
	}
}

package diff

import (
	"testing"

	"github.com/cira-systems/cira-core/internal/cira/model"
)

func changeSubjects(changes []Change, t ChangeType) []string {
	var out []string
	for _, c := range changes {
		if c.Type == t {
			out = append(out, c.Subject)
		}
	}
	return out
}

func TestCompareVersionsDetectsAddedTeamMember(t *testing.T) {
	v1 := &model.Analysis{Version: 1}
	v2 := &model.Analysis{Version: 2}
	e1 := []*model.Entity{{Type: model.EntityPerson, Value: "Jane Smith"}}
	e2 := []*model.Entity{
		{Type: model.EntityPerson, Value: "Jane Smith"},
		{Type: model.EntityPerson, Value: "John Doe"},
	}

	result := CompareVersions("c1", v1, v2, e1, e2)
	if result.FromVersion != 1 || result.ToVersion != 2 {
		t.Fatalf("result = %+v", result)
	}
	added := changeSubjects(result.Team, ChangeAdded)
	if len(added) != 1 || added[0] != "John Doe" {
		t.Fatalf("Team added = %v, want [John Doe]", added)
	}
}

func TestCompareVersionsDetectsRemovedProduct(t *testing.T) {
	v1 := &model.Analysis{Version: 1}
	v2 := &model.Analysis{Version: 2}
	e1 := []*model.Entity{{Type: model.EntityProduct, Value: "Widget Pro"}}
	e2 := []*model.Entity{}

	result := CompareVersions("c1", v1, v2, e1, e2)
	removed := changeSubjects(result.Products, ChangeRemoved)
	if len(removed) != 1 || removed[0] != "Widget Pro" {
		t.Fatalf("Products removed = %v", removed)
	}
}

func TestCompareVersionsDetectsModifiedEntityContext(t *testing.T) {
	v1 := &model.Analysis{}
	v2 := &model.Analysis{}
	e1 := []*model.Entity{{Type: model.EntityPerson, Value: "Jane Smith", Context: "joined as CTO"}}
	e2 := []*model.Entity{{Type: model.EntityPerson, Value: "Jane Smith", Context: "promoted to CEO"}}

	result := CompareVersions("c1", v1, v2, e1, e2)
	modified := changeSubjects(result.Team, ChangeModified)
	if len(modified) != 1 || modified[0] != "Jane Smith" {
		t.Fatalf("Team modified = %v", modified)
	}
}

func TestCompareVersionsIsCaseAndWhitespaceInsensitive(t *testing.T) {
	v1 := &model.Analysis{}
	v2 := &model.Analysis{}
	e1 := []*model.Entity{{Type: model.EntityPerson, Value: "  Jane Smith  "}}
	e2 := []*model.Entity{{Type: model.EntityPerson, Value: "jane smith"}}

	result := CompareVersions("c1", v1, v2, e1, e2)
	if len(result.Team) != 0 {
		t.Fatalf("Team changes = %+v, want none (same person, different case/whitespace)", result.Team)
	}
}

func TestCompareVersionsDetectsContentSectionChange(t *testing.T) {
	v1 := &model.Analysis{Sections: model.AnalysisSections{Overview: "We sell widgets."}}
	v2 := &model.Analysis{Sections: model.AnalysisSections{Overview: "We sell gadgets now."}}

	result := CompareVersions("c1", v1, v2, nil, nil)
	if len(result.Content) != 1 || result.Content[0].Subject != "overview" {
		t.Fatalf("Content = %+v", result.Content)
	}
}

func TestCompareVersionsIdenticalSectionsProduceNoContentChange(t *testing.T) {
	v1 := &model.Analysis{Sections: model.AnalysisSections{Overview: "same text"}}
	v2 := &model.Analysis{Sections: model.AnalysisSections{Overview: "same text"}}

	result := CompareVersions("c1", v1, v2, nil, nil)
	if len(result.Content) != 0 {
		t.Fatalf("Content = %+v, want none", result.Content)
	}
}

func TestIsSignificantChangeTrueOnTeamChange(t *testing.T) {
	result := ComparisonResult{Team: []Change{{Type: ChangeAdded, Subject: "x"}}}
	if !IsSignificantChange(result) {
		t.Fatal("a team change should be significant")
	}
}

func TestIsSignificantChangeTrueOnManyContentChanges(t *testing.T) {
	result := ComparisonResult{Content: []Change{{Subject: "a"}, {Subject: "b"}}}
	if !IsSignificantChange(result) {
		t.Fatal("more than one content section change should be significant")
	}
}

func TestIsSignificantChangeFalseOnSingleContentChange(t *testing.T) {
	result := ComparisonResult{Content: []Change{{Subject: "a"}}}
	if IsSignificantChange(result) {
		t.Fatal("a single content section change alone should not be significant")
	}
}

func TestIsSignificantChangeFalseWhenNothingChanged(t *testing.T) {
	if IsSignificantChange(ComparisonResult{}) {
		t.Fatal("no changes should not be significant")
	}
}

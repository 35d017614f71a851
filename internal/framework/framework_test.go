package framework

import (
	"strings"
	"testing"
)

func TestDefaultLoadsAndValidates(t *testing.T) {
	fw := Default()
	if len(fw.Objectives) != 2 {
		t.Fatalf("expected 2 objectives, got %d", len(fw.Objectives))
	}
	o, err := fw.Outcome("A1.a")
	if err != nil {
		t.Fatalf("outcome A1.a: %v", err)
	}
	if len(o.Indicators.Achieved) != 4 {
		t.Fatalf("A1.a achieved bucket: got %d statements", len(o.Indicators.Achieved))
	}
	if len(o.Indicators.PartiallyAchieved) != 0 {
		t.Fatalf("A1.a partially-achieved bucket should be empty")
	}
	if _, err := fw.Outcome("Z9.z"); err == nil {
		t.Fatalf("expected not found for Z9.z")
	}
	obj, err := fw.Objective("B")
	if err != nil || obj.Code != "B" {
		t.Fatalf("objective B: %v", err)
	}
}

func TestNoDeclaredMinimumIsAllowed(t *testing.T) {
	fw := Default()
	o, err := fw.Outcome("B1.b")
	if err != nil {
		t.Fatalf("outcome B1.b: %v", err)
	}
	if len(o.MinProfileRequirement) != 0 {
		t.Fatalf("B1.b should declare no minimum, got %v", o.MinProfileRequirement)
	}
}

func TestSortedCodesNumericSegments(t *testing.T) {
	bucket := map[string]string{
		"A1.a.10": "ten",
		"A1.a.2":  "two",
		"A1.a.1":  "one",
	}
	got := SortedCodes(bucket)
	want := []string{"A1.a.1", "A1.a.2", "A1.a.10"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sorted codes: got %v, want %v", got, want)
		}
	}
}

func TestValidateRejectsDuplicateSiblings(t *testing.T) {
	fw := &Framework{Objectives: []Objective{
		{Code: "A", Principles: []Principle{
			{Code: "A1", Outcomes: []Outcome{{Code: "A1.a"}, {Code: "A1.a"}}},
		}},
	}}
	err := fw.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate outcome code") {
		t.Fatalf("expected duplicate outcome error, got %v", err)
	}
}

func TestValidateRejectsUnknownProfileMinimum(t *testing.T) {
	doc := `framework:
  objectives:
    - code: A
      principles:
        - code: A1
          outcomes:
            - code: A1.a
              min_profile_requirement:
                baseline: somewhat_achieved
`
	if _, err := FromYAML([]byte(doc)); err == nil {
		t.Fatalf("expected invalid minimum status error")
	}
}

func TestFromYAMLRejectsMalformedDocument(t *testing.T) {
	if _, err := FromYAML([]byte("framework: [")); err == nil {
		t.Fatalf("expected yaml parse error")
	}
}

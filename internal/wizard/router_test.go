package wizard

import (
	"reflect"
	"testing"

	"assessline/internal/framework"
)

func compileDefault(t *testing.T) *Steps {
	t.Helper()
	steps, err := Compile(framework.Default())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return steps
}

func TestCompileOrder(t *testing.T) {
	steps := compileDefault(t)
	want := []string{
		"objective_A",
		"principle_A1",
		"indicators_A1.a",
		"confirmation_A1.a",
		"indicators_A1.b",
		"confirmation_A1.b",
		"principle_A2",
		"indicators_A2.a",
		"confirmation_A2.a",
		"objective_B",
		"principle_B1",
		"indicators_B1.a",
		"confirmation_B1.a",
		"indicators_B1.b",
		"confirmation_B1.b",
	}
	if got := steps.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("step order:\n got %v\nwant %v", got, want)
	}
	for i, s := range steps.Ordered[:len(steps.Ordered)-1] {
		if s.Next != steps.Ordered[i+1].Key {
			t.Fatalf("step %s next: got %s, want %s", s.Key, s.Next, steps.Ordered[i+1].Key)
		}
	}
	if last := steps.Ordered[len(steps.Ordered)-1]; last.Next != Finished {
		t.Fatalf("last step next: got %s, want %s", last.Next, Finished)
	}
}

func TestCompileDeterministic(t *testing.T) {
	a := compileDefault(t)
	b := compileDefault(t)
	if !reflect.DeepEqual(a.Keys(), b.Keys()) {
		t.Fatalf("two compilations of the same tree differ")
	}
}

func TestCompileRejectsDuplicateKeys(t *testing.T) {
	fw := &framework.Framework{Objectives: []framework.Objective{
		{Code: "A", Principles: []framework.Principle{
			{Code: "A1", Outcomes: []framework.Outcome{{Code: "X"}}},
			{Code: "A2", Outcomes: []framework.Outcome{{Code: "X"}}},
		}},
	}}
	if _, err := Compile(fw); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestParentAndAncestors(t *testing.T) {
	steps := compileDefault(t)
	parent, ok := steps.Parent("confirmation_A1.a")
	if !ok || parent.Key != "principle_A1" {
		t.Fatalf("parent of confirmation_A1.a: got %s", parent.Key)
	}
	chain := steps.Ancestors("confirmation_A1.a")
	if len(chain) != 2 || chain[0].Key != "principle_A1" || chain[1].Key != "objective_A" {
		t.Fatalf("ancestors of confirmation_A1.a: got %v", chain)
	}
	if got := steps.Ancestors("objective_A"); len(got) != 0 {
		t.Fatalf("root should have no ancestors, got %v", got)
	}
}

func TestLastChild(t *testing.T) {
	steps := compileDefault(t)
	last, ok := steps.LastChild("principle_A1")
	if !ok || last.Key != "confirmation_A1.b" {
		t.Fatalf("last child of principle_A1: got %s", last.Key)
	}
	if _, ok := steps.LastChild("principle_Z"); ok {
		t.Fatalf("unknown parent should report no children")
	}
}

func TestByKeyMissing(t *testing.T) {
	steps := compileDefault(t)
	if _, ok := steps.ByKey("indicators_Z9.z"); ok {
		t.Fatalf("missing key should not resolve")
	}
}

func TestStepStages(t *testing.T) {
	steps := compileDefault(t)
	s, _ := steps.ByKey("indicators_A1.a")
	if s.Stage != StageIndicators || s.Kind != KindIndicatorsPage || s.Code != "A1.a" {
		t.Fatalf("indicators step misclassified: %+v", s)
	}
	s, _ = steps.ByKey("objective_B")
	if s.Stage != StageSection || s.Kind != KindObjectivePage {
		t.Fatalf("objective step misclassified: %+v", s)
	}
}

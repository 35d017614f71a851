package status

import (
	"testing"

	"assessline/internal/framework"
)

func TestAllAchievedConfirmed(t *testing.T) {
	answers := map[string]any{
		"achieved_A1.a.5":     true,
		"achieved_A1.a.6":     true,
		"achieved_A1.a.7":     true,
		"achieved_A1.a.8":     true,
		"not-achieved_A1.a.1": false,
		"not-achieved_A1.a.2": false,
		"not-achieved_A1.a.3": false,
		"not-achieved_A1.a.4": false,
	}
	got := For(answers)
	if got.Status != Achieved {
		t.Fatalf("status: got %q, want %q", got.Status, Achieved)
	}
	if got.Message != "All achieved IGP statements have been confirmed." {
		t.Fatalf("message: got %q", got.Message)
	}
}

func TestOneAchievedUnticked(t *testing.T) {
	answers := map[string]any{
		"achieved_A1.a.5": true,
		"achieved_A1.a.6": false,
	}
	got := For(answers)
	if got.Status != NotAchieved {
		t.Fatalf("status: got %q, want %q", got.Status, NotAchieved)
	}
	if got.Message != "The answers provided do not meet the criteria for this outcome to be achieved." {
		t.Fatalf("message: got %q", got.Message)
	}
}

func TestAllPartiallyAchievedConfirmed(t *testing.T) {
	answers := map[string]any{
		"achieved_A1.b.4":           false,
		"partially-achieved_A1.b.2": true,
		"partially-achieved_A1.b.3": true,
	}
	got := For(answers)
	if got.Status != PartiallyAchieved {
		t.Fatalf("status: got %q, want %q", got.Status, PartiallyAchieved)
	}
}

func TestNotAchievedJustifiedCollapsesToAchieved(t *testing.T) {
	answers := map[string]any{
		"not-achieved_A1.b.1":         true,
		"not-achieved_A1.b.1_comment": "mitigated by compensating control",
	}
	got := For(answers)
	if got.Status != Achieved {
		t.Fatalf("status: got %q, want %q", got.Status, Achieved)
	}
	if got.Message != "All not achieved IGP statements have been justified by a comment." {
		t.Fatalf("message: got %q", got.Message)
	}
}

func TestNotAchievedWithoutJustification(t *testing.T) {
	answers := map[string]any{
		"not-achieved_A1.b.1":         true,
		"not-achieved_A1.b.1_comment": "   ",
	}
	got := For(answers)
	if got.Status != NotAchieved {
		t.Fatalf("status: got %q, want %q", got.Status, NotAchieved)
	}
	if got.Message != "This outcome has one or more not achieved IGP statements." {
		t.Fatalf("message: got %q", got.Message)
	}
}

func TestEmptyAnswersAreNotAchieved(t *testing.T) {
	got := For(map[string]any{})
	if got.Status != NotAchieved {
		t.Fatalf("status: got %q, want %q", got.Status, NotAchieved)
	}
}

func TestCommentKeysAreNotIndicators(t *testing.T) {
	// A lone comment key must not count toward any bucket.
	got := For(map[string]any{"achieved_A1.a.5_comment": "text"})
	if got.Status != NotAchieved {
		t.Fatalf("status: got %q, want %q", got.Status, NotAchieved)
	}
	// With the real indicator present, the comment is just ignored.
	got = For(map[string]any{
		"achieved_A1.a.5":         true,
		"achieved_A1.a.5_comment": "text",
	})
	if got.Status != Achieved {
		t.Fatalf("status: got %q, want %q", got.Status, Achieved)
	}
}

func TestStringValuesAreTruthy(t *testing.T) {
	got := For(map[string]any{
		"achieved_A1.a.5": "true",
		"achieved_A1.a.6": "on",
	})
	if got.Status != Achieved {
		t.Fatalf("status: got %q, want %q", got.Status, Achieved)
	}
	got = For(map[string]any{"achieved_A1.a.5": "yes"})
	if got.Status != NotAchieved {
		t.Fatalf("unrecognised string should not be truthy, got %q", got.Status)
	}
}

func TestMinProfileRequirementMet(t *testing.T) {
	outcome := &framework.Outcome{
		Code: "A1.a",
		MinProfileRequirement: map[string]string{
			framework.ProfileBaseline: "partially_achieved",
			framework.ProfileEnhanced: "achieved",
		},
	}
	cases := []struct {
		status  string
		profile string
		want    string
	}{
		{Achieved, framework.ProfileBaseline, MetYes},
		{PartiallyAchieved, framework.ProfileBaseline, MetYes},
		{NotAchieved, framework.ProfileBaseline, MetNo},
		{PartiallyAchieved, framework.ProfileEnhanced, MetNo},
		{Achieved, framework.ProfileEnhanced, MetYes},
	}
	for _, c := range cases {
		if got := MinProfileRequirementMet(outcome, c.status, c.profile); got != c.want {
			t.Fatalf("%s against %s: got %q, want %q", c.status, c.profile, got, c.want)
		}
	}
	// No declared minimum means the requirement is always met.
	bare := &framework.Outcome{Code: "B1.b"}
	if got := MinProfileRequirementMet(bare, NotAchieved, framework.ProfileEnhanced); got != MetYes {
		t.Fatalf("no declared minimum: got %q, want %q", got, MetYes)
	}
}

func TestNormalizeDisplayRoundTrip(t *testing.T) {
	for _, s := range []string{Achieved, PartiallyAchieved, NotAchieved} {
		if Display(Normalize(s)) != s {
			t.Fatalf("round trip failed for %q", s)
		}
	}
}

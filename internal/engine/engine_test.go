package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"assessline/internal/config"
	"assessline/internal/db"
	"assessline/internal/domain"
	"assessline/internal/engine"
	"assessline/internal/fault"
	"assessline/internal/migrate"
	"assessline/internal/review"
	"assessline/internal/wizard"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	// Each call advances by a second so lock tokens stay distinct.
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	eng.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// achievedAnswers ticks every achieved statement of an outcome.
func achievedAnswers(t *testing.T, env testEnv, code string) map[string]any {
	t.Helper()
	outcome, err := env.Engine.Framework.Outcome(code)
	if err != nil {
		t.Fatalf("outcome %s: %v", code, err)
	}
	answers := map[string]any{}
	for indicator := range outcome.Indicators.Achieved {
		answers["achieved_"+indicator] = true
	}
	return answers
}

// completeAssessment walks the whole wizard confirming every outcome.
func completeAssessment(t *testing.T, env testEnv, assessmentID string) domain.Assessment {
	t.Helper()
	var a domain.Assessment
	for _, step := range env.Engine.Steps.Ordered {
		var answers map[string]any
		switch step.Stage {
		case wizard.StageIndicators:
			answers = achievedAnswers(t, env, step.Code)
		case wizard.StageConfirmation:
			answers = map[string]any{
				"confirm_outcome":     wizard.OptionConfirm,
				"supporting_comments": "evidence reviewed",
			}
		}
		var err error
		a, _, err = env.Engine.SubmitStep(env.Ctx, engine.SubmitStepOptions{
			AssessmentID: assessmentID,
			StepKey:      step.Key,
			Answers:      answers,
			ActorID:      "tester",
			CanEdit:      true,
		})
		if err != nil {
			t.Fatalf("submit step %s: %v", step.Key, err)
		}
	}
	return a
}

func submittedReview(t *testing.T, env testEnv) domain.Review {
	t.Helper()
	a, err := env.Engine.StartAssessment(env.Ctx, "", "", "tester")
	if err != nil {
		t.Fatalf("start assessment: %v", err)
	}
	completeAssessment(t, env, a.ID)
	if _, err := env.Engine.SubmitAssessment(env.Ctx, a.ID, "tester", true); err != nil {
		t.Fatalf("submit assessment: %v", err)
	}
	rv, err := env.Engine.StartReview(env.Ctx, a.ID, "assessor")
	if err != nil {
		t.Fatalf("start review: %v", err)
	}
	return rv
}

func responseWith(text string) domain.ReviewData {
	return domain.ReviewData{AssessorResponse: map[string]domain.ObjectiveReview{
		"A": {AreasOfImprovement: text},
	}}
}

func TestAssessmentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.StartAssessment(env.Ctx, "", "", "tester")
	if err != nil {
		t.Fatalf("start assessment: %v", err)
	}
	if a.Status != "draft" || a.Profile != "baseline" {
		t.Fatalf("new assessment: %+v", a)
	}

	a = completeAssessment(t, env, a.ID)
	conf := a.Answers["A1.a"].Confirmation
	if conf["outcome_status"] != "Achieved" {
		t.Fatalf("A1.a outcome status: %v", conf["outcome_status"])
	}
	if conf["min_profile_requirement_met"] != "Yes" {
		t.Fatalf("A1.a minimum check: %v", conf["min_profile_requirement_met"])
	}

	summaries, complete, err := env.Engine.Progress(env.Ctx, a.ID)
	if err != nil || !complete {
		t.Fatalf("progress: complete=%v err=%v", complete, err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected one summary per objective, got %d", len(summaries))
	}

	a, err = env.Engine.SubmitAssessment(env.Ctx, a.ID, "tester", true)
	if err != nil || a.Status != "submitted" {
		t.Fatalf("submit: status=%s err=%v", a.Status, err)
	}
	// Submitted answers are frozen.
	_, _, err = env.Engine.SubmitStep(env.Ctx, engine.SubmitStepOptions{
		AssessmentID: a.ID, StepKey: "indicators_A1.a", Answers: achievedAnswers(t, env, "A1.a"),
		ActorID: "tester", CanEdit: true,
	})
	var ise fault.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected frozen answers, got %v", err)
	}
}

func TestSubmitRequiresEveryOutcomeConfirmed(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.StartAssessment(env.Ctx, "", "enhanced", "tester")
	if err != nil {
		t.Fatalf("start assessment: %v", err)
	}
	_, err = env.Engine.SubmitAssessment(env.Ctx, a.ID, "tester", true)
	var ise fault.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected incomplete submission error, got %v", err)
	}
}

func TestSubmitStepRequiresEditCapability(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.Engine.StartAssessment(env.Ctx, "", "", "tester")
	_, _, err := env.Engine.SubmitStep(env.Ctx, engine.SubmitStepOptions{
		AssessmentID: a.ID, StepKey: "indicators_A1.a", ActorID: "viewer", CanEdit: false,
	})
	var pe fault.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestStatusOverrideNeedsJustification(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.Engine.StartAssessment(env.Ctx, "", "", "tester")
	if _, _, err := env.Engine.SubmitStep(env.Ctx, engine.SubmitStepOptions{
		AssessmentID: a.ID, StepKey: "indicators_A1.a",
		Answers: achievedAnswers(t, env, "A1.a"), ActorID: "tester", CanEdit: true,
	}); err != nil {
		t.Fatalf("submit indicators: %v", err)
	}

	// Computed status is Achieved, so the override choice needs its own
	// justification comment.
	_, _, err := env.Engine.SubmitStep(env.Ctx, engine.SubmitStepOptions{
		AssessmentID: a.ID, StepKey: "confirmation_A1.a",
		Answers: map[string]any{
			"confirm_outcome":     wizard.OptionChangeToNotAchieved,
			"supporting_comments": "board never discussed this",
		},
		ActorID: "tester", CanEdit: true,
	})
	var ve fault.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected justification error, got %v", err)
	}

	a2, _, err := env.Engine.SubmitStep(env.Ctx, engine.SubmitStepOptions{
		AssessmentID: a.ID, StepKey: "confirmation_A1.a",
		Answers: map[string]any{
			"confirm_outcome":                       wizard.OptionChangeToNotAchieved,
			"supporting_comments":                   "board never discussed this",
			wizard.OptionChangeToNotAchieved + "_comment": "evidence contradicts the ticks",
		},
		ActorID: "tester", CanEdit: true,
	})
	if err != nil {
		t.Fatalf("override with justification: %v", err)
	}
	conf := a2.Answers["A1.a"].Confirmation
	if conf["outcome_status"] != "Not achieved" {
		t.Fatalf("overridden status: %v", conf["outcome_status"])
	}
	if conf["min_profile_requirement_met"] != "Not met" {
		t.Fatalf("minimum check after override: %v", conf["min_profile_requirement_met"])
	}
}

func TestReindicatingClearsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.Engine.StartAssessment(env.Ctx, "", "", "tester")
	completeAssessment(t, env, a.ID)
	a2, _, err := env.Engine.SubmitStep(env.Ctx, engine.SubmitStepOptions{
		AssessmentID: a.ID, StepKey: "indicators_A1.a",
		Answers: map[string]any{"not-achieved_A1.a.1": true}, ActorID: "tester", CanEdit: true,
	})
	if err != nil {
		t.Fatalf("resubmit indicators: %v", err)
	}
	if a2.Answers["A1.a"].Confirmation != nil {
		t.Fatalf("confirmation should be cleared by new indicator answers")
	}
}

func TestReviewOptimisticLocking(t *testing.T) {
	env := newTestEnv(t)
	rv := submittedReview(t, env)
	firstToken := rv.LastUpdated

	saved, err := env.Engine.SaveReview(env.Ctx, engine.ReviewSaveOptions{
		ID: rv.ID, ExpectedTimestamp: firstToken, CanEdit: true,
		Data: responseWith("first pass"), ActorID: "assessor",
	})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if saved.Status != review.StatusInProgress {
		t.Fatalf("editing should move to in_progress, got %s", saved.Status)
	}
	if saved.LastUpdated == firstToken {
		t.Fatalf("lock token should change on write")
	}

	// A writer still holding the old token is rejected without side effects.
	_, err = env.Engine.SaveReview(env.Ctx, engine.ReviewSaveOptions{
		ID: rv.ID, ExpectedTimestamp: firstToken, CanEdit: true,
		Data: responseWith("lost update"), ActorID: "other",
	})
	var swe fault.StaleWriteError
	if !errors.As(err, &swe) {
		t.Fatalf("expected stale write, got %v", err)
	}
	if swe.Expected != firstToken || swe.Actual != saved.LastUpdated {
		t.Fatalf("stale detail: %+v", swe)
	}
	stored, err := env.Engine.Repo.GetReview(env.Ctx, rv.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Data.AssessorResponse["A"].AreasOfImprovement != "first pass" {
		t.Fatalf("stale write must leave the record unchanged: %+v", stored.Data.AssessorResponse)
	}
}

func TestReviewVersionCollapse(t *testing.T) {
	env := newTestEnv(t)
	rv := submittedReview(t, env)

	save := func(text string) domain.Review {
		t.Helper()
		cur, err := env.Engine.Repo.GetReview(env.Ctx, rv.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		out, err := env.Engine.SaveReview(env.Ctx, engine.ReviewSaveOptions{
			ID: rv.ID, ExpectedTimestamp: cur.LastUpdated, CanEdit: true,
			Data: responseWith(text), ActorID: "assessor",
		})
		if err != nil {
			t.Fatalf("save %q: %v", text, err)
		}
		return out
	}
	complete := func() {
		t.Helper()
		cur, _ := env.Engine.Repo.GetReview(env.Ctx, rv.ID)
		if _, err := env.Engine.MarkReviewComplete(env.Ctx, engine.ReviewTransitionOptions{
			ID: rv.ID, ExpectedTimestamp: cur.LastUpdated, CanEdit: true,
			ActorID: "assessor", Role: "reviewer",
		}); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	reopen := func() {
		t.Helper()
		cur, _ := env.Engine.Repo.GetReview(env.Ctx, rv.ID)
		if _, err := env.Engine.ReopenReview(env.Ctx, engine.ReviewTransitionOptions{
			ID: rv.ID, ExpectedTimestamp: cur.LastUpdated, CanEdit: true, ActorID: "assessor",
		}); err != nil {
			t.Fatalf("reopen: %v", err)
		}
	}

	save("version one")
	complete()
	// Re-completing with identical response data must not mint a version.
	reopen()
	save("version one")
	complete()
	versions, err := env.Engine.ReviewVersions(env.Ctx, rv.ID)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("identical re-completion should collapse, got %d versions", len(versions))
	}

	reopen()
	save("version two")
	complete()
	versions, err = env.Engine.ReviewVersions(env.Ctx, rv.ID)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 distinct versions, got %d", len(versions))
	}
	// Newest first in the listing, oldest first by number.
	if versions[0].Data.AssessorResponse["A"].AreasOfImprovement != "version two" {
		t.Fatalf("listing should lead with the newest: %+v", versions[0])
	}
	v1, ok, err := env.Engine.ReviewVersion(env.Ctx, rv.ID, 1)
	if err != nil || !ok {
		t.Fatalf("version 1: ok=%v err=%v", ok, err)
	}
	if v1.Data.AssessorResponse["A"].AreasOfImprovement != "version one" {
		t.Fatalf("version 1 should be the oldest: %+v", v1)
	}
	cur, ok, err := env.Engine.CurrentReviewVersion(env.Ctx, rv.ID)
	if err != nil || !ok {
		t.Fatalf("current version: ok=%v err=%v", ok, err)
	}
	if cur.Data.AssessorResponse["A"].AreasOfImprovement != "version two" {
		t.Fatalf("current version should be the newest: %+v", cur)
	}
}

func TestCompletedReviewRejectsSaves(t *testing.T) {
	env := newTestEnv(t)
	rv := submittedReview(t, env)

	cur, _ := env.Engine.Repo.GetReview(env.Ctx, rv.ID)
	if _, err := env.Engine.SaveReview(env.Ctx, engine.ReviewSaveOptions{
		ID: rv.ID, ExpectedTimestamp: cur.LastUpdated, CanEdit: true,
		Data: responseWith("signed off"), ActorID: "assessor",
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	cur, _ = env.Engine.Repo.GetReview(env.Ctx, rv.ID)
	if _, err := env.Engine.MarkReviewComplete(env.Ctx, engine.ReviewTransitionOptions{
		ID: rv.ID, ExpectedTimestamp: cur.LastUpdated, CanEdit: true, ActorID: "assessor", Role: "reviewer",
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Asking the save path for in_progress must not stand in for an
	// explicit reopen; the completion metadata would survive the edit.
	cur, _ = env.Engine.Repo.GetReview(env.Ctx, rv.ID)
	for _, target := range []string{review.StatusInProgress, ""} {
		_, err := env.Engine.SaveReview(env.Ctx, engine.ReviewSaveOptions{
			ID: rv.ID, ExpectedTimestamp: cur.LastUpdated, CanEdit: true,
			Status: target, Data: responseWith("edited without reopen"), ActorID: "assessor",
		})
		var ise fault.InvalidStateError
		if !errors.As(err, &ise) {
			t.Fatalf("save with target %q: expected invalid state, got %v", target, err)
		}
	}
	stored, err := env.Engine.Repo.GetReview(env.Ctx, rv.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != review.StatusCompleted {
		t.Fatalf("status after rejected saves: %s", stored.Status)
	}
	if stored.Data.AssessorResponse["A"].AreasOfImprovement != "signed off" {
		t.Fatalf("rejected save must leave the data untouched: %+v", stored.Data.AssessorResponse)
	}
	if stored.Data.ReviewCompletion.CompletedBy != "assessor" {
		t.Fatalf("completion metadata should be intact: %+v", stored.Data.ReviewCompletion)
	}

	// The explicit reopen is the only way back to editing.
	if _, err := env.Engine.ReopenReview(env.Ctx, engine.ReviewTransitionOptions{
		ID: rv.ID, ExpectedTimestamp: stored.LastUpdated, CanEdit: true, ActorID: "assessor",
	}); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	cur, _ = env.Engine.Repo.GetReview(env.Ctx, rv.ID)
	if cur.Data.ReviewCompletion.CompletedBy != "" {
		t.Fatalf("reopen should clear completion metadata: %+v", cur.Data.ReviewCompletion)
	}
	if _, err := env.Engine.SaveReview(env.Ctx, engine.ReviewSaveOptions{
		ID: rv.ID, ExpectedTimestamp: cur.LastUpdated, CanEdit: true,
		Data: responseWith("edited after reopen"), ActorID: "assessor",
	}); err != nil {
		t.Fatalf("save after reopen: %v", err)
	}
}

func TestFinaliseFreezesReviewAndClosesAssessment(t *testing.T) {
	env := newTestEnv(t)
	rv := submittedReview(t, env)

	cur, _ := env.Engine.Repo.GetReview(env.Ctx, rv.ID)
	if _, err := env.Engine.SaveReview(env.Ctx, engine.ReviewSaveOptions{
		ID: rv.ID, ExpectedTimestamp: cur.LastUpdated, CanEdit: true,
		Data: responseWith("final"), ActorID: "assessor",
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	cur, _ = env.Engine.Repo.GetReview(env.Ctx, rv.ID)
	if _, err := env.Engine.MarkReviewComplete(env.Ctx, engine.ReviewTransitionOptions{
		ID: rv.ID, ExpectedTimestamp: cur.LastUpdated, CanEdit: true, ActorID: "assessor", Role: "reviewer",
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	cur, _ = env.Engine.Repo.GetReview(env.Ctx, rv.ID)
	final, err := env.Engine.FinaliseReview(env.Ctx, engine.ReviewTransitionOptions{
		ID: rv.ID, ExpectedTimestamp: cur.LastUpdated, CanEdit: true, ActorID: "moderator", Role: "moderator",
	})
	if err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if !final.Finalised() {
		t.Fatalf("review should be finalised: %+v", final.Data.ReviewCompletion)
	}
	a, err := env.Engine.Repo.GetAssessment(env.Ctx, rv.AssessmentID)
	if err != nil || a.Status != "completed" {
		t.Fatalf("assessment after finalisation: status=%s err=%v", a.Status, err)
	}

	// No edit gets through once finalised.
	_, err = env.Engine.SaveReview(env.Ctx, engine.ReviewSaveOptions{
		ID: rv.ID, ExpectedTimestamp: final.LastUpdated, CanEdit: true,
		Data: responseWith("sneaky edit"), ActorID: "assessor",
	})
	var cle fault.CompletionLockedError
	if !errors.As(err, &cle) || !cle.Finalised {
		t.Fatalf("expected finalised lock, got %v", err)
	}
	_, err = env.Engine.ReopenReview(env.Ctx, engine.ReviewTransitionOptions{
		ID: rv.ID, ExpectedTimestamp: final.LastUpdated, CanEdit: true, ActorID: "assessor",
	})
	var ise fault.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected reopen rejection, got %v", err)
	}
}

func TestStartReviewRequiresSubmittedAssessment(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.Engine.StartAssessment(env.Ctx, "", "", "tester")
	_, err := env.Engine.StartReview(env.Ctx, a.ID, "assessor")
	var ise fault.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

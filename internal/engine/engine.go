package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"assessline/internal/config"
	"assessline/internal/domain"
	"assessline/internal/events"
	"assessline/internal/fault"
	"assessline/internal/framework"
	"assessline/internal/progress"
	"assessline/internal/repo"
	"assessline/internal/review"
	"assessline/internal/status"
	"assessline/internal/wizard"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Framework *framework.Framework
	Steps     *wizard.Steps
	Now       func() time.Time
}

// New loads the framework, compiles the wizard and wires the engine. A
// defective framework document fails here, at start-up, not at request time.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	var fw *framework.Framework
	if cfg.Framework.File != "" {
		loaded, err := framework.FromFile(cfg.Framework.File)
		if err != nil {
			return Engine{}, fmt.Errorf("load framework %s: %w", cfg.Framework.File, err)
		}
		fw = loaded
	} else {
		fw = framework.Default()
	}
	steps, err := wizard.Compile(fw)
	if err != nil {
		return Engine{}, fmt.Errorf("compile wizard: %w", err)
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Framework: fw,
		Steps:     steps,
		Now:       time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// lockToken generates the optimistic-lock value stored in last_updated.
// Nanosecond precision keeps consecutive writes distinguishable.
func (e Engine) lockToken() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func (e Engine) fieldOptions(currentStatus string) wizard.FieldOptions {
	return wizard.FieldOptions{
		CurrentStatus: currentStatus,
		MaxWords:      e.Config.Assessment.MaxCommentWords,
	}
}

// --- assessments ---

func ensureAssessmentTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case "draft":
		if newStatus == "submitted" || newStatus == "cancelled" {
			return nil
		}
	case "submitted":
		if newStatus == "completed" || newStatus == "cancelled" {
			return nil
		}
	}
	return fault.InvalidStateError{Entity: "assessment", From: oldStatus, To: newStatus}
}

func (e Engine) StartAssessment(ctx context.Context, orgID, profile, actorID string) (domain.Assessment, error) {
	if orgID == "" {
		orgID = e.Config.Organisation.ID
	}
	if profile == "" {
		profile = e.Config.Assessment.Profile
	}
	if profile != framework.ProfileBaseline && profile != framework.ProfileEnhanced {
		return domain.Assessment{}, fault.ValidationError{Field: "profile", Msg: "must be baseline or enhanced"}
	}
	now := e.timestamp()
	a := domain.Assessment{
		ID:            uuid.New().String(),
		OrgID:         orgID,
		Profile:       profile,
		Status:        "draft",
		Answers:       domain.AssessmentAnswers{},
		LastUpdatedBy: actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assessment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureOrg(ctx, tx, orgID, e.Config.Organisation.Name, now); err != nil {
		return domain.Assessment{}, err
	}
	if err := e.Repo.InsertAssessment(ctx, tx, a); err != nil {
		return domain.Assessment{}, err
	}
	if err := e.Events.Append(ctx, tx, "assessment.started", orgID, "assessment", a.ID, actorID, events.EventPayload{"profile": profile}); err != nil {
		return domain.Assessment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assessment{}, err
	}
	return a, nil
}

// StepSchema resolves a wizard step against an assessment's stored answers,
// so a confirmation step's options exclude the status already computed.
func (e Engine) StepSchema(ctx context.Context, assessmentID, stepKey string) (wizard.Step, []wizard.Field, error) {
	step, ok := e.Steps.ByKey(stepKey)
	if !ok {
		return wizard.Step{}, nil, fault.NotFoundError{Kind: "step", Code: stepKey}
	}
	if step.Stage == wizard.StageSection {
		return step, nil, nil
	}
	outcome, err := e.Framework.Outcome(step.Code)
	if err != nil {
		return wizard.Step{}, nil, err
	}
	currentStatus := ""
	if step.Stage == wizard.StageConfirmation {
		a, err := e.Repo.GetAssessment(ctx, assessmentID)
		if err != nil {
			return wizard.Step{}, nil, err
		}
		currentStatus = status.For(a.Answers[step.Code].Indicators).Status
	}
	fields, err := wizard.FieldsFor(outcome, step.Stage, e.fieldOptions(currentStatus))
	if err != nil {
		return wizard.Step{}, nil, err
	}
	return step, fields, nil
}

// SubmitStepOptions are parameters for a step submission.
type SubmitStepOptions struct {
	AssessmentID string
	StepKey      string
	Answers      map[string]any
	ActorID      string
	CanEdit      bool
}

// SubmitStep stores a step's answers. Indicators are stored raw; the
// confirmation step computes and stores the outcome status alongside the
// assessor's confirm-or-override decision.
func (e Engine) SubmitStep(ctx context.Context, opts SubmitStepOptions) (domain.Assessment, string, error) {
	if !opts.CanEdit {
		return domain.Assessment{}, "", fault.PermissionError{Action: "edit this assessment"}
	}
	step, ok := e.Steps.ByKey(opts.StepKey)
	if !ok {
		return domain.Assessment{}, "", fault.NotFoundError{Kind: "step", Code: opts.StepKey}
	}
	a, err := e.Repo.GetAssessment(ctx, opts.AssessmentID)
	if err != nil {
		return a, "", err
	}
	if a.Status != "draft" {
		return a, "", fault.InvalidStateError{Entity: "assessment", From: a.Status, To: a.Status, Reason: "answers can only change while the assessment is a draft"}
	}
	if step.Stage == wizard.StageSection {
		// Section pages carry no fields; submitting one just advances.
		return a, step.Next, nil
	}
	outcome, err := e.Framework.Outcome(step.Code)
	if err != nil {
		return a, "", err
	}
	answers := a.Answers[step.Code]
	switch step.Stage {
	case wizard.StageIndicators:
		fields := wizard.IndicatorFields(outcome, e.fieldOptions(""))
		if err := wizard.CheckAll(fields, opts.Answers); err != nil {
			return a, "", err
		}
		answers.Indicators = opts.Answers
		// Earlier confirmations no longer match the new answers.
		answers.Confirmation = nil
	case wizard.StageConfirmation:
		confirmation, err := e.buildConfirmation(outcome, answers.Indicators, opts.Answers)
		if err != nil {
			return a, "", err
		}
		confirmation["min_profile_requirement_met"] = status.MinProfileRequirementMet(outcome, confirmation["outcome_status"].(string), a.Profile)
		answers.Confirmation = confirmation
	}
	if a.Answers == nil {
		a.Answers = domain.AssessmentAnswers{}
	}
	a.Answers[step.Code] = answers
	a.LastUpdatedBy = opts.ActorID
	a.UpdatedAt = e.timestamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAssessment(ctx, tx, a); err != nil {
		return a, "", err
	}
	if err := e.Events.Append(ctx, tx, "assessment.step.submitted", a.OrgID, "assessment", a.ID, opts.ActorID, events.EventPayload{
		"step":  step.Key,
		"stage": string(step.Stage),
	}); err != nil {
		return a, "", err
	}
	if err := tx.Commit(); err != nil {
		return a, "", err
	}
	return a, step.Next, nil
}

// buildConfirmation validates the confirmation submission against the
// generated schema and resolves the final outcome status, applying the
// assessor's override when one is selected.
func (e Engine) buildConfirmation(outcome *framework.Outcome, indicators map[string]any, submitted map[string]any) (map[string]any, error) {
	computed := status.For(indicators)
	fields := wizard.ConfirmationFields(outcome, e.fieldOptions(computed.Status))
	if err := wizard.CheckAll(fields, submitted); err != nil {
		return nil, err
	}
	confirm, _ := submitted["confirm_outcome"].(string)
	final := computed.Status
	message := computed.Message
	if confirm != wizard.OptionConfirm {
		target := wizard.ChangeOptionStatus(confirm)
		if target == "" {
			return nil, fault.ValidationError{Field: "confirm_outcome", Msg: "is required"}
		}
		justification, _ := submitted[confirm+"_comment"].(string)
		if strings.TrimSpace(justification) == "" {
			return nil, fault.ValidationError{Field: confirm + "_comment", Msg: "a justification is required when changing the outcome status"}
		}
		final = target
		message = fmt.Sprintf("Status changed from %q by the assessor.", computed.Status)
	}
	confirmation := map[string]any{
		"confirm_outcome":        confirm,
		"outcome_status":         final,
		"outcome_status_message": message,
		"supporting_comments":    submitted["supporting_comments"],
	}
	for _, f := range fields {
		if strings.HasSuffix(f.Name, "_comment") {
			if v, ok := submitted[f.Name]; ok {
				confirmation[f.Name] = v
			}
		}
	}
	return confirmation, nil
}

// Progress returns the per-objective completion breakdown.
func (e Engine) Progress(ctx context.Context, assessmentID string) ([]progress.Summary, bool, error) {
	a, err := e.Repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, false, err
	}
	return progress.Summarise(e.Framework, a.Answers), progress.AssessmentComplete(e.Framework, a.Answers), nil
}

// SubmitAssessment moves a complete draft to submitted.
func (e Engine) SubmitAssessment(ctx context.Context, assessmentID, actorID string, canEdit bool) (domain.Assessment, error) {
	if !canEdit {
		return domain.Assessment{}, fault.PermissionError{Action: "submit this assessment"}
	}
	a, err := e.Repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return a, err
	}
	if err := ensureAssessmentTransition(a.Status, "submitted"); err != nil {
		return a, err
	}
	if !progress.AssessmentComplete(e.Framework, a.Answers) {
		return a, fault.InvalidStateError{Entity: "assessment", From: a.Status, To: "submitted", Reason: "every outcome must be confirmed before submission"}
	}
	return e.setAssessmentStatus(ctx, a, "submitted", actorID)
}

// CancelAssessment abandons a draft or submitted assessment.
func (e Engine) CancelAssessment(ctx context.Context, assessmentID, actorID string) (domain.Assessment, error) {
	a, err := e.Repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return a, err
	}
	if err := ensureAssessmentTransition(a.Status, "cancelled"); err != nil {
		return a, err
	}
	return e.setAssessmentStatus(ctx, a, "cancelled", actorID)
}

func (e Engine) setAssessmentStatus(ctx context.Context, a domain.Assessment, newStatus, actorID string) (domain.Assessment, error) {
	oldStatus := a.Status
	a.Status = newStatus
	a.LastUpdatedBy = actorID
	a.UpdatedAt = e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAssessment(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "assessment."+newStatus, a.OrgID, "assessment", a.ID, actorID, events.EventPayload{
		"from_status": oldStatus,
		"to_status":   newStatus,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// --- reviews ---

// StartReview opens an independent review for a submitted assessment.
func (e Engine) StartReview(ctx context.Context, assessmentID, actorID string) (domain.Review, error) {
	a, err := e.Repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return domain.Review{}, err
	}
	if a.Status != "submitted" {
		return domain.Review{}, fault.InvalidStateError{Entity: "review", From: a.Status, To: review.StatusToDo, Reason: "assessment must be submitted before review"}
	}
	rv := domain.Review{
		ID:           uuid.New().String(),
		AssessmentID: a.ID,
		OrgID:        a.OrgID,
		Status:       review.StatusToDo,
		LastUpdated:  e.lockToken(),
		CreatedAt:    e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rv, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReview(ctx, tx, rv); err != nil {
		return rv, err
	}
	if err := e.Events.Append(ctx, tx, "review.started", rv.OrgID, "review", rv.ID, actorID, events.EventPayload{"assessment_id": a.ID}); err != nil {
		return rv, err
	}
	if err := tx.Commit(); err != nil {
		return rv, err
	}
	return rv, nil
}

// ReviewSaveOptions are parameters for an ordinary review edit.
type ReviewSaveOptions struct {
	ID string
	// ExpectedTimestamp is the last_updated value the writer read; a
	// mismatch with the stored value rejects the save.
	ExpectedTimestamp string
	CanEdit           bool
	// Status optionally requests a transition (e.g. to clarify). Empty
	// means an ordinary edit, which moves to_do/clarify to in_progress.
	Status  string
	Data    domain.ReviewData
	ActorID string
}

// SaveReview persists a review edit under optimistic locking and the
// post-completion freeze invariants. A completed review rejects saves
// outright; leaving the completed state goes through ReopenReview, which
// also clears the completion metadata.
func (e Engine) SaveReview(ctx context.Context, opts ReviewSaveOptions) (domain.Review, error) {
	stored, err := e.Repo.GetReview(ctx, opts.ID)
	if err != nil {
		return stored, err
	}
	if stored.Finalised() {
		return stored, fault.CompletionLockedError{Finalised: true}
	}
	if stored.Status == review.StatusCompleted {
		to := opts.Status
		if to == "" {
			to = review.StatusInProgress
		}
		return stored, fault.InvalidStateError{Entity: "review", From: stored.Status, To: to, Reason: "a completed review must be reopened before editing"}
	}
	target := opts.Status
	if target == "" {
		target = stored.Status
		if target == review.StatusToDo || target == review.StatusClarify {
			target = review.StatusInProgress
		}
	}
	if err := review.EnsureTransition(stored.Status, target); err != nil {
		return stored, err
	}
	next := stored
	next.Status = target
	next.Data = opts.Data
	// Completion metadata is owned by MarkComplete/Finalise, not by edits.
	next.Data.ReviewCompletion = stored.Data.ReviewCompletion
	if err := review.CheckSave(stored, next, opts.CanEdit); err != nil {
		return stored, err
	}
	next.LastUpdated = e.lockToken()
	return e.writeReview(ctx, next, opts.ExpectedTimestamp, "review.saved", opts.ActorID, nil)
}

// ReviewTransitionOptions parameterise the mark-complete/reopen/finalise
// operations.
type ReviewTransitionOptions struct {
	ID                string
	ExpectedTimestamp string
	CanEdit           bool
	ActorID           string
	Role              string
}

// MarkReviewComplete completes an in-progress review and snapshots it into
// the append-only history.
func (e Engine) MarkReviewComplete(ctx context.Context, opts ReviewTransitionOptions) (domain.Review, error) {
	stored, err := e.Repo.GetReview(ctx, opts.ID)
	if err != nil {
		return stored, err
	}
	if !opts.CanEdit {
		return stored, fault.PermissionError{Action: "edit this review"}
	}
	rv := stored
	if err := review.MarkComplete(&rv, opts.ActorID, opts.Role, e.now()); err != nil {
		return stored, err
	}
	rv.LastUpdated = e.lockToken()
	snapshot := &domain.HistoricalVersion{
		ReviewID:  rv.ID,
		Status:    rv.Status,
		Data:      rv.Data,
		CreatedAt: e.timestamp(),
	}
	return e.writeReview(ctx, rv, opts.ExpectedTimestamp, "review.completed", opts.ActorID, snapshot)
}

// ReopenReview returns a completed review to in_progress, clearing the
// completion metadata. The history rows already appended are untouched.
func (e Engine) ReopenReview(ctx context.Context, opts ReviewTransitionOptions) (domain.Review, error) {
	stored, err := e.Repo.GetReview(ctx, opts.ID)
	if err != nil {
		return stored, err
	}
	if !opts.CanEdit {
		return stored, fault.PermissionError{Action: "edit this review"}
	}
	rv := stored
	if err := review.Reopen(&rv); err != nil {
		return stored, err
	}
	rv.LastUpdated = e.lockToken()
	return e.writeReview(ctx, rv, opts.ExpectedTimestamp, "review.reopened", opts.ActorID, nil)
}

// FinaliseReview stamps the terminal finalisation metadata and closes out
// the underlying assessment.
func (e Engine) FinaliseReview(ctx context.Context, opts ReviewTransitionOptions) (domain.Review, error) {
	stored, err := e.Repo.GetReview(ctx, opts.ID)
	if err != nil {
		return stored, err
	}
	if !opts.CanEdit {
		return stored, fault.PermissionError{Action: "finalise this review"}
	}
	rv := stored
	if err := review.Finalise(&rv, opts.ActorID, e.now()); err != nil {
		return stored, err
	}
	rv.LastUpdated = e.lockToken()
	rv, err = e.writeReview(ctx, rv, opts.ExpectedTimestamp, "review.finalised", opts.ActorID, nil)
	if err != nil {
		return rv, err
	}
	a, err := e.Repo.GetAssessment(ctx, rv.AssessmentID)
	if err == nil && a.Status == "submitted" {
		if _, err := e.setAssessmentStatus(ctx, a, "completed", opts.ActorID); err != nil {
			return rv, err
		}
	}
	return rv, nil
}

func (e Engine) writeReview(ctx context.Context, rv domain.Review, expected, eventType, actorID string, snapshot *domain.HistoricalVersion) (domain.Review, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rv, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateReviewIf(ctx, tx, rv, expected); err != nil {
		return rv, err
	}
	if snapshot != nil {
		if err := e.Repo.AppendReviewHistory(ctx, tx, *snapshot); err != nil {
			return rv, err
		}
	}
	if err := e.Events.Append(ctx, tx, eventType, rv.OrgID, "review", rv.ID, actorID, events.EventPayload{"status": rv.Status}); err != nil {
		return rv, err
	}
	if err := tx.Commit(); err != nil {
		return rv, err
	}
	return rv, nil
}

// ReviewVersions returns the distinct completed versions, newest first.
func (e Engine) ReviewVersions(ctx context.Context, reviewID string) ([]domain.HistoricalVersion, error) {
	if _, err := e.Repo.GetReview(ctx, reviewID); err != nil {
		return nil, err
	}
	history, err := e.Repo.ListReviewHistory(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	return review.AllVersions(history), nil
}

// CurrentReviewVersion returns the newest distinct completed version.
func (e Engine) CurrentReviewVersion(ctx context.Context, reviewID string) (domain.HistoricalVersion, bool, error) {
	history, err := e.Repo.ListReviewHistory(ctx, reviewID)
	if err != nil {
		return domain.HistoricalVersion{}, false, err
	}
	hv, ok := review.CurrentVersion(history)
	return hv, ok, nil
}

// ReviewVersion indexes versions 1-based from the oldest.
func (e Engine) ReviewVersion(ctx context.Context, reviewID string, n int) (domain.HistoricalVersion, bool, error) {
	history, err := e.Repo.ListReviewHistory(ctx, reviewID)
	if err != nil {
		return domain.HistoricalVersion{}, false, err
	}
	hv, ok := review.Version(history, n)
	return hv, ok, nil
}

// ReviewProgress reports per-objective review completion.
func (e Engine) ReviewProgress(ctx context.Context, reviewID string) (map[string]bool, bool, error) {
	rv, err := e.Repo.GetReview(ctx, reviewID)
	if err != nil {
		return nil, false, err
	}
	out := map[string]bool{}
	for i := range e.Framework.Objectives {
		obj := &e.Framework.Objectives[i]
		out[obj.Code] = progress.ReviewObjectiveComplete(obj, rv.Data)
	}
	return out, progress.ReviewComplete(e.Framework, rv.Data), nil
}

package server

import (
	"assessline/internal/domain"
	"assessline/internal/progress"
	"assessline/internal/wizard"
)

// Request payloads

type StartAssessmentRequest struct {
	OrgID   string `json:"org_id,omitempty"`
	Profile string `json:"profile,omitempty" enum:"baseline,enhanced"`
}

type SubmitStepRequest struct {
	Answers map[string]any `json:"answers"`
}

type SaveReviewRequest struct {
	// ExpectedTimestamp is the last_updated value the client read. The
	// write is rejected as stale when it no longer matches the store.
	ExpectedTimestamp string            `json:"expected_timestamp"`
	Status            string            `json:"status,omitempty" enum:"in_progress,clarify"`
	Data              domain.ReviewData `json:"review_data"`
}

type ReviewTransitionRequest struct {
	ExpectedTimestamp string `json:"expected_timestamp"`
}

// Response payloads

type StepSummary struct {
	Key       string `json:"key"`
	Kind      string `json:"kind"`
	Stage     string `json:"stage"`
	Code      string `json:"code"`
	Title     string `json:"title"`
	ParentKey string `json:"parent_key,omitempty"`
	Next      string `json:"next"`
}

type StepDetail struct {
	StepSummary
	Fields      []wizard.Field `json:"fields,omitempty"`
	Breadcrumbs []StepSummary  `json:"breadcrumbs,omitempty"`
}

type SubmitStepResponse struct {
	Assessment domain.Assessment `json:"assessment"`
	Next       string            `json:"next"`
}

type ProgressResponse struct {
	Objectives []progress.Summary `json:"objectives"`
	Complete   bool               `json:"complete"`
}

type ReviewProgressResponse struct {
	Objectives map[string]bool `json:"objectives"`
	Complete   bool            `json:"complete"`
}

type VersionsResponse struct {
	Versions []domain.HistoricalVersion `json:"versions"`
	Count    int                        `json:"count"`
}

type assessmentResponse struct {
	Body domain.Assessment
}

func newAssessmentResponse(a domain.Assessment) *assessmentResponse {
	return &assessmentResponse{Body: a}
}

type reviewResponse struct {
	Body domain.Review
}

func newReviewResponse(r domain.Review) *reviewResponse {
	return &reviewResponse{Body: r}
}

type versionResponse struct {
	Body domain.HistoricalVersion
}

func newVersionResponse(v domain.HistoricalVersion) *versionResponse {
	return &versionResponse{Body: v}
}

func toStepSummary(s wizard.Step) StepSummary {
	return StepSummary{
		Key:       s.Key,
		Kind:      string(s.Kind),
		Stage:     string(s.Stage),
		Code:      s.Code,
		Title:     s.Title,
		ParentKey: s.ParentKey,
		Next:      s.Next,
	}
}

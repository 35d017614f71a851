package domain

type Organisation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// OutcomeAnswers holds everything submitted for a single outcome: the raw
// indicator answers and the confirmation step data.
type OutcomeAnswers struct {
	Indicators   map[string]any `json:"indicators,omitempty"`
	Confirmation map[string]any `json:"confirmation,omitempty"`
}

// AssessmentAnswers maps outcome code to its answers. Mutated only via step
// submission.
type AssessmentAnswers map[string]OutcomeAnswers

type Assessment struct {
	ID            string            `json:"id"`
	OrgID         string            `json:"org_id"`
	Profile       string            `json:"profile" enum:"baseline,enhanced"`
	Status        string            `json:"status" enum:"draft,submitted,completed,cancelled"`
	Answers       AssessmentAnswers `json:"answers,omitempty"`
	LastUpdatedBy string            `json:"last_updated_by,omitempty"`
	CreatedAt     string            `json:"created_at" format:"date-time"`
	UpdatedAt     string            `json:"updated_at" format:"date-time"`
}

// Recommendation is a single assessor recommendation attached to an outcome
// or an objective.
type Recommendation struct {
	ID       string `json:"id,omitempty"`
	Text     string `json:"text"`
	Priority string `json:"priority,omitempty" enum:"low,medium,high"`
}

// OutcomeReviewData carries the assessor decision for one outcome.
type OutcomeReviewData struct {
	ReviewDecision string `json:"review_decision,omitempty" enum:"achieved,partially_achieved,not_achieved"`
}

type OutcomeReview struct {
	Indicators      map[string]any    `json:"indicators,omitempty"`
	ReviewData      OutcomeReviewData `json:"review_data"`
	Recommendations []Recommendation  `json:"recommendations,omitempty"`
}

type ObjectiveReview struct {
	Outcomes            map[string]OutcomeReview `json:"outcomes,omitempty"`
	Recommendations     []Recommendation         `json:"recommendations,omitempty"`
	AreasOfImprovement  string                   `json:"areas_of_improvement,omitempty"`
	AreasOfGoodPractice string                   `json:"areas_of_good_practice,omitempty"`
}

// ReviewCompletion is the metadata stamped when a review is marked complete
// and, later, finalised.
type ReviewCompletion struct {
	CompletedBy   string `json:"completed_by,omitempty"`
	CompletedRole string `json:"completed_role,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty" format:"date-time"`
	Finalised     bool   `json:"finalised,omitempty"`
	FinalisedBy   string `json:"finalised_by,omitempty"`
	FinalisedAt   string `json:"finalised_at,omitempty" format:"date-time"`
}

// ReviewData is the nested review document, owned exclusively by its Review.
type ReviewData struct {
	AssessorResponse      map[string]ObjectiveReview `json:"assessor_response_data,omitempty"`
	SystemAndScope        map[string]any             `json:"system_and_scope,omitempty"`
	AdditionalInformation map[string]any             `json:"additional_information,omitempty"`
	AssessorActions       map[string]any             `json:"assessor_actions,omitempty"`
	ReviewCompletion      ReviewCompletion           `json:"review_completion,omitempty"`
}

type Review struct {
	ID           string     `json:"id"`
	AssessmentID string     `json:"assessment_id"`
	OrgID        string     `json:"org_id"`
	Status       string     `json:"status" enum:"to_do,in_progress,clarify,completed,cancelled"`
	Data         ReviewData `json:"review_data"`
	// LastUpdated doubles as the optimistic-lock token: writers supply the
	// value they read and a mismatch rejects the write.
	LastUpdated string `json:"last_updated" format:"date-time"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Finalised reports whether the review reached its terminal, one-way state.
func (r Review) Finalised() bool {
	return r.Data.ReviewCompletion.Finalised
}

// HistoricalVersion is an immutable snapshot of review data captured on a
// completed transition.
type HistoricalVersion struct {
	ID        int64      `json:"id"`
	ReviewID  string     `json:"review_id"`
	Status    string     `json:"status"`
	Data      ReviewData `json:"review_data"`
	CreatedAt string     `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	KeyHash   string   `json:"key_hash"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

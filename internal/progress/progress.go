// Package progress decides objective, assessment and review completion by
// walking the framework tree against stored answers.
package progress

import (
	"assessline/internal/domain"
	"assessline/internal/framework"
)

// ObjectiveComplete reports whether every outcome under every principle of
// the objective has a confirmation whose confirm_outcome is "confirm".
// Partial or blank confirmations and wholly-missing outcomes count as
// incomplete.
func ObjectiveComplete(obj *framework.Objective, answers domain.AssessmentAnswers) bool {
	for _, p := range obj.Principles {
		for _, o := range p.Outcomes {
			outcome, ok := answers[o.Code]
			if !ok {
				return false
			}
			confirm, _ := outcome.Confirmation["confirm_outcome"].(string)
			if confirm != "confirm" {
				return false
			}
		}
	}
	return true
}

// AssessmentComplete is the AND over all objectives.
func AssessmentComplete(fw *framework.Framework, answers domain.AssessmentAnswers) bool {
	for i := range fw.Objectives {
		if !ObjectiveComplete(&fw.Objectives[i], answers) {
			return false
		}
	}
	return true
}

// ReviewObjectiveComplete requires the objective-level narrative fields plus,
// per outcome, a review decision and at least one recommendation when the
// decision is anything other than achieved.
func ReviewObjectiveComplete(obj *framework.Objective, data domain.ReviewData) bool {
	objReview, ok := data.AssessorResponse[obj.Code]
	if !ok {
		return false
	}
	if len(objReview.Recommendations) == 0 || objReview.AreasOfImprovement == "" || objReview.AreasOfGoodPractice == "" {
		return false
	}
	for _, p := range obj.Principles {
		for _, o := range p.Outcomes {
			outcome, ok := objReview.Outcomes[o.Code]
			if !ok {
				return false
			}
			decision := outcome.ReviewData.ReviewDecision
			if decision == "" {
				return false
			}
			if decision != "achieved" && len(outcome.Recommendations) == 0 {
				return false
			}
		}
	}
	return true
}

// ReviewComplete is the AND over all objectives.
func ReviewComplete(fw *framework.Framework, data domain.ReviewData) bool {
	for i := range fw.Objectives {
		if !ReviewObjectiveComplete(&fw.Objectives[i], data) {
			return false
		}
	}
	return true
}

// Summary is the per-objective completion breakdown exposed by the API.
type Summary struct {
	ObjectiveCode string `json:"objective_code"`
	Title         string `json:"title"`
	Complete      bool   `json:"complete"`
}

// Summarise returns one Summary per objective.
func Summarise(fw *framework.Framework, answers domain.AssessmentAnswers) []Summary {
	out := make([]Summary, 0, len(fw.Objectives))
	for i := range fw.Objectives {
		obj := &fw.Objectives[i]
		out = append(out, Summary{
			ObjectiveCode: obj.Code,
			Title:         obj.Title,
			Complete:      ObjectiveComplete(obj, answers),
		})
	}
	return out
}

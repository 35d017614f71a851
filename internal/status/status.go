// Package status computes the achievement status of an outcome from its raw
// indicator answers. The functions are pure and deterministic so they can be
// called both at submission time and later for reporting.
package status

import (
	"strings"

	"assessline/internal/framework"
)

const (
	Achieved          = "Achieved"
	PartiallyAchieved = "Partially achieved"
	NotAchieved       = "Not achieved"
)

const (
	MetYes = "Yes"
	MetNo  = "Not met"
)

// Result pairs the computed status with the message explaining it.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// For evaluates indicator answers to a tri-state outcome status. Keys ending
// in _comment are free-text justifications, not indicators, and are only
// consulted when deciding whether not-achieved answers are justified.
func For(answers map[string]any) Result {
	achieved := bucketKeys(answers, framework.BucketAchieved)
	partially := bucketKeys(answers, framework.BucketPartiallyAchieved)
	notAchieved := bucketKeys(answers, framework.BucketNotAchieved)

	if len(achieved) > 0 && allTrue(answers, achieved) {
		return Result{Status: Achieved, Message: "All achieved IGP statements have been confirmed."}
	}
	if len(partially) > 0 && allTrue(answers, partially) {
		return Result{Status: PartiallyAchieved, Message: "All partially achieved IGP statements have been confirmed."}
	}
	if len(notAchieved) > 0 && allTrue(answers, notAchieved) {
		if allJustified(answers, notAchieved) {
			return Result{Status: Achieved, Message: "All not achieved IGP statements have been justified by a comment."}
		}
		return Result{Status: NotAchieved, Message: "This outcome has one or more not achieved IGP statements."}
	}
	return Result{Status: NotAchieved, Message: "The answers provided do not meet the criteria for this outcome to be achieved."}
}

func bucketKeys(answers map[string]any, bucket string) []string {
	var keys []string
	prefix := bucket + "_"
	for key := range answers {
		if strings.HasSuffix(key, "_comment") {
			continue
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func allTrue(answers map[string]any, keys []string) bool {
	for _, key := range keys {
		if !truthy(answers[key]) {
			return false
		}
	}
	return true
}

func allJustified(answers map[string]any, keys []string) bool {
	for _, key := range keys {
		comment, _ := answers[key+"_comment"].(string)
		if strings.TrimSpace(comment) == "" {
			return false
		}
	}
	return true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "on"
	}
	return false
}

var scale = map[string]int{
	"not_achieved":       1,
	"partially_achieved": 2,
	"achieved":           3,
}

// MinProfileRequirementMet compares an outcome status against the minimum
// declared for the given profile. Outcomes with no declared minimum always
// return Yes.
func MinProfileRequirementMet(outcome *framework.Outcome, outcomeStatus, profile string) string {
	min, ok := outcome.MinProfileRequirement[profile]
	if !ok || min == "" {
		return MetYes
	}
	if scale[Normalize(outcomeStatus)] >= scale[min] {
		return MetYes
	}
	return MetNo
}

// Normalize maps a display status to its snake_case scale key.
func Normalize(displayStatus string) string {
	return strings.ReplaceAll(strings.ToLower(displayStatus), " ", "_")
}

// Display maps a scale key back to the display status, returning the input
// unchanged when it is not a known key.
func Display(key string) string {
	switch key {
	case "achieved":
		return Achieved
	case "partially_achieved":
		return PartiallyAchieved
	case "not_achieved":
		return NotAchieved
	}
	return key
}

// Package review holds the review status life cycle and the version
// derivation over the append-only history. Everything here is pure; the
// engine owns persistence.
package review

import (
	"bytes"
	"encoding/json"
	"time"

	"assessline/internal/domain"
	"assessline/internal/fault"
)

const (
	StatusToDo       = "to_do"
	StatusInProgress = "in_progress"
	StatusClarify    = "clarify"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// EnsureTransition validates a status change against the life cycle
// to_do -> in_progress -> clarify -> completed, with cancelled reachable
// from any non-terminal state. Staying put is always allowed.
func EnsureTransition(oldStatus, newStatus string) error {
	if oldStatus == newStatus {
		return nil
	}
	switch oldStatus {
	case StatusToDo:
		if newStatus == StatusInProgress || newStatus == StatusCancelled {
			return nil
		}
	case StatusInProgress:
		if newStatus == StatusClarify || newStatus == StatusCompleted || newStatus == StatusCancelled {
			return nil
		}
	case StatusClarify:
		if newStatus == StatusInProgress || newStatus == StatusCancelled {
			return nil
		}
	case StatusCompleted:
		if newStatus == StatusInProgress {
			return nil
		}
	}
	return fault.InvalidStateError{Entity: "review", From: oldStatus, To: newStatus}
}

// MarkComplete transitions an in_progress review to completed and stamps the
// completion metadata.
func MarkComplete(r *domain.Review, actorID, role string, now time.Time) error {
	if r.Status != StatusInProgress {
		return fault.InvalidStateError{Entity: "review", From: r.Status, To: StatusCompleted, Reason: "only an in-progress review can be marked complete"}
	}
	r.Status = StatusCompleted
	r.Data.ReviewCompletion.CompletedBy = actorID
	r.Data.ReviewCompletion.CompletedRole = role
	r.Data.ReviewCompletion.CompletedAt = now.UTC().Format(time.RFC3339)
	return nil
}

// Reopen returns a completed review to in_progress and clears the completion
// metadata. A finalised review can never be reopened.
func Reopen(r *domain.Review) error {
	if r.Finalised() {
		return fault.InvalidStateError{Entity: "review", From: r.Status, To: StatusInProgress, Reason: "review is finalised"}
	}
	if r.Status != StatusCompleted {
		return fault.InvalidStateError{Entity: "review", From: r.Status, To: StatusInProgress, Reason: "only a completed review can be reopened"}
	}
	r.Status = StatusInProgress
	r.Data.ReviewCompletion.CompletedBy = ""
	r.Data.ReviewCompletion.CompletedRole = ""
	r.Data.ReviewCompletion.CompletedAt = ""
	return nil
}

// Finalise stamps the one-way finalisation metadata on a completed review.
// The review stays completed; there is no way back.
func Finalise(r *domain.Review, actorID string, now time.Time) error {
	if r.Status != StatusCompleted {
		return fault.InvalidStateError{Entity: "review", From: r.Status, To: StatusCompleted, Reason: "only a completed review can be finalised"}
	}
	if r.Finalised() {
		return fault.InvalidStateError{Entity: "review", From: r.Status, To: StatusCompleted, Reason: "review already finalised"}
	}
	r.Data.ReviewCompletion.Finalised = true
	r.Data.ReviewCompletion.FinalisedBy = actorID
	r.Data.ReviewCompletion.FinalisedAt = now.UTC().Format(time.RFC3339)
	return nil
}

// CheckSave enforces the write-time invariants before a review is persisted:
// a false edit capability rejects outright; once finalised any change to the
// review data is rejected; while both the previous and new status are
// completed the assessor response data and completion metadata must be
// untouched.
func CheckSave(stored, next domain.Review, canEdit bool) error {
	if !canEdit {
		return fault.PermissionError{Action: "edit this review"}
	}
	if stored.Finalised() {
		if !dataEqual(stored.Data, next.Data) {
			return fault.CompletionLockedError{Finalised: true}
		}
		return nil
	}
	if stored.Status == StatusCompleted && next.Status == StatusCompleted {
		if !responseEqual(stored.Data, next.Data) || stored.Data.ReviewCompletion != next.Data.ReviewCompletion {
			return fault.CompletionLockedError{}
		}
	}
	return nil
}

func dataEqual(a, b domain.ReviewData) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return bytes.Equal(aj, bj)
}

func responseEqual(a, b domain.ReviewData) bool {
	aj, _ := json.Marshal(a.AssessorResponse)
	bj, _ := json.Marshal(b.AssessorResponse)
	return bytes.Equal(aj, bj)
}

// AllVersions derives the distinct completed versions from the append-only
// history. Input must be newest first. An entry is included only when it is
// the first, or its assessor response data differs from the previously
// included entry's, collapsing no-op re-completions.
func AllVersions(history []domain.HistoricalVersion) []domain.HistoricalVersion {
	var out []domain.HistoricalVersion
	for _, entry := range history {
		if entry.Status != StatusCompleted {
			continue
		}
		if len(out) > 0 && responseEqual(out[len(out)-1].Data, entry.Data) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// CurrentVersion is the newest included entry, if any.
func CurrentVersion(history []domain.HistoricalVersion) (domain.HistoricalVersion, bool) {
	versions := AllVersions(history)
	if len(versions) == 0 {
		return domain.HistoricalVersion{}, false
	}
	return versions[0], true
}

// Version indexes the distinct versions 1-based from the oldest, the
// opposite direction to AllVersions. n <= 0 or out of range returns none.
func Version(history []domain.HistoricalVersion, n int) (domain.HistoricalVersion, bool) {
	versions := AllVersions(history)
	if n <= 0 || n > len(versions) {
		return domain.HistoricalVersion{}, false
	}
	return versions[len(versions)-n], true
}

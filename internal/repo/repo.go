package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"assessline/internal/domain"
	"assessline/internal/fault"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, orgID, name, now string) error {
	if name == "" {
		name = orgID
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO organisations(id, name, created_at) VALUES (?,?,?)`, orgID, name, now)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id string) (domain.Organisation, error) {
	var org domain.Organisation
	err := r.DB.QueryRowContext(ctx, `SELECT id, name, created_at FROM organisations WHERE id=?`, id).
		Scan(&org.ID, &org.Name, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return org, ErrNotFound
	}
	return org, err
}

// --- assessments ---

func (r Repo) InsertAssessment(ctx context.Context, tx *sql.Tx, a domain.Assessment) error {
	answers, err := marshalAnswers(a.Answers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO assessments(id,org_id,profile,status,answers_json,last_updated_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.OrgID, a.Profile, a.Status, answers, nullable(a.LastUpdatedBy), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAssessment(ctx context.Context, id string) (domain.Assessment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,org_id,profile,status,answers_json,COALESCE(last_updated_by,''),created_at,updated_at FROM assessments WHERE id=?`, id)
	var a domain.Assessment
	var answers string
	err := row.Scan(&a.ID, &a.OrgID, &a.Profile, &a.Status, &answers, &a.LastUpdatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return a, fmt.Errorf("decode answers for assessment %s: %w", id, err)
	}
	return a, nil
}

func (r Repo) UpdateAssessment(ctx context.Context, tx *sql.Tx, a domain.Assessment) error {
	answers, err := marshalAnswers(a.Answers)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE assessments SET profile=?,status=?,answers_json=?,last_updated_by=?,updated_at=? WHERE id=?`,
		a.Profile, a.Status, answers, nullable(a.LastUpdatedBy), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListAssessments(ctx context.Context, orgID string) ([]domain.Assessment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,profile,status,answers_json,COALESCE(last_updated_by,''),created_at,updated_at FROM assessments WHERE org_id=? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Assessment
	for rows.Next() {
		var a domain.Assessment
		var answers string
		if err := rows.Scan(&a.ID, &a.OrgID, &a.Profile, &a.Status, &answers, &a.LastUpdatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
			return nil, fmt.Errorf("decode answers for assessment %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- reviews ---

func (r Repo) InsertReview(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	data, err := json.Marshal(rv.Data)
	if err != nil {
		return fmt.Errorf("encode review data: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO reviews(id,assessment_id,org_id,status,review_data_json,last_updated,created_at) VALUES (?,?,?,?,?,?,?)`,
		rv.ID, rv.AssessmentID, rv.OrgID, rv.Status, string(data), rv.LastUpdated, rv.CreatedAt)
	return err
}

func scanReview(scan func(...any) error) (domain.Review, error) {
	var rv domain.Review
	var data string
	err := scan(&rv.ID, &rv.AssessmentID, &rv.OrgID, &rv.Status, &data, &rv.LastUpdated, &rv.CreatedAt)
	if err == sql.ErrNoRows {
		return rv, ErrNotFound
	}
	if err != nil {
		return rv, err
	}
	if err := json.Unmarshal([]byte(data), &rv.Data); err != nil {
		return rv, fmt.Errorf("decode review data for %s: %w", rv.ID, err)
	}
	return rv, nil
}

func (r Repo) GetReview(ctx context.Context, id string) (domain.Review, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,assessment_id,org_id,status,review_data_json,last_updated,created_at FROM reviews WHERE id=?`, id)
	return scanReview(row.Scan)
}

func (r Repo) GetReviewByAssessment(ctx context.Context, assessmentID string) (domain.Review, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,assessment_id,org_id,status,review_data_json,last_updated,created_at FROM reviews WHERE assessment_id=? ORDER BY created_at DESC LIMIT 1`, assessmentID)
	return scanReview(row.Scan)
}

// UpdateReviewIf performs the compare-and-swap write behind optimistic
// locking: the row is updated only when its stored last_updated still equals
// expected. A mismatch rejects the write with the stored timestamp attached,
// leaving the record unchanged.
func (r Repo) UpdateReviewIf(ctx context.Context, tx *sql.Tx, rv domain.Review, expected string) error {
	data, err := json.Marshal(rv.Data)
	if err != nil {
		return fmt.Errorf("encode review data: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE reviews SET status=?,review_data_json=?,last_updated=? WHERE id=? AND last_updated=?`,
		rv.Status, string(data), rv.LastUpdated, rv.ID, expected)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 1 {
		return nil
	}
	var actual string
	err = tx.QueryRowContext(ctx, `SELECT last_updated FROM reviews WHERE id=?`, rv.ID).Scan(&actual)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fault.StaleWriteError{Expected: expected, Actual: actual}
}

// --- review history (append-only) ---

func (r Repo) AppendReviewHistory(ctx context.Context, tx *sql.Tx, hv domain.HistoricalVersion) error {
	data, err := json.Marshal(hv.Data)
	if err != nil {
		return fmt.Errorf("encode history snapshot: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO review_history(review_id,status,review_data_json,created_at) VALUES (?,?,?,?)`,
		hv.ReviewID, hv.Status, string(data), hv.CreatedAt)
	return err
}

// ListReviewHistory returns the history newest first.
func (r Repo) ListReviewHistory(ctx context.Context, reviewID string) ([]domain.HistoricalVersion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,review_id,status,review_data_json,created_at FROM review_history WHERE review_id=? ORDER BY id DESC`, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.HistoricalVersion
	for rows.Next() {
		var hv domain.HistoricalVersion
		var data string
		if err := rows.Scan(&hv.ID, &hv.ReviewID, &hv.Status, &data, &hv.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &hv.Data); err != nil {
			return nil, fmt.Errorf("decode history snapshot %d: %w", hv.ID, err)
		}
		out = append(out, hv)
	}
	return out, rows.Err()
}

// --- events ---

func (r Repo) ListEvents(ctx context.Context, entityKind, entityID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(org_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE entity_kind=? AND entity_id=? ORDER BY id DESC LIMIT ?`,
		entityKind, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OrgID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalAnswers(answers domain.AssessmentAnswers) (string, error) {
	if answers == nil {
		answers = domain.AssessmentAnswers{}
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

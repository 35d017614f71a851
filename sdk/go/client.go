package assesslinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Assessline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Step represents one wizard step.
type Step struct {
	Key       string `json:"key"`
	Kind      string `json:"kind"`
	Stage     string `json:"stage"`
	Code      string `json:"code"`
	Title     string `json:"title"`
	ParentKey string `json:"parent_key,omitempty"`
	Next      string `json:"next"`
}

// Field represents one input of a step's schema.
type Field struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Label    string   `json:"label"`
	Required bool     `json:"required"`
	Choices  []string `json:"choices,omitempty"`
	MaxWords int      `json:"max_words,omitempty"`
	Bucket   string   `json:"bucket,omitempty"`
	Ordinal  int      `json:"ordinal,omitempty"`
}

// StepDetail is a step plus its field schema and breadcrumb trail.
type StepDetail struct {
	Step
	Fields      []Field `json:"fields,omitempty"`
	Breadcrumbs []Step  `json:"breadcrumbs,omitempty"`
}

// Assessment represents the API assessment model.
type Assessment struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	Profile   string         `json:"profile"`
	Status    string         `json:"status"`
	Answers   map[string]any `json:"answers,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// Review represents the API review model. Data is kept generic so the
// client does not chase the server's review schema.
type Review struct {
	ID           string         `json:"id"`
	AssessmentID string         `json:"assessment_id"`
	Status       string         `json:"status"`
	Data         map[string]any `json:"review_data"`
	LastUpdated  string         `json:"last_updated"`
	CreatedAt    string         `json:"created_at"`
}

// HistoricalVersion is one entry of a review's version history.
type HistoricalVersion struct {
	ID        int64          `json:"id"`
	ReviewID  string         `json:"review_id"`
	Status    string         `json:"status"`
	Data      map[string]any `json:"review_data"`
	CreatedAt string         `json:"created_at"`
}

// ObjectiveProgress is one objective's completion state.
type ObjectiveProgress struct {
	ObjectiveCode string `json:"objective_code"`
	Title         string `json:"title"`
	Complete      bool   `json:"complete"`
}

// Progress is the assessment completion report.
type Progress struct {
	Objectives []ObjectiveProgress `json:"objectives"`
	Complete   bool                `json:"complete"`
}

// SubmitStepResult carries the stored assessment and the next step key.
type SubmitStepResult struct {
	Assessment Assessment `json:"assessment"`
	Next       string     `json:"next"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Steps lists the compiled wizard in order.
func (c *Client) Steps(ctx context.Context) ([]Step, error) {
	var resp []Step
	err := c.do(ctx, http.MethodGet, "v0/framework/steps", nil, &resp)
	return resp, err
}

// StartAssessment opens a draft assessment.
func (c *Client) StartAssessment(ctx context.Context, profile string) (Assessment, error) {
	body := map[string]any{}
	if profile != "" {
		body["profile"] = profile
	}
	var resp Assessment
	err := c.do(ctx, http.MethodPost, "v0/assessments", body, &resp)
	return resp, err
}

// GetAssessment fetches an assessment by id.
func (c *Client) GetAssessment(ctx context.Context, id string) (Assessment, error) {
	var resp Assessment
	err := c.do(ctx, http.MethodGet, c.assessmentPath(id, ""), nil, &resp)
	return resp, err
}

// StepSchema fetches a step's field schema in the context of an assessment.
func (c *Client) StepSchema(ctx context.Context, assessmentID, key string) (StepDetail, error) {
	var resp StepDetail
	endpoint := fmt.Sprintf("v0/assessments/%s/steps/%s", url.PathEscape(assessmentID), url.PathEscape(key))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitStep stores a step's answers and returns the next step key.
func (c *Client) SubmitStep(ctx context.Context, assessmentID, key string, answers map[string]any) (SubmitStepResult, error) {
	body := map[string]any{"answers": answers}
	var resp SubmitStepResult
	endpoint := fmt.Sprintf("v0/assessments/%s/steps/%s", url.PathEscape(assessmentID), url.PathEscape(key))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AssessmentProgress reports per-objective completion.
func (c *Client) AssessmentProgress(ctx context.Context, id string) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, c.assessmentPath(id, "progress"), nil, &resp)
	return resp, err
}

// SubmitAssessment submits a fully confirmed assessment for review.
func (c *Client) SubmitAssessment(ctx context.Context, id string) (Assessment, error) {
	var resp Assessment
	err := c.do(ctx, http.MethodPost, c.assessmentPath(id, "submit"), nil, &resp)
	return resp, err
}

// CancelAssessment cancels an assessment.
func (c *Client) CancelAssessment(ctx context.Context, id string) (Assessment, error) {
	var resp Assessment
	err := c.do(ctx, http.MethodPost, c.assessmentPath(id, "cancel"), nil, &resp)
	return resp, err
}

// StartReview opens (or returns) the review of a submitted assessment.
func (c *Client) StartReview(ctx context.Context, assessmentID string) (Review, error) {
	var resp Review
	err := c.do(ctx, http.MethodPost, c.assessmentPath(assessmentID, "review"), nil, &resp)
	return resp, err
}

// GetReview fetches a review by id.
func (c *Client) GetReview(ctx context.Context, id string) (Review, error) {
	var resp Review
	err := c.do(ctx, http.MethodGet, c.reviewPath(id, ""), nil, &resp)
	return resp, err
}

// SaveReview writes review data under optimistic locking. The
// expectedTimestamp must be the last_updated value previously read; the
// server rejects the write with 409 when it no longer matches.
func (c *Client) SaveReview(ctx context.Context, id, expectedTimestamp, status string, data map[string]any) (Review, error) {
	body := map[string]any{
		"expected_timestamp": expectedTimestamp,
		"review_data":        data,
	}
	if status != "" {
		body["status"] = status
	}
	var resp Review
	err := c.do(ctx, http.MethodPut, c.reviewPath(id, ""), body, &resp)
	return resp, err
}

// CompleteReview marks an in-progress review complete.
func (c *Client) CompleteReview(ctx context.Context, id, expectedTimestamp string) (Review, error) {
	return c.transition(ctx, id, "complete", expectedTimestamp)
}

// ReopenReview moves a completed review back to in progress.
func (c *Client) ReopenReview(ctx context.Context, id, expectedTimestamp string) (Review, error) {
	return c.transition(ctx, id, "reopen", expectedTimestamp)
}

// FinaliseReview freezes a completed review permanently.
func (c *Client) FinaliseReview(ctx context.Context, id, expectedTimestamp string) (Review, error) {
	return c.transition(ctx, id, "finalise", expectedTimestamp)
}

func (c *Client) transition(ctx context.Context, id, op, expectedTimestamp string) (Review, error) {
	body := map[string]any{"expected_timestamp": expectedTimestamp}
	if err := c.do(ctx, http.MethodPost, c.reviewPath(id, op), body, nil); err != nil {
		return Review{}, err
	}
	return c.GetReview(ctx, id)
}

// ReviewVersions lists the distinct completed versions, newest first.
func (c *Client) ReviewVersions(ctx context.Context, id string) ([]HistoricalVersion, error) {
	var resp struct {
		Versions []HistoricalVersion `json:"versions"`
	}
	err := c.do(ctx, http.MethodGet, c.reviewPath(id, "versions"), nil, &resp)
	return resp.Versions, err
}

// ReviewVersion fetches version n, counted from the oldest (1-based).
func (c *Client) ReviewVersion(ctx context.Context, id string, n int) (HistoricalVersion, error) {
	var resp HistoricalVersion
	err := c.do(ctx, http.MethodGet, c.reviewPath(id, fmt.Sprintf("versions/%d", n)), nil, &resp)
	return resp, err
}

// CurrentReviewVersion fetches the latest distinct completed version.
func (c *Client) CurrentReviewVersion(ctx context.Context, id string) (HistoricalVersion, error) {
	var resp HistoricalVersion
	err := c.do(ctx, http.MethodGet, c.reviewPath(id, "versions/current"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) assessmentPath(id, p string) string {
	endpoint := fmt.Sprintf("v0/assessments/%s", url.PathEscape(id))
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) reviewPath(id, p string) string {
	endpoint := fmt.Sprintf("v0/reviews/%s", url.PathEscape(id))
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

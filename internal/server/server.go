package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"assessline/internal/engine"
	"assessline/internal/fault"
	"assessline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"stale_write"`
	Message string         `json:"message" example:"stale copy: expected timestamp X but stored is Y"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Assessline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Assessline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSteps(group, cfg.Engine)
	registerAssessments(group, cfg.Engine)
	registerReviews(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	}
	return "internal_error"
}

// handleError maps engine faults onto the error envelope with the structured
// detail each fault carries.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve fault.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{"field": ve.Field}
		if ve.Limit > 0 {
			details["limit"] = ve.Limit
			details["actual"] = ve.Actual
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), details)
	}
	var pe fault.PermissionError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": pe.Action})
	}
	var swe fault.StaleWriteError
	if errors.As(err, &swe) {
		return newAPIError(http.StatusConflict, "stale_write", err.Error(), map[string]any{
			"expected_timestamp": swe.Expected,
			"actual_timestamp":   swe.Actual,
		})
	}
	var cle fault.CompletionLockedError
	if errors.As(err, &cle) {
		return newAPIError(http.StatusConflict, "post_completion_change", err.Error(), map[string]any{"finalised": cle.Finalised})
	}
	var ise fault.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{
			"entity":      ise.Entity,
			"from_status": ise.From,
			"to_status":   ise.To,
		})
	}
	var nfe fault.NotFoundError
	if errors.As(err, &nfe) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": nfe.Kind, "code": nfe.Code})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerSteps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-steps",
		Method:      http.MethodGet,
		Path:        "/framework/steps",
		Summary:     "List wizard steps in order",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []StepSummary `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		out := make([]StepSummary, 0, len(e.Steps.Ordered))
		for _, s := range e.Steps.Ordered {
			out = append(out, toStepSummary(s))
		}
		return &struct {
			Body []StepSummary `json:"body"`
		}{Body: out}, nil
	})

	type stepPath struct {
		AssessmentID string `path:"assessment_id"`
		Key          string `path:"key"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-step",
		Method:      http.MethodGet,
		Path:        "/assessments/{assessment_id}/steps/{key}",
		Summary:     "Step schema resolved against an assessment",
	}, func(ctx context.Context, input *stepPath) (*struct {
		Body StepDetail `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		step, fields, err := e.StepSchema(ctx, input.AssessmentID, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		detail := StepDetail{StepSummary: toStepSummary(step), Fields: fields}
		for _, ancestor := range e.Steps.Ancestors(step.Key) {
			detail.Breadcrumbs = append(detail.Breadcrumbs, toStepSummary(ancestor))
		}
		return &struct {
			Body StepDetail `json:"body"`
		}{Body: detail}, nil
	})
}

func registerAssessments(api huma.API, e engine.Engine) {
	type assessmentPath struct {
		ID string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "start-assessment",
		Method:        http.MethodPost,
		Path:          "/assessments",
		Summary:       "Start a self-assessment",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body StartAssessmentRequest `json:"body"`
	}) (*assessmentResponse, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !e.Config.RoleAllows(p.Roles, "assessment.edit") {
			return nil, handleError(fault.PermissionError{Action: "start an assessment"})
		}
		a, err := e.StartAssessment(ctx, input.Body.OrgID, input.Body.Profile, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return newAssessmentResponse(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assessment",
		Method:      http.MethodGet,
		Path:        "/assessments/{id}",
		Summary:     "Fetch an assessment",
	}, func(ctx context.Context, input *assessmentPath) (*assessmentResponse, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetAssessment(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return newAssessmentResponse(a), nil
	})

	type SubmitStepPath struct {
		ID  string `path:"id"`
		Key string `path:"key"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "submit-step",
		Method:      http.MethodPost,
		Path:        "/assessments/{id}/steps/{key}",
		Summary:     "Submit a wizard step",
	}, func(ctx context.Context, input *struct {
		SubmitStepPath
		Body SubmitStepRequest `json:"body"`
	}) (*struct {
		Body SubmitStepResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, next, err := e.SubmitStep(ctx, engine.SubmitStepOptions{
			AssessmentID: input.ID,
			StepKey:      input.Key,
			Answers:      input.Body.Answers,
			ActorID:      p.ActorID,
			CanEdit:      e.Config.RoleAllows(p.Roles, "assessment.edit"),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmitStepResponse `json:"body"`
		}{Body: SubmitStepResponse{Assessment: a, Next: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-assessment",
		Method:      http.MethodPost,
		Path:        "/assessments/{id}/submit",
		Summary:     "Submit a completed assessment for review",
	}, func(ctx context.Context, input *assessmentPath) (*assessmentResponse, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SubmitAssessment(ctx, input.ID, p.ActorID, e.Config.RoleAllows(p.Roles, "assessment.submit"))
		if err != nil {
			return nil, handleError(err)
		}
		return newAssessmentResponse(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-assessment",
		Method:      http.MethodPost,
		Path:        "/assessments/{id}/cancel",
		Summary:     "Cancel an assessment",
	}, func(ctx context.Context, input *assessmentPath) (*assessmentResponse, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !e.Config.RoleAllows(p.Roles, "assessment.edit") {
			return nil, handleError(fault.PermissionError{Action: "cancel this assessment"})
		}
		a, err := e.CancelAssessment(ctx, input.ID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return newAssessmentResponse(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assessment-progress",
		Method:      http.MethodGet,
		Path:        "/assessments/{id}/progress",
		Summary:     "Per-objective completion",
	}, func(ctx context.Context, input *assessmentPath) (*struct {
		Body ProgressResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		objectives, complete, err := e.Progress(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgressResponse `json:"body"`
		}{Body: ProgressResponse{Objectives: objectives, Complete: complete}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-review",
		Method:        http.MethodPost,
		Path:          "/assessments/{id}/review",
		Summary:       "Open an independent review",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *assessmentPath) (*reviewResponse, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !e.Config.RoleAllows(p.Roles, "review.edit") {
			return nil, handleError(fault.PermissionError{Action: "start a review"})
		}
		rv, err := e.StartReview(ctx, input.ID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return newReviewResponse(rv), nil
	})
}

func registerReviews(api huma.API, e engine.Engine) {
	type ReviewPath struct {
		ID string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-review",
		Method:      http.MethodGet,
		Path:        "/reviews/{id}",
		Summary:     "Fetch a review",
	}, func(ctx context.Context, input *ReviewPath) (*reviewResponse, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		rv, err := e.Repo.GetReview(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return newReviewResponse(rv), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-review",
		Method:      http.MethodPut,
		Path:        "/reviews/{id}",
		Summary:     "Save review data under optimistic locking",
	}, func(ctx context.Context, input *struct {
		ReviewPath
		Body SaveReviewRequest `json:"body"`
	}) (*reviewResponse, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rv, err := e.SaveReview(ctx, engine.ReviewSaveOptions{
			ID:                input.ID,
			ExpectedTimestamp: input.Body.ExpectedTimestamp,
			CanEdit:           e.Config.RoleAllows(p.Roles, "review.edit"),
			Status:            input.Body.Status,
			Data:              input.Body.Data,
			ActorID:           p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return newReviewResponse(rv), nil
	})

	transition := func(op, summary, action string, run func(context.Context, engine.ReviewTransitionOptions) error) {
		huma.Register(api, huma.Operation{
			OperationID: op + "-review",
			Method:      http.MethodPost,
			Path:        "/reviews/{id}/" + op,
			Summary:     summary,
		}, func(ctx context.Context, input *struct {
			ReviewPath
			Body ReviewTransitionRequest `json:"body"`
		}) (*struct {
			Body map[string]string `json:"body"`
		}, error) {
			p, authErr := requirePrincipal(ctx)
			if authErr != nil {
				return nil, authErr
			}
			role := ""
			if len(p.Roles) > 0 {
				role = p.Roles[0]
			}
			err := run(ctx, engine.ReviewTransitionOptions{
				ID:                input.ID,
				ExpectedTimestamp: input.Body.ExpectedTimestamp,
				CanEdit:           e.Config.RoleAllows(p.Roles, action),
				ActorID:           p.ActorID,
				Role:              role,
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body map[string]string `json:"body"`
			}{Body: map[string]string{"result": "ok"}}, nil
		})
	}
	transition("complete", "Mark a review complete", "review.edit", func(ctx context.Context, opts engine.ReviewTransitionOptions) error {
		_, err := e.MarkReviewComplete(ctx, opts)
		return err
	})
	transition("reopen", "Reopen a completed review", "review.edit", func(ctx context.Context, opts engine.ReviewTransitionOptions) error {
		_, err := e.ReopenReview(ctx, opts)
		return err
	})
	transition("finalise", "Finalise a completed review", "review.finalise", func(ctx context.Context, opts engine.ReviewTransitionOptions) error {
		_, err := e.FinaliseReview(ctx, opts)
		return err
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-versions",
		Method:      http.MethodGet,
		Path:        "/reviews/{id}/versions",
		Summary:     "Distinct completed versions, newest first",
	}, func(ctx context.Context, input *ReviewPath) (*struct {
		Body VersionsResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		versions, err := e.ReviewVersions(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionsResponse `json:"body"`
		}{Body: VersionsResponse{Versions: versions, Count: len(versions)}}, nil
	})

	type versionPath struct {
		ID string `path:"id"`
		N  int    `path:"n"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "review-version",
		Method:      http.MethodGet,
		Path:        "/reviews/{id}/versions/{n}",
		Summary:     "One version, numbered 1-based from the oldest",
	}, func(ctx context.Context, input *versionPath) (*versionResponse, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		hv, ok, err := e.ReviewVersion(ctx, input.ID, input.N)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("review %s has no version %d", input.ID, input.N), nil)
		}
		return newVersionResponse(hv), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-current-version",
		Method:      http.MethodGet,
		Path:        "/reviews/{id}/versions/current",
		Summary:     "Newest distinct completed version",
	}, func(ctx context.Context, input *ReviewPath) (*versionResponse, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		hv, ok, err := e.CurrentReviewVersion(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("review %s has no completed version", input.ID), nil)
		}
		return newVersionResponse(hv), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-progress",
		Method:      http.MethodGet,
		Path:        "/reviews/{id}/progress",
		Summary:     "Per-objective review completion",
	}, func(ctx context.Context, input *ReviewPath) (*struct {
		Body ReviewProgressResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		objectives, complete, err := e.ReviewProgress(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewProgressResponse `json:"body"`
		}{Body: ReviewProgressResponse{Objectives: objectives, Complete: complete}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Assessline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

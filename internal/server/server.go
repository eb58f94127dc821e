package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"authorline/internal/config"
	"authorline/internal/domain"
	"authorline/internal/engine"
	"authorline/internal/repo"
	"authorline/internal/review"
)

// TaskReader fetches task snapshots from the authoring service.
type TaskReader interface {
	Task(ctx context.Context, projectKey, taskKey string) (domain.Task, error)
}

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	Tasks      TaskReader
	Aggregator review.Aggregator
	AppConfig  *config.Config
	BasePath   string
	Auth       AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"user is not a reviewer on this task"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// forbiddenError marks a reviewer-gate rejection.
type forbiddenError struct {
	Actor string
}

func (e forbiddenError) Error() string {
	return "user " + e.Actor + " is not a reviewer on this task"
}

// New returns an HTTP handler exposing the review API.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Authorline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerReview(group, cfg)
	registerApproved(group, cfg)
	registerUnread(group, cfg)
	registerMessages(group, cfg)
	registerPromotion(group, cfg)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg)

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe forbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"actor": fe.Actor})
	}
	var ae *upstreamError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), map[string]any{"status": ae.Status})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

// upstreamError wraps failures talking to the authoring or terminology
// services so they surface as 502, not 500.
type upstreamError struct {
	Status int
	Err    error
}

func (e *upstreamError) Error() string { return e.Err.Error() }
func (e *upstreamError) Unwrap() error { return e.Err }

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusBadGateway:
		return "upstream_error"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// fetchTask resolves a task snapshot, supplementing reviewer assignments
// from config when the snapshot carries none.
func fetchTask(ctx context.Context, cfg Config, projectKey, taskKey string) (domain.Task, error) {
	task, err := cfg.Tasks.Task(ctx, projectKey, taskKey)
	if err != nil {
		return domain.Task{}, &upstreamError{Status: http.StatusBadGateway, Err: err}
	}
	if len(task.Reviewers) == 0 && cfg.AppConfig != nil {
		task.Reviewers = cfg.AppConfig.Review.DefaultReviewers
	}
	return task, nil
}

// requireReviewer gates review-state mutations to assigned reviewers of an
// in-review task.
func requireReviewer(ctx context.Context, cfg Config, projectKey, taskKey string) (string, error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	task, err := fetchTask(ctx, cfg, projectKey, taskKey)
	if err != nil {
		return "", err
	}
	if !review.ReviewEnabled(&task, actorID) {
		return "", forbiddenError{Actor: actorID}
	}
	return actorID, nil
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

func registerReview(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-review",
		Method:      http.MethodGet,
		Path:        "/projects/{project_key}/tasks/{task_key}/review",
		Summary:     "Aggregated concept reviews for a task",
		Errors:      []int{http.StatusBadGateway, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ProjectKey string `path:"project_key"`
		TaskKey    string `path:"task_key"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := fetchTask(ctx, cfg, input.ProjectKey, input.TaskKey)
		if err != nil {
			return nil, handleError(err)
		}
		res := cfg.Aggregator.Aggregate(ctx, task)
		resp := ReviewResponse{
			TaskKey:           task.Key,
			ProjectKey:        task.ProjectKey,
			ConceptReviews:    res.ConceptReviews,
			ShowControls:      review.ShowReviewControls(&task),
			ReviewEnabled:     review.ReviewEnabled(&task, actorID),
			CanCompleteReview: review.CanCompleteReview(&task, actorID, res.ConceptReviews),
			Partial:           res.IsError(),
		}
		if list, err := cfg.Engine.Repo.ReviewedList(ctx, input.ProjectKey, input.TaskKey); err == nil {
			resp.ApprovalDate = list.ApprovalDate
		}
		for _, e := range res.Errs {
			resp.Errors = append(resp.Errors, e.Error())
		}
		if resp.ConceptReviews == nil {
			resp.ConceptReviews = []domain.ConceptReview{}
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerApproved(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-approved",
		Method:      http.MethodGet,
		Path:        "/projects/{project_key}/tasks/{task_key}/review/approved",
		Summary:     "Approved concept list",
	}, func(ctx context.Context, input *struct {
		ProjectKey string `path:"project_key"`
		TaskKey    string `path:"task_key"`
	}) (*struct {
		Body domain.ReviewedList `json:"body"`
	}, error) {
		list, err := cfg.Engine.Repo.ReviewedList(ctx, input.ProjectKey, input.TaskKey)
		if err != nil {
			return nil, handleError(err)
		}
		if list.ConceptIDs == nil {
			list.ConceptIDs = []string{}
		}
		return &struct {
			Body domain.ReviewedList `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-approved",
		Method:      http.MethodPut,
		Path:        "/projects/{project_key}/tasks/{task_key}/review/approved",
		Summary:     "Replace the approved concept list",
		Errors:      []int{http.StatusForbidden, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		ProjectKey string               `path:"project_key"`
		TaskKey    string               `path:"task_key"`
		Body       SetConceptIDsRequest `json:"body"`
	}) (*struct {
		Body domain.ReviewedList `json:"body"`
	}, error) {
		actorID, err := requireReviewer(ctx, cfg, input.ProjectKey, input.TaskKey)
		if err != nil {
			return nil, handleError(err)
		}
		list, err := cfg.Engine.SetApprovedList(ctx, input.ProjectKey, input.TaskKey, input.Body.ConceptIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if list.ConceptIDs == nil {
			list.ConceptIDs = []string{}
		}
		return &struct {
			Body domain.ReviewedList `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-approval",
		Method:      http.MethodPost,
		Path:        "/projects/{project_key}/tasks/{task_key}/review/concepts/{concept_id}/toggle-approval",
		Summary:     "Flip one concept's approval",
		Errors:      []int{http.StatusForbidden, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		ProjectKey string `path:"project_key"`
		TaskKey    string `path:"task_key"`
		ConceptID  string `path:"concept_id"`
	}) (*struct {
		Body ToggleApprovalResponse `json:"body"`
	}, error) {
		actorID, err := requireReviewer(ctx, cfg, input.ProjectKey, input.TaskKey)
		if err != nil {
			return nil, handleError(err)
		}
		list, err := cfg.Engine.ToggleApproval(ctx, input.ProjectKey, input.TaskKey, input.ConceptID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ToggleApprovalResponse `json:"body"`
		}{Body: ToggleApprovalResponse{
			ConceptID: input.ConceptID,
			Approved:  list.Contains(input.ConceptID),
			List:      list,
		}}, nil
	})
}

func registerUnread(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-unread",
		Method:      http.MethodGet,
		Path:        "/projects/{project_key}/tasks/{task_key}/review/unread",
		Summary:     "Concepts with unread feedback",
	}, func(ctx context.Context, input *struct {
		ProjectKey string `path:"project_key"`
		TaskKey    string `path:"task_key"`
	}) (*struct {
		Body UnreadResponse `json:"body"`
	}, error) {
		ids, err := cfg.Engine.Repo.UnreadConceptIDs(ctx, input.ProjectKey, input.TaskKey)
		if err != nil {
			return nil, handleError(err)
		}
		if ids == nil {
			ids = []string{}
		}
		return &struct {
			Body UnreadResponse `json:"body"`
		}{Body: UnreadResponse{ConceptIDs: ids}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-unread",
		Method:      http.MethodPut,
		Path:        "/projects/{project_key}/tasks/{task_key}/review/unread",
		Summary:     "Replace the unread set",
	}, func(ctx context.Context, input *struct {
		ProjectKey string               `path:"project_key"`
		TaskKey    string               `path:"task_key"`
		Body       SetConceptIDsRequest `json:"body"`
	}) (*struct {
		Body UnreadResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ids, err := cfg.Engine.SetUnread(ctx, input.ProjectKey, input.TaskKey, input.Body.ConceptIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if ids == nil {
			ids = []string{}
		}
		return &struct {
			Body UnreadResponse `json:"body"`
		}{Body: UnreadResponse{ConceptIDs: ids}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-unread",
		Method:      http.MethodPost,
		Path:        "/projects/{project_key}/tasks/{task_key}/review/concepts/{concept_id}/toggle-unread",
		Summary:     "Flip one concept's unread mark",
	}, func(ctx context.Context, input *struct {
		ProjectKey string `path:"project_key"`
		TaskKey    string `path:"task_key"`
		ConceptID  string `path:"concept_id"`
	}) (*struct {
		Body ToggleUnreadResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ids, err := cfg.Engine.ToggleUnread(ctx, input.ProjectKey, input.TaskKey, input.ConceptID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		unread := false
		for _, id := range ids {
			if id == input.ConceptID {
				unread = true
				break
			}
		}
		if ids == nil {
			ids = []string{}
		}
		return &struct {
			Body ToggleUnreadResponse `json:"body"`
		}{Body: ToggleUnreadResponse{ConceptID: input.ConceptID, Unread: unread, ConceptIDs: ids}}, nil
	})
}

func registerMessages(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_key}/tasks/{task_key}/review/messages",
		Summary:     "Review feedback messages",
	}, func(ctx context.Context, input *struct {
		ProjectKey string `path:"project_key"`
		TaskKey    string `path:"task_key"`
	}) (*struct {
		Body MessagesResponse `json:"body"`
	}, error) {
		msgs, err := cfg.Engine.Repo.ListMessages(ctx, input.ProjectKey, input.TaskKey)
		if err != nil {
			return nil, handleError(err)
		}
		threads, err := cfg.Engine.Repo.MessageThreads(ctx, input.ProjectKey, input.TaskKey)
		if err != nil {
			return nil, handleError(err)
		}
		if msgs == nil {
			msgs = []domain.ReviewMessage{}
		}
		return &struct {
			Body MessagesResponse `json:"body"`
		}{Body: MessagesResponse{Items: msgs, Threads: threads}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-message",
		Method:        http.MethodPost,
		Path:          "/projects/{project_key}/tasks/{task_key}/review/messages",
		Summary:       "Post a feedback message",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectKey string             `path:"project_key"`
		TaskKey    string             `path:"task_key"`
		Body       PostMessageRequest `json:"body"`
	}) (*struct {
		Body PostMessageResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		post := domain.ReviewMessagePost{
			Event:             input.Body.Event,
			MessageHTML:       input.Body.MessageHTML,
			FeedbackRequested: input.Body.FeedbackRequested,
			SubjectConceptIDs: input.Body.SubjectConceptIDs,
		}
		msg, err := cfg.Engine.PostMessage(ctx, input.ProjectKey, input.TaskKey, post, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		// The unread notification is a separate step: a failure here leaves
		// the message posted and reports the notify outcome instead of
		// failing the whole request.
		resp := PostMessageResponse{Message: msg, Notified: true}
		if err := cfg.Engine.NotifyUnread(ctx, input.ProjectKey, input.TaskKey, msg.SubjectConceptIDs, actorID); err != nil {
			resp.Notified = false
			resp.NotifyError = err.Error()
		}
		return &struct {
			Body PostMessageResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerPromotion(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "promotion-check",
		Method:      http.MethodGet,
		Path:        "/projects/{project_key}/tasks/{task_key}/promotion",
		Summary:     "Promotion readiness verdict",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		ProjectKey      string `path:"project_key"`
		TaskKey         string `path:"task_key"`
		UnsavedConcepts bool   `query:"unsavedConcepts"`
		DeletedConcepts bool   `query:"deletedCrsConcept"`
	}) (*struct {
		Body PromotionResponse `json:"body"`
	}, error) {
		task, err := fetchTask(ctx, cfg, input.ProjectKey, input.TaskKey)
		if err != nil {
			return nil, handleError(err)
		}
		res := cfg.Aggregator.Aggregate(ctx, task)
		if res.IsError() {
			return nil, handleError(&upstreamError{Status: http.StatusBadGateway, Err: res.Err()})
		}
		verdict := review.Evaluate(review.EvaluateOptions{
			Task:                   &task,
			ConceptReviews:         res.ConceptReviews,
			Activities:             res.Activities,
			HasUnsavedConcepts:     input.UnsavedConcepts,
			DeletedCrsConceptFound: input.DeletedConcepts,
		})
		resp := PromotionResponse{
			TaskKey:        task.Key,
			ProjectKey:     task.ProjectKey,
			Promotable:     verdict.Promotable,
			Warnings:       verdict.Warnings,
			BlockingIssues: verdict.BlockingIssues,
		}
		if resp.Warnings == nil {
			resp.Warnings = []domain.PromotionFlag{}
		}
		if resp.BlockingIssues == nil {
			resp.BlockingIssues = []domain.PromotionFlag{}
		}
		return &struct {
			Body PromotionResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_key}/events",
		Summary:     "List recent review events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectKey string `path:"project_key"`
		TaskKey    string `query:"task_key"`
		Type       string `query:"type"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsBefore(ctx, limit+1, cursorID, input.ProjectKey, input.TaskKey, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return eventPage(items, limit), nil
	})
}

func eventPage(items []domain.Event, limit int) *struct {
	Body paginatedEvents `json:"body"`
} {
	resp := paginatedEvents{Items: []EventResponse{}}
	if len(items) > limit {
		items = items[:limit]
		// The backward scan excludes the cursor itself, so the next page
		// starts just below the last ID served here.
		resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
	}
	for _, evt := range items {
		resp.Items = append(resp.Items, eventResponse(evt))
	}
	return &struct {
		Body paginatedEvents `json:"body"`
	}{Body: resp}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectKey: evt.ProjectKey,
		TaskKey:    evt.TaskKey,
		ConceptID:  evt.ConceptID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
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

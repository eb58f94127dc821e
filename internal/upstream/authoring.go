package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"authorline/internal/domain"
)

// AuthoringClient talks to the task service and its traceability log. It is
// the source of task snapshots and branch activities; this module never
// writes through it.
type AuthoringClient struct {
	client
}

// NewAuthoringClient creates a client for the authoring service.
func NewAuthoringClient(baseURL, bearerToken string) *AuthoringClient {
	return &AuthoringClient{client: newClient(baseURL, bearerToken, 10*time.Second)}
}

// Task fetches one task snapshot.
func (c *AuthoringClient) Task(ctx context.Context, projectKey, taskKey string) (domain.Task, error) {
	var task domain.Task
	endpoint := fmt.Sprintf("projects/%s/tasks/%s", url.PathEscape(projectKey), url.PathEscape(taskKey))
	if err := c.do(ctx, "GET", endpoint, nil, &task); err != nil {
		return domain.Task{}, fmt.Errorf("fetch task %s/%s: %w", projectKey, taskKey, err)
	}
	return task, nil
}

type activitiesPage struct {
	Content       []domain.Activity `json:"content"`
	TotalElements int               `json:"totalElements"`
	Last          bool              `json:"last"`
}

// Activities returns the branch's committed change log, oldest first. The
// traceability endpoint pages its results; every page is drained.
func (c *AuthoringClient) Activities(ctx context.Context, branchPath string) ([]domain.Activity, error) {
	if branchPath == "" {
		return nil, nil
	}
	var all []domain.Activity
	for page := 0; ; page++ {
		endpoint := fmt.Sprintf("traceability-service/activities?onBranch=%s&page=%d&size=500&sortBy=commitDate&sortDirection=asc",
			url.QueryEscape(branchPath), page)
		var p activitiesPage
		if err := c.do(ctx, "GET", endpoint, nil, &p); err != nil {
			return nil, fmt.Errorf("fetch activities for %s: %w", branchPath, err)
		}
		all = append(all, p.Content...)
		if p.Last || len(p.Content) == 0 {
			break
		}
	}
	return all, nil
}

package authorlinesdk

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

// Client is a minimal Authorline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectKey  string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		ProjectKey: projectKey,
		Timeout:    10 * time.Second,
	}
}

// ConceptReview is the API review model (partial).
type ConceptReview struct {
	ConceptID string `json:"conceptId"`
	Approved  bool   `json:"approved"`
	Unread    bool   `json:"unread"`
}

// Review is the aggregated review panel for one task.
type Review struct {
	TaskKey           string          `json:"taskKey"`
	ProjectKey        string          `json:"projectKey"`
	ConceptReviews    []ConceptReview `json:"conceptReviews"`
	ApprovalDate      string          `json:"approvalDate"`
	ShowControls      bool            `json:"showControls"`
	ReviewEnabled     bool            `json:"reviewEnabled"`
	CanCompleteReview bool            `json:"canCompleteReview"`
	Partial           bool            `json:"partial"`
}

// ReviewedList is the approved concept set.
type ReviewedList struct {
	ConceptIDs   []string `json:"conceptIds"`
	ApprovalDate string   `json:"approvalDate"`
}

// Message is one feedback entry.
type Message struct {
	ID                string   `json:"id"`
	MessageHTML       string   `json:"messageHtml"`
	CreationDate      string   `json:"creationDate"`
	FromUsername      string   `json:"fromUsername"`
	FeedbackRequested bool     `json:"feedbackRequested"`
	SubjectConceptIDs []string `json:"subjectConceptIds"`
}

// PostMessageResult carries the stored message and notify outcome.
type PostMessageResult struct {
	Message     Message `json:"message"`
	Notified    bool    `json:"notified"`
	NotifyError string  `json:"notifyError"`
}

// PromotionFlag is one readiness check outcome.
type PromotionFlag struct {
	CheckTitle      string `json:"checkTitle"`
	CheckWarning    string `json:"checkWarning"`
	BlocksPromotion bool   `json:"blocksPromotion"`
}

// Promotion is the readiness verdict.
type Promotion struct {
	Promotable     bool            `json:"promotable"`
	Warnings       []PromotionFlag `json:"warnings"`
	BlockingIssues []PromotionFlag `json:"blockingIssues"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// TaskReview fetches the aggregated review panel for a task.
func (c *Client) TaskReview(ctx context.Context, taskKey string) (Review, error) {
	var resp Review
	err := c.do(ctx, http.MethodGet, c.taskPath(taskKey, "review"), nil, &resp)
	return resp, err
}

// ApprovedList fetches the approved concept set.
func (c *Client) ApprovedList(ctx context.Context, taskKey string) (ReviewedList, error) {
	var resp ReviewedList
	err := c.do(ctx, http.MethodGet, c.taskPath(taskKey, "review/approved"), nil, &resp)
	return resp, err
}

// ToggleApproval flips one concept's approval.
func (c *Client) ToggleApproval(ctx context.Context, taskKey, conceptID string) (ReviewedList, error) {
	var resp struct {
		List ReviewedList `json:"list"`
	}
	endpoint := c.taskPath(taskKey, "review/concepts/"+url.PathEscape(conceptID)+"/toggle-approval")
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.List, err
}

// ToggleUnread flips one concept's unread mark and returns the new set.
func (c *Client) ToggleUnread(ctx context.Context, taskKey, conceptID string) ([]string, error) {
	var resp struct {
		ConceptIDs []string `json:"conceptIds"`
	}
	endpoint := c.taskPath(taskKey, "review/concepts/"+url.PathEscape(conceptID)+"/toggle-unread")
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.ConceptIDs, err
}

// PostMessage appends a feedback message, marking its subjects unread.
func (c *Client) PostMessage(ctx context.Context, taskKey, messageHTML string, subjectConceptIDs []string) (PostMessageResult, error) {
	body := map[string]any{
		"messageHtml":       messageHTML,
		"subjectConceptIds": subjectConceptIDs,
	}
	var resp PostMessageResult
	err := c.do(ctx, http.MethodPost, c.taskPath(taskKey, "review/messages"), body, &resp)
	return resp, err
}

// PromotionCheck evaluates promotion readiness for a task.
func (c *Client) PromotionCheck(ctx context.Context, taskKey string) (Promotion, error) {
	var resp Promotion
	err := c.do(ctx, http.MethodGet, c.taskPath(taskKey, "promotion"), nil, &resp)
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
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
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

func (c *Client) taskPath(taskKey, p string) string {
	return fmt.Sprintf("v0/projects/%s/tasks/%s/%s",
		url.PathEscape(c.ProjectKey), url.PathEscape(taskKey), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

package server

import (
	"authorline/internal/domain"
)

// ReviewResponse is the aggregated review panel for one task.
type ReviewResponse struct {
	TaskKey           string                 `json:"taskKey"`
	ProjectKey        string                 `json:"projectKey"`
	ConceptReviews    []domain.ConceptReview `json:"conceptReviews"`
	ApprovalDate      string                 `json:"approvalDate,omitempty" format:"date-time"`
	ShowControls      bool                   `json:"showControls"`
	ReviewEnabled     bool                   `json:"reviewEnabled"`
	CanCompleteReview bool                   `json:"canCompleteReview"`
	Partial           bool                   `json:"partial"`
	Errors            []string               `json:"errors,omitempty"`
}

// SetConceptIDsRequest replaces a whole concept-ID set.
type SetConceptIDsRequest struct {
	ConceptIDs []string `json:"conceptIds"`
}

// UnreadResponse is the current unread set.
type UnreadResponse struct {
	ConceptIDs []string `json:"conceptIds"`
}

// ToggleApprovalResponse reports one approval flip and the resulting list.
type ToggleApprovalResponse struct {
	ConceptID string              `json:"conceptId"`
	Approved  bool                `json:"approved"`
	List      domain.ReviewedList `json:"list"`
}

// ToggleUnreadResponse reports one unread flip and the resulting set.
type ToggleUnreadResponse struct {
	ConceptID  string   `json:"conceptId"`
	Unread     bool     `json:"unread"`
	ConceptIDs []string `json:"conceptIds"`
}

// MessagesResponse lists a task's review messages oldest first, plus the
// same messages grouped into per-concept threads.
type MessagesResponse struct {
	Items   []domain.ReviewMessage         `json:"items"`
	Threads map[string]domain.ReviewThread `json:"threads"`
}

// PostMessageRequest appends a message to the task's feedback log.
type PostMessageRequest struct {
	Event             string   `json:"event,omitempty"`
	MessageHTML       string   `json:"messageHtml"`
	FeedbackRequested bool     `json:"feedbackRequested,omitempty"`
	SubjectConceptIDs []string `json:"subjectConceptIds,omitempty"`
}

// PostMessageResponse carries the stored message and the outcome of the
// follow-up unread notification.
type PostMessageResponse struct {
	Message     domain.ReviewMessage `json:"message"`
	Notified    bool                 `json:"notified"`
	NotifyError string               `json:"notifyError,omitempty"`
}

// PromotionResponse is the evaluated readiness verdict.
type PromotionResponse struct {
	TaskKey        string                 `json:"taskKey"`
	ProjectKey     string                 `json:"projectKey"`
	Promotable     bool                   `json:"promotable"`
	Warnings       []domain.PromotionFlag `json:"warnings"`
	BlockingIssues []domain.PromotionFlag `json:"blockingIssues"`
}

// EventResponse is one audit-log entry.
type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectKey string         `json:"project_key"`
	TaskKey    string         `json:"task_key"`
	ConceptID  string         `json:"concept_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

package domain

import "time"

// TaskStatus values mirror the authoring platform's task lifecycle.
type TaskStatus string

const (
	TaskStatusNew             TaskStatus = "New"
	TaskStatusInProgress      TaskStatus = "In Progress"
	TaskStatusInReview        TaskStatus = "In Review"
	TaskStatusReviewCompleted TaskStatus = "Review Completed"
	TaskStatusPromoted        TaskStatus = "Promoted"
	TaskStatusCompleted       TaskStatus = "Completed"
	TaskStatusAutoClassifying TaskStatus = "Auto Classifying"
	TaskStatusAutoPromoting   TaskStatus = "Auto Promoting"
	TaskStatusDeleted         TaskStatus = "Deleted"
	TaskStatusUnknown         TaskStatus = "Unknown"
)

// BranchState describes a task branch relative to its parent project branch.
type BranchState string

const (
	BranchStateUpToDate BranchState = "UP_TO_DATE"
	BranchStateForward  BranchState = "FORWARD"
	BranchStateBehind   BranchState = "BEHIND"
	BranchStateDiverged BranchState = "DIVERGED"
	BranchStateStale    BranchState = "STALE"
)

// FeedbackStatus is the task-level read state of review feedback.
type FeedbackStatus string

const (
	FeedbackStatusRead   FeedbackStatus = "read"
	FeedbackStatusUnread FeedbackStatus = "unread"
	FeedbackStatusNone   FeedbackStatus = "none"
)

type ValidationStatus string

const (
	ValidationNotTriggered ValidationStatus = "NOT_TRIGGERED"
	ValidationFailed       ValidationStatus = "FAILED"
	ValidationPending      ValidationStatus = "PENDING"
	ValidationStale        ValidationStatus = "STALE"
	ValidationScheduled    ValidationStatus = "SCHEDULED"
	ValidationCompleted    ValidationStatus = "COMPLETED"
)

type ClassificationStatus string

const (
	ClassificationScheduled        ClassificationStatus = "SCHEDULED"
	ClassificationRunning          ClassificationStatus = "RUNNING"
	ClassificationCompleted        ClassificationStatus = "COMPLETED"
	ClassificationFailed           ClassificationStatus = "FAILED"
	ClassificationCancelled        ClassificationStatus = "CANCELLED"
	ClassificationStale            ClassificationStatus = "STALE"
	ClassificationSavingInProgress ClassificationStatus = "SAVING_IN_PROGRESS"
	ClassificationSaved            ClassificationStatus = "SAVED"
	ClassificationSaveFailed       ClassificationStatus = "SAVE_FAILED"
)

// ActivityTypeClassificationSave marks the traceability entry written when
// classification results are saved to a branch.
const ActivityTypeClassificationSave = "CLASSIFICATION_SAVE"

// Task is a read-only snapshot of an authoring task owned by the upstream
// task service. This module never mutates it.
type Task struct {
	ProjectKey             string           `json:"projectKey"`
	Key                    string           `json:"key"`
	Summary                string           `json:"summary,omitempty"`
	BranchPath             string           `json:"branchPath"`
	BranchState            BranchState      `json:"branchState"`
	BranchBaseTimestamp    int64            `json:"branchBaseTimeStamp,omitempty"`
	BranchHeadTimestamp    int64            `json:"branchHeadTimeStamp"`
	Status                 TaskStatus       `json:"status"`
	FeedbackMessageStatus  string           `json:"feedBackMessageStatus,omitempty"`
	LatestClassification   *Classification  `json:"latestClassificationJson,omitempty"`
	LatestValidationStatus ValidationStatus `json:"latestValidationStatus,omitempty"`
	Assignee               string           `json:"assignee,omitempty"`
	Reviewers              []string         `json:"reviewers,omitempty"`
	Created                string           `json:"created,omitempty"`
	Updated                string           `json:"updated,omitempty"`
}

// Classification is an immutable snapshot embedded in a Task.
type Classification struct {
	ID                                string               `json:"id,omitempty"`
	Status                            ClassificationStatus `json:"status"`
	CreationDate                      time.Time            `json:"creationDate"`
	CompletionDate                    time.Time            `json:"completionDate,omitempty"`
	LastCommitDate                    time.Time            `json:"lastCommitDate,omitempty"`
	EquivalentConceptsFound           bool                 `json:"equivalentConceptsFound"`
	InferredRelationshipChangesFound  bool                 `json:"inferredRelationshipChangesFound"`
	RedundantStatedRelationshipsFound bool                 `json:"redundantStatedRelationshipsFound"`
}

// ConceptChange records one concept touched by an activity.
type ConceptChange struct {
	ConceptID string `json:"conceptId"`
}

// Activity is one committed entry of a branch's change log, as returned by
// the traceability service in chronological order.
type Activity struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	Branch         string          `json:"branch"`
	BranchDepth    int             `json:"branchDepth"`
	ActivityType   string          `json:"activityType"`
	CommitDate     time.Time       `json:"commitDate"`
	ConceptChanges []ConceptChange `json:"conceptChanges,omitempty"`
}

// ConceptRecord is the display-ready projection of a terminology concept.
type ConceptRecord struct {
	ConceptID     string `json:"conceptId"`
	Active        bool   `json:"active"`
	FSNTerm       string `json:"fsnTerm,omitempty"`
	PreferredTerm string `json:"preferredTerm,omitempty"`
	IDAndFSNTerm  string `json:"idAndFsnTerm,omitempty"`
	ModuleID      string `json:"moduleId,omitempty"`
}

// ReviewMessage is one entry in a concept's message thread.
type ReviewMessage struct {
	ID                string   `json:"id"`
	MessageHTML       string   `json:"messageHtml"`
	CreationDate      string   `json:"creationDate" format:"date-time"`
	FromUsername      string   `json:"fromUsername"`
	FeedbackRequested bool     `json:"feedbackRequested"`
	SubjectConceptIDs []string `json:"subjectConceptIds,omitempty"`
}

// ReviewThread is the per-concept message thread summary.
type ReviewThread struct {
	ID        string          `json:"id"`
	ConceptID string          `json:"conceptId"`
	ViewDate  string          `json:"viewDate,omitempty" format:"date-time"`
	Messages  []ReviewMessage `json:"messages"`
}

// ReviewMessagePost is the payload for appending a message to a thread.
type ReviewMessagePost struct {
	Event             string   `json:"event"`
	MessageHTML       string   `json:"messageHtml"`
	FeedbackRequested bool     `json:"feedbackRequested"`
	SubjectConceptIDs []string `json:"subjectConceptIds"`
}

// ReviewedList is the approved-concept set for one (projectKey, taskKey).
// ConceptIDs carries no duplicates; ApprovalDate is the instant of the last
// mutation of the set, not of any individual member.
type ReviewedList struct {
	ConceptIDs   []string `json:"conceptIds"`
	ApprovalDate string   `json:"approvalDate" format:"date-time"`
}

// Contains reports membership of a concept ID in the reviewed list.
func (l ReviewedList) Contains(conceptID string) bool {
	for _, id := range l.ConceptIDs {
		if id == conceptID {
			return true
		}
	}
	return false
}

// ConceptReview joins a resolved concept with its current review state.
// Instances are rebuilt on every aggregation; the authoritative approved and
// unread state lives in the review store.
type ConceptReview struct {
	ConceptID string         `json:"conceptId"`
	Concept   *ConceptRecord `json:"concept,omitempty"`
	Reviews   *ReviewThread  `json:"reviews,omitempty"`
	Unread    bool           `json:"unread"`
	Approved  bool           `json:"approved"`
}

// PromotionFlag is one outcome of a promotion readiness check.
type PromotionFlag struct {
	CheckTitle      string `json:"checkTitle"`
	CheckWarning    string `json:"checkWarning,omitempty"`
	BlocksPromotion bool   `json:"blocksPromotion"`
}

// PromotionResult partitions evaluated flags into warnings and blockers.
type PromotionResult struct {
	Promotable     bool            `json:"promotable"`
	Warnings       []PromotionFlag `json:"warnings"`
	BlockingIssues []PromotionFlag `json:"blockingIssues"`
}

// Event is one audit-log entry for a review-state mutation.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectKey string `json:"project_key"`
	TaskKey    string `json:"task_key"`
	ConceptID  string `json:"concept_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

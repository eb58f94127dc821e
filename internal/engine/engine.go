package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"authorline/internal/domain"
	"authorline/internal/events"
	"authorline/internal/repo"
)

// Engine owns every mutation of review state. Reads go through Repo; writes
// run in a transaction that also appends an audit event.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func validateKeys(projectKey, taskKey, actorID string) error {
	if projectKey == "" {
		return errors.New("project key is required")
	}
	if taskKey == "" {
		return errors.New("task key is required")
	}
	if actorID == "" {
		return errors.New("actor is required")
	}
	return nil
}

// ToggleApproval flips one concept's membership in the approved set and
// returns the resulting list. Applying it twice restores the original set.
func (e Engine) ToggleApproval(ctx context.Context, projectKey, taskKey, conceptID, actorID string) (domain.ReviewedList, error) {
	if err := validateKeys(projectKey, taskKey, actorID); err != nil {
		return domain.ReviewedList{}, err
	}
	if conceptID == "" {
		return domain.ReviewedList{}, errors.New("concept id is required")
	}
	current, err := e.Repo.ReviewedList(ctx, projectKey, taskKey)
	if err != nil {
		return domain.ReviewedList{}, err
	}
	var next []string
	approved := true
	for _, id := range current.ConceptIDs {
		if id == conceptID {
			approved = false
			continue
		}
		next = append(next, id)
	}
	if approved {
		next = append(next, conceptID)
	}
	list, err := e.replaceApproved(ctx, projectKey, taskKey, conceptID, actorID, next,
		events.EventPayload{"conceptId": conceptID, "approved": approved, "count": len(next)})
	if err != nil {
		return domain.ReviewedList{}, fmt.Errorf("toggle approval for %s: %w", conceptID, err)
	}
	return list, nil
}

// SetApprovedList replaces the whole approved set.
func (e Engine) SetApprovedList(ctx context.Context, projectKey, taskKey string, conceptIDs []string, actorID string) (domain.ReviewedList, error) {
	if err := validateKeys(projectKey, taskKey, actorID); err != nil {
		return domain.ReviewedList{}, err
	}
	list, err := e.replaceApproved(ctx, projectKey, taskKey, "", actorID, conceptIDs,
		events.EventPayload{"count": len(conceptIDs)})
	if err != nil {
		return domain.ReviewedList{}, fmt.Errorf("set approved list: %w", err)
	}
	return list, nil
}

func (e Engine) replaceApproved(ctx context.Context, projectKey, taskKey, conceptID, actorID string, conceptIDs []string, payload events.EventPayload) (domain.ReviewedList, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReviewedList{}, err
	}
	defer tx.Rollback()

	approvalDate := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.ReplaceReviewedList(ctx, tx, projectKey, taskKey, conceptIDs, approvalDate); err != nil {
		return domain.ReviewedList{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeApprovedSet, projectKey, taskKey, conceptID, actorID, payload); err != nil {
		return domain.ReviewedList{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReviewedList{}, err
	}
	return e.Repo.ReviewedList(ctx, projectKey, taskKey)
}

// ToggleUnread flips one concept's membership in the unread set.
func (e Engine) ToggleUnread(ctx context.Context, projectKey, taskKey, conceptID, actorID string) ([]string, error) {
	if err := validateKeys(projectKey, taskKey, actorID); err != nil {
		return nil, err
	}
	if conceptID == "" {
		return nil, errors.New("concept id is required")
	}
	current, err := e.Repo.UnreadConceptIDs(ctx, projectKey, taskKey)
	if err != nil {
		return nil, err
	}
	var next []string
	unread := true
	for _, id := range current {
		if id == conceptID {
			unread = false
			continue
		}
		next = append(next, id)
	}
	if unread {
		next = append(next, conceptID)
	}
	ids, err := e.replaceUnread(ctx, projectKey, taskKey, conceptID, actorID, next,
		events.EventPayload{"conceptId": conceptID, "unread": unread, "count": len(next)})
	if err != nil {
		return nil, fmt.Errorf("toggle unread for %s: %w", conceptID, err)
	}
	return ids, nil
}

// SetUnread replaces the whole unread set.
func (e Engine) SetUnread(ctx context.Context, projectKey, taskKey string, conceptIDs []string, actorID string) ([]string, error) {
	if err := validateKeys(projectKey, taskKey, actorID); err != nil {
		return nil, err
	}
	ids, err := e.replaceUnread(ctx, projectKey, taskKey, "", actorID, conceptIDs,
		events.EventPayload{"count": len(conceptIDs)})
	if err != nil {
		return nil, fmt.Errorf("set unread list: %w", err)
	}
	return ids, nil
}

func (e Engine) replaceUnread(ctx context.Context, projectKey, taskKey, conceptID, actorID string, conceptIDs []string, payload events.EventPayload) ([]string, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	markedAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.ReplaceUnread(ctx, tx, projectKey, taskKey, conceptIDs, markedAt); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeUnreadSet, projectKey, taskKey, conceptID, actorID, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Repo.UnreadConceptIDs(ctx, projectKey, taskKey)
}

// PostMessage appends one review message to the task's feedback log. It does
// not touch the unread set; callers follow up with NotifyUnread so a failed
// notification can be retried without re-posting the message.
func (e Engine) PostMessage(ctx context.Context, projectKey, taskKey string, post domain.ReviewMessagePost, actorID string) (domain.ReviewMessage, error) {
	if err := validateKeys(projectKey, taskKey, actorID); err != nil {
		return domain.ReviewMessage{}, err
	}
	if post.MessageHTML == "" {
		return domain.ReviewMessage{}, errors.New("message is required")
	}
	msg := domain.ReviewMessage{
		ID:                uuid.NewString(),
		MessageHTML:       post.MessageHTML,
		CreationDate:      e.now().UTC().Format(time.RFC3339),
		FromUsername:      actorID,
		FeedbackRequested: post.FeedbackRequested,
		SubjectConceptIDs: post.SubjectConceptIDs,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReviewMessage{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertMessage(ctx, tx, projectKey, taskKey, post.Event, msg); err != nil {
		return domain.ReviewMessage{}, fmt.Errorf("insert message: %w", err)
	}
	payload := events.EventPayload{"messageId": msg.ID, "feedbackRequested": msg.FeedbackRequested, "subjectConceptIds": msg.SubjectConceptIDs}
	if err := e.Events.Append(ctx, tx, events.TypeMessagePosted, projectKey, taskKey, "", actorID, payload); err != nil {
		return domain.ReviewMessage{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReviewMessage{}, err
	}
	return msg, nil
}

// NotifyUnread marks the given concepts unread, leaving the rest of the
// unread set alone. Safe to retry: marking an already-unread concept is a
// no-op.
func (e Engine) NotifyUnread(ctx context.Context, projectKey, taskKey string, conceptIDs []string, actorID string) error {
	if err := validateKeys(projectKey, taskKey, actorID); err != nil {
		return err
	}
	if len(conceptIDs) == 0 {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	markedAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.AddUnread(ctx, tx, projectKey, taskKey, conceptIDs, markedAt); err != nil {
		return fmt.Errorf("mark unread: %w", err)
	}
	payload := events.EventPayload{"conceptIds": conceptIDs, "count": len(conceptIDs), "notify": true}
	if err := e.Events.Append(ctx, tx, events.TypeUnreadSet, projectKey, taskKey, "", actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

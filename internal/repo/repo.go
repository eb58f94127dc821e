package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"authorline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ReviewedList returns the approved-concept set for a task. A task with no
// approvals yields an empty list, not ErrNotFound.
func (r Repo) ReviewedList(ctx context.Context, projectKey, taskKey string) (domain.ReviewedList, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT concept_id, approval_date FROM reviewed_lists WHERE project_key=? AND task_key=? ORDER BY concept_id`, projectKey, taskKey)
	if err != nil {
		return domain.ReviewedList{}, err
	}
	defer rows.Close()
	var list domain.ReviewedList
	for rows.Next() {
		var id, approved string
		if err := rows.Scan(&id, &approved); err != nil {
			return domain.ReviewedList{}, err
		}
		list.ConceptIDs = append(list.ConceptIDs, id)
		if approved > list.ApprovalDate {
			list.ApprovalDate = approved
		}
	}
	return list, rows.Err()
}

// ReplaceReviewedList replaces the whole approved set in one transaction.
func (r Repo) ReplaceReviewedList(ctx context.Context, tx *sql.Tx, projectKey, taskKey string, conceptIDs []string, approvalDate string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM reviewed_lists WHERE project_key=? AND task_key=?`, projectKey, taskKey); err != nil {
		return err
	}
	for _, id := range dedupe(conceptIDs) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO reviewed_lists(project_key,task_key,concept_id,approval_date) VALUES (?,?,?,?)`,
			projectKey, taskKey, id, approvalDate); err != nil {
			return err
		}
	}
	return nil
}

// UnreadConceptIDs returns concept IDs carrying unread feedback, ordered by
// when they were marked.
func (r Repo) UnreadConceptIDs(ctx context.Context, projectKey, taskKey string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT concept_id FROM unread_concepts WHERE project_key=? AND task_key=? ORDER BY marked_at, concept_id`, projectKey, taskKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceUnread replaces the whole unread set in one transaction.
func (r Repo) ReplaceUnread(ctx context.Context, tx *sql.Tx, projectKey, taskKey string, conceptIDs []string, markedAt string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM unread_concepts WHERE project_key=? AND task_key=?`, projectKey, taskKey); err != nil {
		return err
	}
	for _, id := range dedupe(conceptIDs) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO unread_concepts(project_key,task_key,concept_id,marked_at) VALUES (?,?,?,?)`,
			projectKey, taskKey, id, markedAt); err != nil {
			return err
		}
	}
	return nil
}

// AddUnread adds concept IDs to the unread set, leaving existing members
// untouched.
func (r Repo) AddUnread(ctx context.Context, tx *sql.Tx, projectKey, taskKey string, conceptIDs []string, markedAt string) error {
	for _, id := range dedupe(conceptIDs) {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO unread_concepts(project_key,task_key,concept_id,marked_at) VALUES (?,?,?,?)`,
			projectKey, taskKey, id, markedAt); err != nil {
			return err
		}
	}
	return nil
}

// InsertMessage stores one review message. event is the caller-declared
// message kind carried through from the post payload.
func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, projectKey, taskKey, event string, msg domain.ReviewMessage) error {
	subjects, err := json.Marshal(msg.SubjectConceptIDs)
	if err != nil {
		return fmt.Errorf("marshal subject concept ids: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO review_messages(id,project_key,task_key,event,message_html,from_username,creation_date,feedback_requested,subject_concept_ids_json) VALUES (?,?,?,?,?,?,?,?,?)`,
		msg.ID, projectKey, taskKey, event, msg.MessageHTML, msg.FromUsername, msg.CreationDate, boolInt(msg.FeedbackRequested), string(subjects))
	return err
}

// ListMessages returns a task's review messages oldest first.
func (r Repo) ListMessages(ctx context.Context, projectKey, taskKey string) ([]domain.ReviewMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,message_html,from_username,creation_date,feedback_requested,subject_concept_ids_json FROM review_messages WHERE project_key=? AND task_key=? ORDER BY creation_date, id`, projectKey, taskKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReviewMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, msg)
	}
	return res, rows.Err()
}

// MessageThreads groups a task's messages into per-concept threads. A
// message subjecting several concepts appears in each of their threads.
func (r Repo) MessageThreads(ctx context.Context, projectKey, taskKey string) (map[string]domain.ReviewThread, error) {
	msgs, err := r.ListMessages(ctx, projectKey, taskKey)
	if err != nil {
		return nil, err
	}
	threads := map[string]domain.ReviewThread{}
	for _, msg := range msgs {
		for _, conceptID := range msg.SubjectConceptIDs {
			if conceptID == "" {
				continue
			}
			t, ok := threads[conceptID]
			if !ok {
				t = domain.ReviewThread{
					ID:        strings.Join([]string{projectKey, taskKey, conceptID}, "/"),
					ConceptID: conceptID,
				}
			}
			t.Messages = append(t.Messages, msg)
			threads[conceptID] = t
		}
	}
	return threads, nil
}

func scanMessage(rows *sql.Rows) (domain.ReviewMessage, error) {
	var msg domain.ReviewMessage
	var feedback int
	var subjects string
	if err := rows.Scan(&msg.ID, &msg.MessageHTML, &msg.FromUsername, &msg.CreationDate, &feedback, &subjects); err != nil {
		return msg, err
	}
	msg.FeedbackRequested = feedback != 0
	if err := json.Unmarshal([]byte(subjects), &msg.SubjectConceptIDs); err != nil {
		return msg, fmt.Errorf("decode subject concept ids: %w", err)
	}
	return msg, nil
}

// LatestEvents returns the newest audit events first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, projectKey, taskKey, evtType string) ([]domain.Event, error) {
	return r.LatestEventsBefore(ctx, limit, 0, projectKey, taskKey, evtType)
}

// LatestEventsBefore pages the audit log backwards: events with IDs strictly
// below the cursor, newest first. A zero cursor means start at the head.
func (r Repo) LatestEventsBefore(ctx context.Context, limit int, cursor int64, projectKey, taskKey, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectKey != "" {
		clauses = append(clauses, "project_key=?")
		args = append(args, projectKey)
	}
	if taskKey != "" {
		clauses = append(clauses, "task_key=?")
		args = append(args, taskKey)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_key,task_key,concept_id,payload_json,actor_id FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectKey string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if projectKey != "" {
		clauses = append(clauses, "project_key=?")
		args = append(args, projectKey)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_key,task_key,concept_id,payload_json,actor_id FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var conceptID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectKey, &e.TaskKey, &conceptID, &e.Payload, &e.ActorID); err != nil {
			return nil, err
		}
		if conceptID.Valid {
			e.ConceptID = conceptID.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, scoped to a project when
// projectKey is non-empty.
func (r Repo) LatestEventID(ctx context.Context, projectKey string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if projectKey != "" {
		query += ` WHERE project_key=?`
		args = append(args, projectKey)
	}
	row := r.DB.QueryRowContext(ctx, query, args...)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Review-state mutation event types.
const (
	TypeApprovedSet   = "review.approved.set"
	TypeUnreadSet     = "review.unread.set"
	TypeMessagePosted = "review.message.posted"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records one review-state mutation inside the caller's transaction.
// conceptID may be empty for whole-list mutations.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectKey, taskKey, conceptID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_key,task_key,concept_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, projectKey, taskKey, nullable(conceptID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

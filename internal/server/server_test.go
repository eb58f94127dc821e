package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"authorline/internal/config"
	"authorline/internal/db"
	"authorline/internal/domain"
	"authorline/internal/engine"
	"authorline/internal/migrate"
	"authorline/internal/review"
)

type fakeTasks struct {
	task domain.Task
}

func (f *fakeTasks) Task(ctx context.Context, projectKey, taskKey string) (domain.Task, error) {
	t := f.task
	t.ProjectKey = projectKey
	t.Key = taskKey
	return t, nil
}

type fakeActivities struct {
	activities []domain.Activity
}

func (f *fakeActivities) Activities(ctx context.Context, branchPath string) ([]domain.Activity, error) {
	return f.activities, nil
}

type fakeConcepts struct{}

func (fakeConcepts) ResolveConcepts(ctx context.Context, branch string, conceptIDs []string) ([]domain.ConceptRecord, error) {
	var out []domain.ConceptRecord
	for _, id := range conceptIDs {
		out = append(out, domain.ConceptRecord{ConceptID: id, Active: true, FSNTerm: "Concept " + id})
	}
	return out, nil
}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T, task domain.Task, activities []domain.Activity) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	e.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	tasks := &fakeTasks{task: task}
	agg := review.Aggregator{
		Activities: &fakeActivities{activities: activities},
		Concepts:   fakeConcepts{},
		State:      e.Repo,
	}
	handler, err := New(Config{
		Engine:     e,
		Tasks:      tasks,
		Aggregator: agg,
		AppConfig:  config.Default(),
		BasePath:   "/v0",
		Auth:       AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func inReviewTask() domain.Task {
	return domain.Task{
		BranchPath:  "MAIN/AU/AU-12",
		BranchState: domain.BranchStateForward,
		Status:      domain.TaskStatusInReview,
		Reviewers:   []string{"rev1"},
	}
}

func changeActivities() []domain.Activity {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return []domain.Activity{
		{ActivityType: "CONTENT_CHANGE", CommitDate: t0, ConceptChanges: []domain.ConceptChange{{ConceptID: "100"}, {ConceptID: "200"}}},
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t, inReviewTask(), nil)
	res, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, inReviewTask(), changeActivities())
	res, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/projects/AU/tasks/AU-12/review", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestToggleApprovalFlow(t *testing.T) {
	ts := newTestServer(t, inReviewTask(), changeActivities())
	reviewer := map[string]string{"X-Actor-Id": "rev1"}
	url := ts.URL + "/v0/projects/AU/tasks/AU-12/review/concepts/100/toggle-approval"

	res, data := doJSON(t, ts.client, http.MethodPost, url, nil, reviewer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("toggle status %d: %s", res.StatusCode, data)
	}
	var toggled ToggleApprovalResponse
	if err := json.Unmarshal(data, &toggled); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !toggled.Approved || !toggled.List.Contains("100") {
		t.Fatalf("expected approval, got %+v", toggled)
	}

	res, data = doJSON(t, ts.client, http.MethodPost, url, nil, reviewer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second toggle status %d", res.StatusCode)
	}
	if err := json.Unmarshal(data, &toggled); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if toggled.Approved || toggled.List.Contains("100") {
		t.Fatalf("double toggle must clear approval, got %+v", toggled)
	}
}

func TestNonReviewerCannotApprove(t *testing.T) {
	ts := newTestServer(t, inReviewTask(), changeActivities())
	url := ts.URL + "/v0/projects/AU/tasks/AU-12/review/concepts/100/toggle-approval"
	res, data := doJSON(t, ts.client, http.MethodPost, url, nil, map[string]string{"X-Actor-Id": "author"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q", envelope.Error.Code)
	}
}

func TestReviewAggregation(t *testing.T) {
	ts := newTestServer(t, inReviewTask(), changeActivities())
	reviewer := map[string]string{"X-Actor-Id": "rev1"}

	doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/projects/AU/tasks/AU-12/review/concepts/100/toggle-approval", nil, reviewer)

	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/projects/AU/tasks/AU-12/review", nil, reviewer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, data)
	}
	var rr ReviewResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rr.ConceptReviews) != 2 {
		t.Fatalf("expected 2 reviews, got %d", len(rr.ConceptReviews))
	}
	if !rr.ShowControls || !rr.ReviewEnabled {
		t.Fatalf("reviewer on in-review task must see controls: %+v", rr)
	}
	if rr.CanCompleteReview {
		t.Fatal("one unapproved concept must block completion")
	}
	approved := map[string]bool{}
	for _, cr := range rr.ConceptReviews {
		approved[cr.ConceptID] = cr.Approved
	}
	if !approved["100"] || approved["200"] {
		t.Fatalf("approval join wrong: %v", approved)
	}
}

func TestPostMessageMarksUnread(t *testing.T) {
	ts := newTestServer(t, inReviewTask(), changeActivities())
	reviewer := map[string]string{"X-Actor-Id": "rev1"}
	body := PostMessageRequest{
		MessageHTML:       "<p>recheck the fsn</p>",
		FeedbackRequested: true,
		SubjectConceptIDs: []string{"100"},
	}
	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/projects/AU/tasks/AU-12/review/messages", body, reviewer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("post status %d: %s", res.StatusCode, data)
	}
	var pr PostMessageResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !pr.Notified || pr.Message.ID == "" {
		t.Fatalf("expected notified message, got %+v", pr)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/projects/AU/tasks/AU-12/review/unread", nil, reviewer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unread status %d", res.StatusCode)
	}
	var ur UnreadResponse
	if err := json.Unmarshal(data, &ur); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ur.ConceptIDs) != 1 || ur.ConceptIDs[0] != "100" {
		t.Fatalf("expected unread {100}, got %v", ur.ConceptIDs)
	}
}

func TestPromotionVerdict(t *testing.T) {
	task := inReviewTask()
	task.Status = domain.TaskStatusReviewCompleted
	task.BranchState = domain.BranchStateForward
	task.LatestClassification = &domain.Classification{
		Status:         domain.ClassificationSaved,
		CreationDate:   time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
		CompletionDate: time.Date(2024, 3, 1, 11, 5, 0, 0, time.UTC),
	}
	activities := changeActivities()
	activities = append(activities, domain.Activity{
		ActivityType: domain.ActivityTypeClassificationSave,
		CommitDate:   time.Date(2024, 3, 1, 11, 10, 0, 0, time.UTC),
	})
	ts := newTestServer(t, task, activities)
	reviewer := map[string]string{"X-Actor-Id": "rev1"}

	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/projects/AU/tasks/AU-12/promotion", nil, reviewer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("promotion status %d: %s", res.StatusCode, data)
	}
	var pv PromotionResponse
	if err := json.Unmarshal(data, &pv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !pv.Promotable {
		t.Fatalf("expected promotable, got %+v", pv)
	}
	if len(pv.BlockingIssues) != 0 {
		t.Fatalf("unexpected blockers: %+v", pv.BlockingIssues)
	}
}

func TestPromotionBlockedByBranchState(t *testing.T) {
	task := inReviewTask()
	task.Status = domain.TaskStatusReviewCompleted
	task.BranchState = domain.BranchStateUpToDate
	ts := newTestServer(t, task, changeActivities())
	reviewer := map[string]string{"X-Actor-Id": "rev1"}

	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/projects/AU/tasks/AU-12/promotion", nil, reviewer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("promotion status %d: %s", res.StatusCode, data)
	}
	var pv PromotionResponse
	if err := json.Unmarshal(data, &pv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pv.Promotable {
		t.Fatalf("up-to-date branch has nothing to promote: %+v", pv)
	}
	found := false
	for _, b := range pv.BlockingIssues {
		if b.CheckTitle == "No Changes To Promote" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected no-changes blocker, got %+v", pv.BlockingIssues)
	}
}

func TestEventPagesNeverOverlap(t *testing.T) {
	ts := newTestServer(t, inReviewTask(), changeActivities())
	reviewer := map[string]string{"X-Actor-Id": "rev1"}
	for _, id := range []string{"100", "200", "300", "400", "500"} {
		res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/projects/AU/tasks/AU-12/review/concepts/"+id+"/toggle-unread", nil, reviewer)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("toggle %s status %d: %s", id, res.StatusCode, data)
		}
	}

	seen := map[int64]bool{}
	url := ts.URL + "/v0/projects/AU/events?limit=2"
	for page := 0; page < 4; page++ {
		res, data := doJSON(t, ts.client, http.MethodGet, url, nil, reviewer)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("events page %d status %d: %s", page, res.StatusCode, data)
		}
		var pe paginatedEvents
		if err := json.Unmarshal(data, &pe); err != nil {
			t.Fatalf("decode page %d: %v", page, err)
		}
		for _, evt := range pe.Items {
			if seen[evt.ID] {
				t.Fatalf("event %d served on two pages", evt.ID)
			}
			seen[evt.ID] = true
		}
		if pe.NextCursor == "" {
			break
		}
		url = ts.URL + "/v0/projects/AU/events?limit=2&cursor=" + pe.NextCursor
	}
	if len(seen) != 5 {
		t.Fatalf("expected all 5 events across pages, saw %d", len(seen))
	}
}

package review_test

import (
	"testing"
	"time"

	"authorline/internal/domain"
	"authorline/internal/review"
)

func flagTitles(flags []domain.PromotionFlag) []string {
	titles := make([]string, 0, len(flags))
	for _, f := range flags {
		titles = append(titles, f.CheckTitle)
	}
	return titles
}

func hasFlag(flags []domain.PromotionFlag, title string) bool {
	for _, f := range flags {
		if f.CheckTitle == title {
			return true
		}
	}
	return false
}

func TestEvaluateNilTask(t *testing.T) {
	res := review.Evaluate(review.EvaluateOptions{})
	if res.Promotable {
		t.Fatal("nil task must not be promotable")
	}
	if len(res.Warnings) != 0 || len(res.BlockingIssues) != 0 {
		t.Fatalf("expected no flags, got warnings=%v blocking=%v",
			flagTitles(res.Warnings), flagTitles(res.BlockingIssues))
	}
}

func TestEvaluateMissingBranchShortCircuits(t *testing.T) {
	task := &domain.Task{
		ProjectKey:  "AU",
		Key:         "AU-12",
		BranchState: domain.BranchStateStale, // would normally flag too
		Status:      domain.TaskStatusInReview,
	}
	res := review.Evaluate(review.EvaluateOptions{Task: task, HasUnsavedConcepts: true})
	if res.Promotable {
		t.Fatal("expected not promotable")
	}
	if len(res.BlockingIssues) != 1 || res.BlockingIssues[0].CheckTitle != "Branch Not Provided" {
		t.Fatalf("expected only Branch Not Provided, got %v", flagTitles(res.BlockingIssues))
	}
	if !res.BlockingIssues[0].BlocksPromotion {
		t.Fatal("branch flag must block")
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", flagTitles(res.Warnings))
	}
}

func TestEvaluateUpToDateBranchBlocks(t *testing.T) {
	task := &domain.Task{
		ProjectKey:  "AU",
		Key:         "AU-12",
		BranchPath:  "MAIN/X",
		BranchState: domain.BranchStateUpToDate,
		Status:      domain.TaskStatusCompleted,
	}
	res := review.Evaluate(review.EvaluateOptions{Task: task})
	if res.Promotable {
		t.Fatal("expected not promotable")
	}
	if !hasFlag(res.BlockingIssues, "No Changes To Promote") {
		t.Fatalf("missing No Changes To Promote in %v", flagTitles(res.BlockingIssues))
	}
	// No classification at all is only a warning.
	if !hasFlag(res.Warnings, "Classification Not Run") {
		t.Fatalf("missing Classification Not Run in %v", flagTitles(res.Warnings))
	}
}

func TestEvaluateSavedClassificationPromotable(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	task := &domain.Task{
		ProjectKey:  "AU",
		Key:         "AU-12",
		BranchPath:  "MAIN/AU/AU-12",
		BranchState: domain.BranchStateForward,
		Status:      domain.TaskStatusReviewCompleted,
		LatestClassification: &domain.Classification{
			Status:         domain.ClassificationSaved,
			CreationDate:   t0,
			CompletionDate: t0.Add(10 * time.Minute),
		},
	}
	activities := []domain.Activity{
		activity("UPDATE", t0.Add(-time.Hour), "100"),
		activity(domain.ActivityTypeClassificationSave, t0.Add(15*time.Minute)),
	}
	res := review.Evaluate(review.EvaluateOptions{Task: task, Activities: activities})
	if !res.Promotable {
		t.Fatalf("expected promotable, blocking=%v", flagTitles(res.BlockingIssues))
	}
	for _, title := range []string{"Classification Run", "Classification Current", "Classification Accepted"} {
		if !hasFlag(res.Warnings, title) {
			t.Fatalf("missing %q in %v", title, flagTitles(res.Warnings))
		}
	}
	if len(res.BlockingIssues) != 0 {
		t.Fatalf("expected no blocking issues, got %v", flagTitles(res.BlockingIssues))
	}
}

func TestEvaluateEquivalenciesBlockEvenWhenSaved(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	task := &domain.Task{
		ProjectKey:  "AU",
		Key:         "AU-12",
		BranchPath:  "MAIN/AU/AU-12",
		BranchState: domain.BranchStateForward,
		Status:      domain.TaskStatusReviewCompleted,
		LatestClassification: &domain.Classification{
			Status:                  domain.ClassificationSaved,
			CreationDate:            t0,
			CompletionDate:          t0.Add(10 * time.Minute),
			EquivalentConceptsFound: true,
		},
	}
	activities := []domain.Activity{
		activity(domain.ActivityTypeClassificationSave, t0.Add(15*time.Minute)),
	}
	res := review.Evaluate(review.EvaluateOptions{Task: task, Activities: activities})
	if res.Promotable {
		t.Fatal("equivalencies must block promotion")
	}
	if !hasFlag(res.BlockingIssues, "Equivalencies Found") {
		t.Fatalf("missing Equivalencies Found in %v", flagTitles(res.BlockingIssues))
	}
	// Saved classification is still reported accepted alongside the blocker.
	if !hasFlag(res.Warnings, "Classification Accepted") {
		t.Fatalf("missing Classification Accepted in %v", flagTitles(res.Warnings))
	}
}

func TestEvaluateUnapprovedConceptsBlockOnlyInReview(t *testing.T) {
	task := &domain.Task{
		ProjectKey:  "AU",
		Key:         "AU-12",
		BranchPath:  "MAIN/AU/AU-12",
		BranchState: domain.BranchStateForward,
		Status:      domain.TaskStatusInReview,
	}
	reviews := []domain.ConceptReview{
		{ConceptID: "100", Approved: true},
		{ConceptID: "200", Approved: false},
	}
	res := review.Evaluate(review.EvaluateOptions{Task: task, ConceptReviews: reviews})
	if !hasFlag(res.BlockingIssues, "Concepts Not Approved") {
		t.Fatalf("missing Concepts Not Approved in %v", flagTitles(res.BlockingIssues))
	}
	if !hasFlag(res.Warnings, "Task is still in review") {
		t.Fatalf("missing Task is still in review in %v", flagTitles(res.Warnings))
	}

	// Same reviews outside of review status no longer block.
	task.Status = domain.TaskStatusCompleted
	res = review.Evaluate(review.EvaluateOptions{Task: task, ConceptReviews: reviews})
	if hasFlag(res.BlockingIssues, "Concepts Not Approved") {
		t.Fatalf("unexpected Concepts Not Approved in %v", flagTitles(res.BlockingIssues))
	}
}

func TestEvaluateCompletedClassificationCurrency(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	task := &domain.Task{
		ProjectKey:          "AU",
		Key:                 "AU-12",
		BranchPath:          "MAIN/AU/AU-12",
		BranchState:         domain.BranchStateForward,
		Status:              domain.TaskStatusReviewCompleted,
		BranchHeadTimestamp: t0.UnixMilli(),
		LatestClassification: &domain.Classification{
			Status:       domain.ClassificationCompleted,
			CreationDate: t0.Add(time.Minute),
		},
	}
	res := review.Evaluate(review.EvaluateOptions{Task: task})
	if !hasFlag(res.Warnings, "Classification Current") {
		t.Fatalf("missing Classification Current in %v", flagTitles(res.Warnings))
	}

	// Head moved past the classification start: stale.
	task.BranchHeadTimestamp = t0.Add(time.Hour).UnixMilli()
	res = review.Evaluate(review.EvaluateOptions{Task: task})
	if !hasFlag(res.Warnings, "Classification Not Current") {
		t.Fatalf("missing Classification Not Current in %v", flagTitles(res.Warnings))
	}
}

func TestEvaluateSavedWithoutCompletionDate(t *testing.T) {
	task := &domain.Task{
		ProjectKey:  "AU",
		Key:         "AU-12",
		BranchPath:  "MAIN/AU/AU-12",
		BranchState: domain.BranchStateForward,
		Status:      domain.TaskStatusReviewCompleted,
		LatestClassification: &domain.Classification{
			Status:       domain.ClassificationSaved,
			CreationDate: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	}
	res := review.Evaluate(review.EvaluateOptions{Task: task})
	if !hasFlag(res.Warnings, "Classification May Not Be Current") {
		t.Fatalf("missing Classification May Not Be Current in %v", flagTitles(res.Warnings))
	}
	if !res.Promotable {
		t.Fatalf("expected promotable, blocking=%v", flagTitles(res.BlockingIssues))
	}
}

func TestEvaluateFailedClassificationWarns(t *testing.T) {
	task := &domain.Task{
		ProjectKey:  "AU",
		Key:         "AU-12",
		BranchPath:  "MAIN/AU/AU-12",
		BranchState: domain.BranchStateForward,
		Status:      domain.TaskStatusReviewCompleted,
		LatestClassification: &domain.Classification{
			Status:       domain.ClassificationFailed,
			CreationDate: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	}
	res := review.Evaluate(review.EvaluateOptions{Task: task})
	if !hasFlag(res.Warnings, "Classification Not Completed") {
		t.Fatalf("missing Classification Not Completed in %v", flagTitles(res.Warnings))
	}
	if !hasFlag(res.Warnings, "Classification Has No Results to Accept") {
		t.Fatalf("missing no-results flag in %v", flagTitles(res.Warnings))
	}
}

func TestEvaluateUnsavedConceptsAndCrsDeletion(t *testing.T) {
	task := &domain.Task{
		ProjectKey:  "AU",
		Key:         "AU-12",
		BranchPath:  "MAIN/AU/AU-12",
		BranchState: domain.BranchStateForward,
		Status:      domain.TaskStatusInProgress,
	}
	res := review.Evaluate(review.EvaluateOptions{
		Task:                   task,
		HasUnsavedConcepts:     true,
		DeletedCrsConceptFound: true,
	})
	if !hasFlag(res.BlockingIssues, "Unsaved concepts found") {
		t.Fatalf("missing Unsaved concepts found in %v", flagTitles(res.BlockingIssues))
	}
	if !hasFlag(res.Warnings, "Deleted CRS concept") {
		t.Fatalf("missing Deleted CRS concept in %v", flagTitles(res.Warnings))
	}
	if !hasFlag(res.Warnings, "No review completed") {
		t.Fatalf("missing No review completed in %v", flagTitles(res.Warnings))
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	opts := review.EvaluateOptions{
		Task: &domain.Task{
			ProjectKey:  "AU",
			Key:         "AU-12",
			BranchPath:  "MAIN/AU/AU-12",
			BranchState: domain.BranchStateDiverged,
			Status:      domain.TaskStatusInReview,
			LatestClassification: &domain.Classification{
				Status:       domain.ClassificationRunning,
				CreationDate: t0,
			},
		},
		ConceptReviews: []domain.ConceptReview{{ConceptID: "100"}},
	}
	first := review.Evaluate(opts)
	second := review.Evaluate(opts)
	if len(first.Warnings) != len(second.Warnings) || len(first.BlockingIssues) != len(second.BlockingIssues) {
		t.Fatal("evaluation not deterministic")
	}
	for i := range first.Warnings {
		if first.Warnings[i] != second.Warnings[i] {
			t.Fatalf("warning %d differs: %+v vs %+v", i, first.Warnings[i], second.Warnings[i])
		}
	}
	for i := range first.BlockingIssues {
		if first.BlockingIssues[i] != second.BlockingIssues[i] {
			t.Fatalf("blocker %d differs", i)
		}
	}
}

package review

import (
	"authorline/internal/domain"
)

// ShowReviewControls reports whether review tooling applies to the task at
// all: only tasks in review or with a completed review carry review state.
func ShowReviewControls(task *domain.Task) bool {
	if task == nil {
		return false
	}
	return task.Status == domain.TaskStatusInReview ||
		task.Status == domain.TaskStatusReviewCompleted
}

// CanReview reports whether username is one of the task's assigned
// reviewers. A plain membership test: users outside the reviewer set cannot
// approve concepts or complete the review.
func CanReview(task *domain.Task, username string) bool {
	if task == nil || username == "" {
		return false
	}
	for _, r := range task.Reviewers {
		if r == username {
			return true
		}
	}
	return false
}

// ReviewEnabled reports whether username may mutate review state on the
// task: the task must be in review and the user one of its reviewers.
func ReviewEnabled(task *domain.Task, username string) bool {
	if task == nil || task.Status != domain.TaskStatusInReview {
		return false
	}
	return CanReview(task, username)
}

// CanCompleteReview reports whether username may mark the task's review as
// complete: review must be enabled for them and every aggregated concept
// approved.
func CanCompleteReview(task *domain.Task, username string, conceptReviews []domain.ConceptReview) bool {
	if !ReviewEnabled(task, username) {
		return false
	}
	for _, cr := range conceptReviews {
		if !cr.Approved {
			return false
		}
	}
	return true
}

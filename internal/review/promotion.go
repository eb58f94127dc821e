package review

import (
	"authorline/internal/domain"
)

// EvaluateOptions carries the inputs of one promotion readiness evaluation.
// Task and ConceptReviews may be nil; Activities is the task branch's change
// log, needed only for the saved-classification currency sub-check.
type EvaluateOptions struct {
	Task                   *domain.Task
	ConceptReviews         []domain.ConceptReview
	Activities             []domain.Activity
	HasUnsavedConcepts     bool
	DeletedCrsConceptFound bool
}

// promotionRule is one entry of the ordered check table. Every rule sees the
// full inputs and contributes zero or more flags; rules never see each
// other's output, so adding one cannot change another's behavior.
type promotionRule func(EvaluateOptions) []domain.PromotionFlag

// promotionRules run in order after the branch-path guard. Checks for
// diverged and up-to-date branch states are deliberately separate entries,
// not an if/else pair, preserving independent evaluation.
var promotionRules = []promotionRule{
	checkUnsavedConcepts,
	checkBranchDiverged,
	checkNoChanges,
	checkNoReviewCompleted,
	checkStillInReview,
	checkConceptsApproved,
	checkDeletedCrsConcept,
	checkClassification,
}

// Evaluate runs the ordered promotion readiness checks and partitions the
// resulting flags into warnings and blocking issues. It is pure: no I/O, and
// identical inputs always produce identical output.
func Evaluate(opts EvaluateOptions) domain.PromotionResult {
	if opts.Task == nil {
		return domain.PromotionResult{
			Promotable:     false,
			Warnings:       []domain.PromotionFlag{},
			BlockingIssues: []domain.PromotionFlag{},
		}
	}
	// Fatal guard: without a branch path no other check is meaningful.
	if opts.Task.BranchPath == "" {
		return domain.PromotionResult{
			Promotable: false,
			Warnings:   []domain.PromotionFlag{},
			BlockingIssues: []domain.PromotionFlag{{
				CheckTitle:      "Branch Not Provided",
				CheckWarning:    "Branch not provided to promotion verification service. This is a fatal error: contact an administrator",
				BlocksPromotion: true,
			}},
		}
	}

	var flags []domain.PromotionFlag
	for _, rule := range promotionRules {
		flags = append(flags, rule(opts)...)
	}

	warnings := []domain.PromotionFlag{}
	blocking := []domain.PromotionFlag{}
	for _, f := range flags {
		if f.BlocksPromotion {
			blocking = append(blocking, f)
		} else {
			warnings = append(warnings, f)
		}
	}
	return domain.PromotionResult{
		Promotable:     len(blocking) == 0,
		Warnings:       warnings,
		BlockingIssues: blocking,
	}
}

func checkUnsavedConcepts(opts EvaluateOptions) []domain.PromotionFlag {
	if !opts.HasUnsavedConcepts {
		return nil
	}
	return []domain.PromotionFlag{{
		CheckTitle:      "Unsaved concepts found",
		CheckWarning:    "There are some unsaved concepts. Please save them before promoting task automation.",
		BlocksPromotion: true,
	}}
}

func checkBranchDiverged(opts EvaluateOptions) []domain.PromotionFlag {
	switch opts.Task.BranchState {
	case domain.BranchStateBehind, domain.BranchStateDiverged, domain.BranchStateStale:
		return []domain.PromotionFlag{{
			CheckTitle:      "Task and Project Diverged",
			CheckWarning:    "The task and project are not synchronized. Pull in changes from the project before promotion.",
			BlocksPromotion: true,
		}}
	}
	return nil
}

func checkNoChanges(opts EvaluateOptions) []domain.PromotionFlag {
	if opts.Task.BranchState != domain.BranchStateUpToDate {
		return nil
	}
	return []domain.PromotionFlag{{
		CheckTitle:      "No Changes To Promote",
		CheckWarning:    "The task is up to date with respect to the project. No changes to promote.",
		BlocksPromotion: true,
	}}
}

func checkNoReviewCompleted(opts EvaluateOptions) []domain.PromotionFlag {
	t := opts.Task
	if t.Status == domain.TaskStatusInReview || t.Status == domain.TaskStatusReviewCompleted {
		return nil
	}
	if t.FeedbackMessageStatus != "" && t.FeedbackMessageStatus != string(domain.FeedbackStatusNone) {
		return nil
	}
	return []domain.PromotionFlag{{
		CheckTitle:      "No review completed",
		CheckWarning:    "No review has been completed on this task, are you sure you would like to promote?",
		BlocksPromotion: false,
	}}
}

func checkStillInReview(opts EvaluateOptions) []domain.PromotionFlag {
	if opts.Task.Status != domain.TaskStatusInReview {
		return nil
	}
	return []domain.PromotionFlag{{
		CheckTitle:      "Task is still in review",
		CheckWarning:    "The task review has not been marked as complete.",
		BlocksPromotion: false,
	}}
}

func checkConceptsApproved(opts EvaluateOptions) []domain.PromotionFlag {
	if len(opts.ConceptReviews) == 0 || opts.Task.Status != domain.TaskStatusInReview {
		return nil
	}
	allApproved := true
	for _, cr := range opts.ConceptReviews {
		if !cr.Approved {
			allApproved = false
			break
		}
	}
	if allApproved {
		return nil
	}
	return []domain.PromotionFlag{{
		CheckTitle:      "Concepts Not Approved",
		CheckWarning:    "Not all concepts have been approved in the review.",
		BlocksPromotion: true,
	}}
}

func checkDeletedCrsConcept(opts EvaluateOptions) []domain.PromotionFlag {
	if !opts.DeletedCrsConceptFound {
		return nil
	}
	return []domain.PromotionFlag{{
		CheckTitle:      "Deleted CRS concept",
		CheckWarning:    "A CRS request has been deleted on this task, the associated CRS request has been put back into a state of Accepted",
		BlocksPromotion: false,
	}}
}

func checkClassification(opts EvaluateOptions) []domain.PromotionFlag {
	c := opts.Task.LatestClassification
	if c == nil {
		return []domain.PromotionFlag{{
			CheckTitle:      "Classification Not Run",
			CheckWarning:    "No classifications were run on this branch. Promote only if you are sure your changes will not affect future classification.",
			BlocksPromotion: false,
		}}
	}

	var flags []domain.PromotionFlag

	switch c.Status {
	case domain.ClassificationCompleted, domain.ClassificationSavingInProgress, domain.ClassificationSaved:
		flags = append(flags, domain.PromotionFlag{CheckTitle: "Classification Run"})
	default:
		flags = append(flags, domain.PromotionFlag{
			CheckTitle:   "Classification Not Completed",
			CheckWarning: "Classification was started for this branch, but either failed or has not completed.",
		})
	}

	switch c.Status {
	case domain.ClassificationCompleted:
		if c.CreationDate.UnixMilli() >= opts.Task.BranchHeadTimestamp {
			flags = append(flags, domain.PromotionFlag{CheckTitle: "Classification Current"})
		} else {
			flags = append(flags, domain.PromotionFlag{
				CheckTitle:   "Classification Not Current",
				CheckWarning: "Classification was run, but modifications were made after the classifier was initiated. Promote only if you are sure any changes will not affect future classification.",
			})
		}
	case domain.ClassificationSaved:
		if c.CompletionDate.IsZero() {
			flags = append(flags, domain.PromotionFlag{
				CheckTitle:   "Classification May Not Be Current",
				CheckWarning: "Could not determine whether modifications were made after saving the classification. Promote only if you sure any changes will not affect future classification.",
			})
		} else if SavedClassificationCurrent(opts.Activities) {
			flags = append(flags, domain.PromotionFlag{CheckTitle: "Classification Current"})
		} else {
			flags = append(flags, domain.PromotionFlag{
				CheckTitle:   "Classification Not Current",
				CheckWarning: "Classification was run, but modifications were made to the task afterwards. Promote only if you are sure those changes will not affect future classifications.",
			})
		}
	}

	if c.Status == domain.ClassificationSaved {
		flags = append(flags, domain.PromotionFlag{CheckTitle: "Classification Accepted"})
	} else if c.EquivalentConceptsFound || c.InferredRelationshipChangesFound || c.RedundantStatedRelationshipsFound {
		flags = append(flags, domain.PromotionFlag{
			CheckTitle:   "Classification Not Accepted",
			CheckWarning: "Classification results were not accepted to this branch",
		})
	} else {
		flags = append(flags, domain.PromotionFlag{CheckTitle: "Classification Has No Results to Accept"})
	}

	if c.EquivalentConceptsFound {
		flags = append(flags, domain.PromotionFlag{
			CheckTitle:      "Equivalencies Found",
			CheckWarning:    "Classification reports equivalent concepts on this branch. You may not promote until these are resolved",
			BlocksPromotion: true,
		})
	}
	return flags
}

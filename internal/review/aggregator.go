package review

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"authorline/internal/domain"
)

// ActivityReader returns a branch's committed change log, oldest first.
type ActivityReader interface {
	Activities(ctx context.Context, branchPath string) ([]domain.Activity, error)
}

// ConceptResolver resolves concept IDs to display records. Best effort:
// unresolvable IDs are simply missing from the result.
type ConceptResolver interface {
	ResolveConcepts(ctx context.Context, branch string, conceptIDs []string) ([]domain.ConceptRecord, error)
}

// StateReader reads the authoritative review state for a task.
type StateReader interface {
	ReviewedList(ctx context.Context, projectKey, taskKey string) (domain.ReviewedList, error)
	UnreadConceptIDs(ctx context.Context, projectKey, taskKey string) ([]string, error)
	MessageThreads(ctx context.Context, projectKey, taskKey string) (map[string]domain.ReviewThread, error)
}

// Aggregator composes the activity log, concept resolution and the review
// state store into per-concept reviews.
type Aggregator struct {
	Activities ActivityReader
	Concepts   ConceptResolver
	State      StateReader
}

// AggregateResult is the aggregator output. Errs collects source failures;
// ConceptReviews holds whatever could still be joined, so a partially failed
// aggregation never blanks the review panel.
type AggregateResult struct {
	ConceptReviews []domain.ConceptReview
	ConceptIDs     []string
	Activities     []domain.Activity
	Errs           []error
}

// IsError reports whether any source fetch failed.
func (r AggregateResult) IsError() bool { return len(r.Errs) > 0 }

// Err returns the joined source failures, or nil.
func (r AggregateResult) Err() error { return errors.Join(r.Errs...) }

// Aggregate builds the ConceptReview list for a task. The concept-ID domain
// is exactly the distinct union of concept changes across the branch's
// activities; approved or unread IDs outside that domain are ignored.
func (a Aggregator) Aggregate(ctx context.Context, task domain.Task) AggregateResult {
	var res AggregateResult

	activities, err := a.Activities.Activities(ctx, task.BranchPath)
	if err != nil {
		res.Errs = append(res.Errs, fmt.Errorf("activities for %s: %w", task.BranchPath, err))
		activities = nil
	}
	res.Activities = activities
	res.ConceptIDs = DistinctConceptIDs(activities)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		concepts []domain.ConceptRecord
		reviewed domain.ReviewedList
		unread   []string
		threads  map[string]domain.ReviewThread
	)
	fetch := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				mu.Lock()
				res.Errs = append(res.Errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}()
	}
	fetch("resolve concepts", func() error {
		var err error
		concepts, err = a.Concepts.ResolveConcepts(ctx, task.BranchPath, res.ConceptIDs)
		return err
	})
	fetch("reviewed list", func() error {
		var err error
		reviewed, err = a.State.ReviewedList(ctx, task.ProjectKey, task.Key)
		return err
	})
	fetch("unread ids", func() error {
		var err error
		unread, err = a.State.UnreadConceptIDs(ctx, task.ProjectKey, task.Key)
		return err
	})
	fetch("message threads", func() error {
		var err error
		threads, err = a.State.MessageThreads(ctx, task.ProjectKey, task.Key)
		return err
	})
	wg.Wait()

	known := make(map[string]bool, len(res.ConceptIDs))
	for _, id := range res.ConceptIDs {
		known[id] = true
	}
	unreadSet := make(map[string]bool, len(unread))
	for _, id := range unread {
		unreadSet[id] = true
	}

	res.ConceptReviews = make([]domain.ConceptReview, 0, len(concepts))
	for _, c := range concepts {
		if !known[c.ConceptID] {
			continue
		}
		c := c
		cr := domain.ConceptReview{
			ConceptID: c.ConceptID,
			Concept:   &c,
			Unread:    unreadSet[c.ConceptID],
			Approved:  reviewed.Contains(c.ConceptID),
		}
		if t, ok := threads[c.ConceptID]; ok {
			t := t
			cr.Reviews = &t
		}
		res.ConceptReviews = append(res.ConceptReviews, cr)
	}
	return res
}

// DistinctConceptIDs returns the set of concept IDs referenced by any
// activity's concept changes, in first-occurrence order.
func DistinctConceptIDs(activities []domain.Activity) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, a := range activities {
		for _, change := range a.ConceptChanges {
			if change.ConceptID == "" || seen[change.ConceptID] {
				continue
			}
			seen[change.ConceptID] = true
			ids = append(ids, change.ConceptID)
		}
	}
	return ids
}

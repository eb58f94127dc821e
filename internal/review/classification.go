package review

import (
	"authorline/internal/domain"
)

// SavedClassificationCurrent reports whether the last saved classification
// still reflects the branch head. It is current only when the most recent
// CLASSIFICATION_SAVE activity is the very last entry of the log: any commit
// after the save means the branch diverged from what was classified.
func SavedClassificationCurrent(activities []domain.Activity) bool {
	if len(activities) == 0 {
		return false
	}
	lastModified := activities[len(activities)-1].CommitDate

	var lastSaved int64
	for _, a := range activities {
		if a.ActivityType == domain.ActivityTypeClassificationSave {
			lastSaved = a.CommitDate.UnixMilli()
		}
	}
	return lastSaved == lastModified.UnixMilli()
}

// Package filter reduces extracted slots to the ones the operator accepts.
package filter

import (
	"slices"

	"github.com/ObiAU/slotwatch/internal/models"
)

// Matches reports whether slot satisfies every configured rule in c.
// Unset rules match anything.
func Matches(slot models.Slot, c models.FilterCriteria) bool {
	if c.TargetMonth != 0 && slot.Date.Month != c.TargetMonth {
		return false
	}
	if len(c.TargetDays) > 0 && !slices.Contains(c.TargetDays, slot.Date.Day) {
		return false
	}
	if len(c.TargetWeekdays) > 0 && !slices.Contains(c.TargetWeekdays, slot.Date.ISOWeekday()) {
		return false
	}
	if c.Window != nil && !c.Window.Contains(slot.Time) {
		return false
	}
	return true
}

// Apply returns the matching slots in their original order.
func Apply(slots []models.Slot, c models.FilterCriteria) []models.Slot {
	var matched []models.Slot
	for _, s := range slots {
		if Matches(s, c) {
			matched = append(matched, s)
		}
	}
	return matched
}

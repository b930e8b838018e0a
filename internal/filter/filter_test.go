package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ObiAU/slotwatch/internal/models"
)

func slot(y int, m time.Month, d, hh, mm int) models.Slot {
	return models.NewSlot(models.NewDate(y, m, d), models.NewTimeOfDay(hh, mm), "")
}

func TestApplyMarchScenario(t *testing.T) {
	criteria := models.FilterCriteria{
		TargetMonth:    time.March,
		TargetDays:     []int{15, 16, 17},
		TargetWeekdays: []int{1, 2, 3, 4, 5},
		Window:         &models.TimeWindow{Start: models.NewTimeOfDay(7, 0), End: models.NewTimeOfDay(22, 0)},
	}
	extracted := []models.Slot{
		slot(2024, time.March, 15, 9, 0),
		slot(2024, time.March, 18, 10, 0),
		slot(2024, time.March, 16, 23, 0),
	}

	got := Apply(extracted, criteria)
	assert.Equal(t, []models.Slot{slot(2024, time.March, 15, 9, 0)}, got)
}

func TestMatchesWildcards(t *testing.T) {
	s := slot(2025, time.July, 4, 3, 30)
	assert.True(t, Matches(s, models.FilterCriteria{}))
}

func TestMatchesEachRule(t *testing.T) {
	s := slot(2024, time.March, 15, 9, 0) // Friday

	tests := []struct {
		name     string
		criteria models.FilterCriteria
		want     bool
	}{
		{"month match", models.FilterCriteria{TargetMonth: time.March}, true},
		{"month mismatch", models.FilterCriteria{TargetMonth: time.April}, false},
		{"day match", models.FilterCriteria{TargetDays: []int{1, 15}}, true},
		{"day mismatch", models.FilterCriteria{TargetDays: []int{16}}, false},
		{"weekday match", models.FilterCriteria{TargetWeekdays: []int{5}}, true},
		{"weekend only", models.FilterCriteria{TargetWeekdays: []int{6, 7}}, false},
		{"window start inclusive", models.FilterCriteria{Window: &models.TimeWindow{Start: models.NewTimeOfDay(9, 0), End: models.NewTimeOfDay(10, 0)}}, true},
		{"window end exclusive", models.FilterCriteria{Window: &models.TimeWindow{Start: models.NewTimeOfDay(8, 0), End: models.NewTimeOfDay(9, 0)}}, false},
		{"overnight window", models.FilterCriteria{Window: &models.TimeWindow{Start: models.NewTimeOfDay(20, 0), End: models.NewTimeOfDay(10, 0)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(s, tt.criteria))
		})
	}
}

func TestMatchesDeterministic(t *testing.T) {
	criteria := models.FilterCriteria{TargetDays: []int{15}, Window: &models.TimeWindow{Start: 0, End: models.NewTimeOfDay(12, 0)}}
	for day := 1; day <= 28; day++ {
		for minute := 0; minute < models.MinutesPerDay; minute += 37 {
			s := models.NewSlot(models.NewDate(2024, time.February, day), models.TimeOfDay(minute), "")
			first := Matches(s, criteria)
			assert.Equal(t, first, Matches(s, criteria))
		}
	}
}

func TestApplyNoMatches(t *testing.T) {
	assert.Empty(t, Apply(nil, models.FilterCriteria{}))
	assert.Empty(t, Apply([]models.Slot{slot(2024, time.May, 1, 9, 0)}, models.FilterCriteria{TargetMonth: time.June}))
}

package models

import (
	"fmt"
	"strings"
	"time"
)

// Date is a calendar day without a time zone.
type Date struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Day   int        `json:"day"`
}

const dateLayout = "2006-01-02"

var dateLayouts = []string{dateLayout, "02.01.2006", "02/01/2006"}

func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// ParseDate accepts ISO dates (optionally followed by a time part) and the
// day-first formats the booking site uses in labels.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(dateLayout) && s[4] == '-' && (s[10] == 'T' || s[10] == ' ') {
		s = s[:len(dateLayout)]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
		}
	}
	return Date{}, fmt.Errorf("unrecognised date %q", s)
}

func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func (d Date) ISOWeekday() int {
	wd := int(d.Time().Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	return d.Time().Format(dateLayout)
}

// TimeOfDay is minutes since midnight.
type TimeOfDay int

const MinutesPerDay = 24 * 60

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

var meridiemReplacer = strings.NewReplacer("A.M.", "AM", "P.M.", "PM")

// ParseTimeOfDay accepts "15:04", "15:04:05" and 12-hour clock times such
// as "9:00 pm" or "9:00PM" in any case.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = meridiemReplacer.Replace(strings.ToUpper(strings.TrimSpace(s)))
	for _, layout := range []string{"15:04", "15:04:05", "3:04 PM", "3:04PM"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimeOfDay(t.Hour(), t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("unrecognised time of day %q", s)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < MinutesPerDay
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// SlotKey identifies a slot by date and time only; cosmetic label
// differences never produce a new key.
type SlotKey string

func KeyOf(d Date, t TimeOfDay) SlotKey {
	return SlotKey(d.String() + "T" + t.String())
}

// Slot is a single bookable appointment. It is a value type: copies never
// alias, so a Slot cannot change after construction.
type Slot struct {
	Date     Date      `json:"date"`
	Time     TimeOfDay `json:"time"`
	RawLabel string    `json:"raw_label,omitempty"`
}

func NewSlot(d Date, t TimeOfDay, label string) Slot {
	return Slot{Date: d, Time: t, RawLabel: strings.TrimSpace(label)}
}

func (s Slot) Key() SlotKey {
	return KeyOf(s.Date, s.Time)
}

// Before orders slots chronologically.
func (s Slot) Before(o Slot) bool {
	if s.Date != o.Date {
		return s.Date.Time().Before(o.Date.Time())
	}
	return s.Time < o.Time
}

func (s Slot) String() string {
	return s.Date.String() + " " + s.Time.String()
}

// TimeWindow is the half-open interval [Start, End). When End < Start the
// window wraps past midnight; Start == End is empty.
type TimeWindow struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func (w TimeWindow) Contains(t TimeOfDay) bool {
	switch {
	case w.Start < w.End:
		return t >= w.Start && t < w.End
	case w.Start > w.End:
		return t >= w.Start || t < w.End
	}
	return false
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start, w.End)
}

// FilterCriteria describes which slots the operator accepts. Zero values act
// as wildcards: month 0, empty day and weekday lists, nil window.
type FilterCriteria struct {
	TargetMonth    time.Month  `json:"target_month,omitempty"`
	TargetDays     []int       `json:"target_days,omitempty"`
	TargetWeekdays []int       `json:"target_weekdays,omitempty"`
	Window         *TimeWindow `json:"time_window,omitempty"`
}

// SessionState is the persisted authentication state. Cookies are an opaque
// blob produced and consumed by the browser layer.
type SessionState struct {
	Authenticated bool      `json:"authenticated"`
	Cookies       []byte    `json:"cookies,omitempty"`
	LastLoginAt   time.Time `json:"last_login_at,omitempty"`
}

// Reusable reports whether the state is worth probing before a fresh login.
func (s SessionState) Reusable() bool {
	return s.Authenticated && len(s.Cookies) > 0
}

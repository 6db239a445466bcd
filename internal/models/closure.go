package models

import (
	"slices"
	"time"
)

type ClosureType string

const (
	ClosureMorning   ClosureType = "morning"
	ClosureAfternoon ClosureType = "afternoon"
	ClosureFull      ClosureType = "full"
)

// Valid reports whether t is a known closure type.
func (t ClosureType) Valid() bool {
	switch t {
	case ClosureMorning, ClosureAfternoon, ClosureFull:
		return true
	}
	return false
}

// Covers reports whether a closure of this type closes the slot starting at slot (HH:MM).
func (t ClosureType) Covers(slot string) bool {
	switch t {
	case ClosureFull:
		return true
	case ClosureMorning:
		return slot < AfternoonStart
	case ClosureAfternoon:
		return slot >= AfternoonStart
	}
	return false
}

type CreatedBy string

const (
	CreatedByAdmin      CreatedBy = "admin"
	CreatedBySystem     CreatedBy = "system"
	CreatedBySystemAuto CreatedBy = "system_auto"
)

// ShopClosures holds the shop-wide closed dates and weekdays.
type ShopClosures struct {
	ClosedDates []string       `json:"closed_dates"` // YYYY-MM-DD
	ClosedDays  []time.Weekday `json:"closed_days"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Closes reports whether the whole shop is closed on date.
func (s *ShopClosures) Closes(date time.Time) bool {
	if s == nil {
		return false
	}
	return slices.Contains(s.ClosedDays, date.Weekday()) || slices.Contains(s.ClosedDates, DateKey(date))
}

// ClosureRule is the recurring weekly closure of a barber.
type ClosureRule struct {
	BarberID       string         `json:"barber_id"`
	ClosedWeekdays []time.Weekday `json:"closed_weekdays"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Closes reports whether the barber is normally closed on weekday. A nil rule closes nothing.
func (r *ClosureRule) Closes(weekday time.Weekday) bool {
	if r == nil {
		return false
	}
	return slices.Contains(r.ClosedWeekdays, weekday)
}

// ClosureException closes (part of) a single date for a barber.
type ClosureException struct {
	ID        int64       `json:"id"`
	BarberID  string      `json:"barber_id"`
	Date      time.Time   `json:"date"`
	Type      ClosureType `json:"closure_type"`
	Reason    string      `json:"reason"`
	CreatedBy CreatedBy   `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
}

// RemovedAutoClosure is the tombstone left when a system-generated closure is deleted by hand.
type RemovedAutoClosure struct {
	BarberID  string      `json:"barber_id"`
	Date      time.Time   `json:"date"`
	Type      ClosureType `json:"closure_type"`
	RemovedAt time.Time   `json:"removed_at"`
}

// Matches reports whether the tombstone suppresses an exception of type t on date.
func (r RemovedAutoClosure) Matches(date time.Time, t ClosureType) bool {
	return r.Type == t && DateKey(r.Date) == DateKey(date)
}

// AutoClosureRule describes a closure the reconciler derives on its own,
// e.g. a barber who never works mornings.
type AutoClosureRule struct {
	BarberID string         `json:"barber_id" yaml:"barber_id"`
	Weekdays []time.Weekday `json:"weekdays" yaml:"weekdays"` // empty means every weekday
	Type     ClosureType    `json:"type" yaml:"type"`
	Reason   string         `json:"reason" yaml:"reason"`
}

// AppliesOn reports whether the rule wants a closure on date.
func (r AutoClosureRule) AppliesOn(date time.Time) bool {
	return len(r.Weekdays) == 0 || slices.Contains(r.Weekdays, date.Weekday())
}

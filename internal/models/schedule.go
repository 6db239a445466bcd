package models

import (
	"slices"
	"time"
)

// DaySchedule is the materialized working day of a barber.
type DaySchedule struct {
	BarberID         string    `json:"barber_id"`
	Date             time.Time `json:"date"`
	Slots            []string  `json:"slots"`
	UnavailableSlots []string  `json:"unavailable_slots"`
	IsDayOff         bool      `json:"is_day_off"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasSlot reports whether slot is listed among the schedule's slots.
func (s *DaySchedule) HasSlot(slot string) bool {
	return s != nil && slices.Contains(s.Slots, slot)
}

// IsExceptionalOpening reports whether the schedule opens a day that the
// barber's recurring rule keeps closed.
func (s *DaySchedule) IsExceptionalOpening(rule *ClosureRule) bool {
	return s != nil && !s.IsDayOff && rule.Closes(s.Date.Weekday())
}

// SameShape reports whether two schedules carry the same slots and day-off flag.
func (s *DaySchedule) SameShape(other *DaySchedule) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.IsDayOff == other.IsDayOff && slices.Equal(s.Slots, other.Slots)
}

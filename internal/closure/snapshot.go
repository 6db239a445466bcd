package closure

import (
	"time"

	"barberbook/internal/models"
)

// Snapshot holds every closure source of one barber over a date span. It is
// built for a single logical request and must not be shared across requests.
type Snapshot struct {
	BarberID string
	From     time.Time
	To       time.Time
	Shop     *models.ShopClosures
	Rule     *models.ClosureRule

	exceptions map[string][]models.ClosureException
	tombstones map[string][]models.RemovedAutoClosure
	schedules  map[string]*models.DaySchedule
}

func newSnapshot(barberID string, from, to time.Time) *Snapshot {
	return &Snapshot{
		BarberID:   barberID,
		From:       from,
		To:         to,
		exceptions: make(map[string][]models.ClosureException),
		tombstones: make(map[string][]models.RemovedAutoClosure),
		schedules:  make(map[string]*models.DaySchedule),
	}
}

// Schedule returns the materialized schedule of date, or nil.
func (s *Snapshot) Schedule(date time.Time) *models.DaySchedule {
	return s.schedules[models.DateKey(date)]
}

func (s *Snapshot) Exceptions(date time.Time) []models.ClosureException {
	return s.exceptions[models.DateKey(date)]
}

// HasException reports whether an exception of type t exists on date.
func (s *Snapshot) HasException(date time.Time, t models.ClosureType) bool {
	for _, exc := range s.Exceptions(date) {
		if exc.Type == t {
			return true
		}
	}
	return false
}

// Tombstoned reports whether an auto closure of type t on date was removed by hand.
func (s *Snapshot) Tombstoned(date time.Time, t models.ClosureType) bool {
	for _, ts := range s.tombstones[models.DateKey(date)] {
		if ts.Matches(date, t) {
			return true
		}
	}
	return false
}

// IsExceptionalOpening reports whether date's schedule overrides the recurring rule.
func (s *Snapshot) IsExceptionalOpening(date time.Time) bool {
	return s.Schedule(date).IsExceptionalOpening(s.Rule)
}

// Covers reports whether date lies inside the loaded span.
func (s *Snapshot) Covers(date time.Time) bool {
	d := models.Day(date)
	return !d.Before(s.From) && !d.After(s.To)
}

// IsClosed resolves one slot with the default precedence.
func (s *Snapshot) IsClosed(date time.Time, slot string) bool {
	return Resolve(DefaultChain, s, Query{Date: date, Time: slot}) == Closed
}

// SetSchedule replaces the cached schedule of a date. Used by callers that
// write a schedule and keep working with the same snapshot.
func (s *Snapshot) SetSchedule(sched *models.DaySchedule) {
	s.schedules[models.DateKey(sched.Date)] = sched
}

// AddException records a newly created exception in the snapshot.
func (s *Snapshot) AddException(exc models.ClosureException) {
	key := models.DateKey(exc.Date)
	s.exceptions[key] = append(s.exceptions[key], exc)
}

package slots

import (
	"time"

	"barberbook/internal/models"
)

// session is a block of consecutive slots; First and Last are slot start times, both inclusive.
type session struct {
	First string
	Last  string
}

var (
	morning        = session{First: "09:00", Last: "12:30"}
	mondayEvening  = session{First: "15:00", Last: "18:00"}
	weekdayEvening = session{First: "15:00", Last: "17:30"}
	saturdayAfter  = session{First: "14:30", Last: "17:00"}
)

var weekly = map[time.Weekday][]session{
	time.Monday:    {morning, mondayEvening},
	time.Tuesday:   {morning, weekdayEvening},
	time.Wednesday: {morning, weekdayEvening},
	time.Thursday:  {morning, weekdayEvening},
	time.Friday:    {morning, weekdayEvening},
	time.Saturday:  {morning, saturdayAfter},
}

var catalog = build()

func build() map[time.Weekday][]string {
	out := make(map[time.Weekday][]string, len(weekly))
	for day, sessions := range weekly {
		var list []string
		for _, s := range sessions {
			list = append(list, expand(s)...)
		}
		out[day] = list
	}
	return out
}

func expand(s session) []string {
	first, _ := time.Parse(models.TimeLayout, s.First)
	last, _ := time.Parse(models.TimeLayout, s.Last)

	var out []string
	for t := first; !t.After(last); t = t.Add(models.SlotLength) {
		out = append(out, t.Format(models.TimeLayout))
	}
	return out
}

// For returns the canonical half-hour slots of a weekday in ascending order.
// Sunday has none. The returned slice is a copy the caller may modify.
func For(weekday time.Weekday) []string {
	src := catalog[weekday]
	if len(src) == 0 {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// ForDate is For(date.Weekday()).
func ForDate(date time.Time) []string {
	return For(date.Weekday())
}

package models

import (
	"fmt"
	"strings"
	"time"
)

// ParseDate parses a YYYY-MM-DD calendar date into midnight UTC.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return d, nil
}

// ParseSlotTime validates an HH:MM slot time and returns it normalized.
func ParseSlotTime(raw string) (string, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid time %q: expected HH:MM", raw)
	}
	return t.Format(TimeLayout), nil
}

// Day drops the clock part of t, keeping its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats a calendar date for storage and map keys.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// DateRange returns days consecutive dates starting at from.
func DateRange(from time.Time, days int) []time.Time {
	if days <= 0 {
		return nil
	}
	start := Day(from)
	out := make([]time.Time, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, start.AddDate(0, 0, i))
	}
	return out
}

// SpanOf returns the earliest and latest date in dates.
func SpanOf(dates []time.Time) (from, to time.Time) {
	for i, d := range dates {
		if i == 0 || d.Before(from) {
			from = d
		}
		if i == 0 || d.After(to) {
			to = d
		}
	}
	return from, to
}

package scheduler

import (
	"fmt"
	"time"
)

// Schedule computes the next time a job is due.
type Schedule interface {
	// Next returns the first due time strictly after t.
	Next(t time.Time) time.Time
	String() string
}

// Every is a fixed interval schedule.
type Every time.Duration

// Next returns t plus the interval.
func (e Every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

func (e Every) String() string {
	return "every " + time.Duration(e).String()
}

// DailyAt fires once per day at a wall clock time in UTC.
type DailyAt struct {
	Hour   int
	Minute int
}

// ParseDailyAt parses "HH:MM" in 24 hour form.
func ParseDailyAt(s string) (DailyAt, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return DailyAt{}, fmt.Errorf("invalid time of day %q, expected HH:MM: %w", s, err)
	}
	return DailyAt{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Next returns the next occurrence of the wall clock time after t.
func (d DailyAt) Next(t time.Time) time.Time {
	t = t.UTC()
	next := time.Date(t.Year(), t.Month(), t.Day(), d.Hour, d.Minute, 0, 0, time.UTC)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (d DailyAt) String() string {
	return fmt.Sprintf("daily at %02d:%02d UTC", d.Hour, d.Minute)
}

package timeslot

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Event generates the time windows during which a schedule-based condition can hold
type Event interface {
	Slots(from, to time.Time) []Interval
	IsActive(t time.Time) bool
}

// Window is a single fixed span
type Window struct {
	Interval
}

// Slots returns the window clipped to [from, to)
func (w Window) Slots(from, to time.Time) []Interval {
	ti := Interval{Start: later(w.Start, from), End: earlier(w.End, to)}
	if ti.Empty() {
		return nil
	}
	return []Interval{ti}
}

// IsActive reports whether t lies inside the window
func (w Window) IsActive(t time.Time) bool {
	return w.Contains(t)
}

// Unbounded spans 2000 through 2100, which every analysis horizon treats as unconstrained
func Unbounded() Window {
	return Window{Interval{
		Start: time.Date(2000, 1, 1, 0, 0, 0, 0, time.Local),
		End:   time.Date(2100, 1, 1, 0, 0, 0, 0, time.Local),
	}}
}

// maxCronSlots caps slot generation; denser schedules are treated as unconstrained
const maxCronSlots = 20000

// CronEvent produces a short window at every activation of a cron schedule
type CronEvent struct {
	Schedule cron.Schedule
	Width    time.Duration
}

// Slots lists the firing windows between from and to
func (c CronEvent) Slots(from, to time.Time) []Interval {
	width := c.width()
	var rslt []Interval
	for t := c.Schedule.Next(from.Add(-width)); t.Before(to); t = c.Schedule.Next(t) {
		if t.IsZero() {
			break
		}
		if len(rslt) >= maxCronSlots {
			return []Interval{{Start: from, End: to}}
		}
		ti := Interval{Start: later(t, from), End: earlier(t.Add(width), to)}
		if !ti.Empty() {
			rslt = append(rslt, ti)
		}
	}
	return rslt
}

// IsActive reports whether t falls inside a firing window
func (c CronEvent) IsActive(t time.Time) bool {
	width := c.width()
	next := c.Schedule.Next(t.Add(-width))
	return !next.IsZero() && !next.After(t)
}

func (c CronEvent) width() time.Duration {
	if c.Width <= 0 {
		return time.Minute
	}
	return c.Width
}

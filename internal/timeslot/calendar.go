package timeslot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"homerules/internal/utils"
)

const day = 24 * time.Hour

var dayNames = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// CalendarEvent is a one-off or repeating window between two date-times.
// A repeating event applies the time-of-day of From and To to every relevant day
// between their dates; a one-off event is the single span [From, To).
type CalendarEvent struct {
	From     time.Time
	To       time.Time
	Days     map[time.Weekday]bool
	Interval int
	Exclude  []time.Time
	AllDay   bool
}

// CalendarFromFields decodes the EVENT encoding; missing bounds default to now and one hour later
func CalendarFromFields(m utils.Fields, now time.Time) (*CalendarEvent, error) {
	ev := &CalendarEvent{
		From:     now,
		To:       now.Add(time.Hour),
		Interval: int(utils.GetInt64(m, "INTERVAL", 0)),
		AllDay:   utils.GetBool(m, "ALLDAY", false),
	}
	if ms := utils.GetInt64(m, "FROMDATETIME", 0); ms > 0 {
		ev.From = time.UnixMilli(ms).In(now.Location())
	}
	if ms := utils.GetInt64(m, "TODATETIME", 0); ms > 0 {
		ev.To = time.UnixMilli(ms).In(now.Location())
	}
	if !ev.From.Before(ev.To) {
		return nil, fmt.Errorf("calendar event ends before it starts")
	}
	if days := utils.GetString(m, "DAYS", ""); days != "" {
		ev.Days = make(map[time.Weekday]bool)
		for _, d := range strings.Split(days, ",") {
			wd, ok := dayNames[strings.ToUpper(strings.TrimSpace(d))]
			if !ok {
				return nil, fmt.Errorf("bad day name %q", d)
			}
			ev.Days[wd] = true
		}
	}
	for _, x := range utils.GetList(m, "EXCLUDE") {
		if ms := utils.GetInt64(x, "DATE", 0); ms > 0 {
			ev.Exclude = append(ev.Exclude, startOfDay(time.UnixMilli(ms).In(now.Location())))
		}
	}
	return ev, nil
}

// Encode returns the EVENT encoding
func (c *CalendarEvent) Encode() utils.Fields {
	rslt := utils.Fields{
		"FROMDATETIME": c.From.UnixMilli(),
		"TODATETIME":   c.To.UnixMilli(),
		"INTERVAL":     c.Interval,
		"ALLDAY":       c.AllDay,
	}
	if len(c.Days) > 0 {
		var names []string
		for n, wd := range dayNames {
			if c.Days[wd] {
				names = append(names, n)
			}
		}
		sort.Slice(names, func(i, j int) bool { return dayNames[names[i]] < dayNames[names[j]] })
		rslt["DAYS"] = strings.Join(names, ",")
	}
	if len(c.Exclude) > 0 {
		var ex []utils.Fields
		for _, d := range c.Exclude {
			ex = append(ex, utils.Fields{"DATE": d.UnixMilli()})
		}
		rslt["EXCLUDE"] = ex
	}
	return rslt
}

// Repeating reports whether the event recurs on several days
func (c *CalendarEvent) Repeating() bool {
	return len(c.Days) > 0 || c.Interval != 0 || len(c.Exclude) > 0
}

// Slots lists the event's windows that overlap [from, to)
func (c *CalendarEvent) Slots(from, to time.Time) []Interval {
	bound := Interval{Start: later(c.From, from), End: earlier(c.To, to)}
	if !c.Repeating() && !c.AllDay {
		if bound.Empty() {
			return nil
		}
		return []Interval{bound}
	}

	var rslt []Interval
	last := startOfDay(c.To)
	for d := startOfDay(later(c.From, from)).Add(-day); !d.After(last) && d.Before(to); d = nextDay(d) {
		if d.Before(startOfDay(c.From)) || !c.dayRelevant(d) {
			continue
		}
		w := c.window(d)
		w = Interval{Start: later(w.Start, from), End: earlier(w.End, to)}
		if !w.Empty() {
			rslt = append(rslt, w)
		}
	}
	return rslt
}

// IsActive reports whether t lies inside one of the event's windows
func (c *CalendarEvent) IsActive(t time.Time) bool {
	for _, s := range c.Slots(t.Add(-day), t.Add(day)) {
		if s.Contains(t) {
			return true
		}
	}
	return false
}

// NextBoundary returns the first window start or end after t, or the zero time when there is none
func (c *CalendarEvent) NextBoundary(t time.Time) time.Time {
	for _, s := range c.Slots(t, t.Add(400*day)) {
		if s.Start.After(t) {
			return s.Start
		}
		if s.End.After(t) {
			return s.End
		}
	}
	return time.Time{}
}

func (c *CalendarEvent) window(d time.Time) Interval {
	if c.AllDay {
		return Interval{Start: d, End: nextDay(d)}
	}
	start := atTimeOf(d, c.From)
	end := atTimeOf(d, c.To)
	if !end.After(start) {
		end = atTimeOf(nextDay(d), c.To)
	}
	return Interval{Start: start, End: end}
}

func (c *CalendarEvent) dayRelevant(d time.Time) bool {
	if len(c.Days) > 0 && !c.Days[d.Weekday()] {
		return false
	}
	switch {
	case c.Interval > 0:
		delta := int(d.Sub(startOfDay(c.From)).Hours()+12) / 24
		if len(c.Days) > 0 {
			delta = (delta / 7) * 7
		}
		if delta%c.Interval != 0 {
			return false
		}
	case c.Interval < 0:
		if len(c.Days) > 0 {
			if weekOfMonth(d) != weekOfMonth(c.From) {
				return false
			}
		} else if d.Day() != c.From.Day() {
			return false
		}
	}
	for _, x := range c.Exclude {
		if sameDay(x, d) {
			return false
		}
	}
	return true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func nextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

func atTimeOf(d, clock time.Time) time.Time {
	y, m, dd := d.Date()
	return time.Date(y, m, dd, clock.Hour(), clock.Minute(), clock.Second(), 0, d.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func weekOfMonth(t time.Time) int {
	return (t.Day()-1)/7 + 1
}

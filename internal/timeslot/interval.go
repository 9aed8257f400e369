// Package timeslot holds time windows and the interval algebra used to reason about them.
package timeslot

import (
	"fmt"
	"time"
)

// Interval is the half-open span [Start, End)
type Interval struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the interval contains no instant
func (i Interval) Empty() bool {
	return !i.Start.Before(i.End)
}

// Contains reports whether t lies inside the interval
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s - %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}

// Intersect merge-walks two ordered, disjoint interval lists and returns their overlap
func Intersect(a, b []Interval) []Interval {
	var rslt []Interval
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ia, ib := a[i], b[j]
		ti := Interval{Start: later(ia.Start, ib.Start), End: earlier(ia.End, ib.End)}
		if !ti.Empty() {
			rslt = append(rslt, ti)
		}
		if ia.End.Before(ib.End) {
			i++
		} else {
			j++
		}
	}
	return rslt
}

// Subtract removes every interval of subs from every interval of a
func Subtract(a, subs []Interval) []Interval {
	var rslt []Interval
	for _, ia := range a {
		pieces := []Interval{ia}
		for _, s := range subs {
			if s.Empty() || !s.Start.Before(ia.End) || !ia.Start.Before(s.End) {
				continue
			}
			var next []Interval
			for _, p := range pieces {
				if !s.Start.Before(p.End) || !p.Start.Before(s.End) {
					next = append(next, p)
					continue
				}
				if p.Start.Before(s.Start) {
					next = append(next, Interval{Start: p.Start, End: s.Start})
				}
				if s.End.Before(p.End) {
					next = append(next, Interval{Start: s.End, End: p.End})
				}
			}
			pieces = next
			if len(pieces) == 0 {
				break
			}
		}
		rslt = append(rslt, pieces...)
	}
	return rslt
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

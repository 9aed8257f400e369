// Package checker analyses a rule against the rest of a program before it is stored.
package checker

import (
	"fmt"
	"time"

	"homerules/internal/device"
	"homerules/internal/rule"
	"homerules/internal/timeslot"
	"homerules/internal/utils"

	"github.com/rs/zerolog"
)

// Level is the severity of an issue
type Level string

const (
	LevelError   Level = "ERROR"
	LevelWarning Level = "WARNING"
)

const (
	minPriority = 0
	maxPriority = 1000
)

// Issue is one finding about a rule
type Issue struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return string(i.Level) + ": " + i.Message
}

// HasErrors reports whether any issue is an error
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Level == LevelError {
			return true
		}
	}
	return false
}

// Checker runs the static checks
type Checker struct {
	devices device.Source
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates a checker resolving target devices through devices
func New(devices device.Source, now func() time.Time) *Checker {
	if now == nil {
		now = time.Now
	}
	return &Checker{devices: devices, now: now, logger: utils.Component("CHECKER")}
}

type analysis struct {
	rule    *rule.Rule
	from    time.Time
	to      time.Time
	windows []timeslot.Interval
	issues  []Issue
}

func (a *analysis) add(level Level, format string, args ...any) {
	a.issues = append(a.issues, Issue{Level: level, Message: fmt.Sprintf(format, args...)})
}

// Check analyses r in the context of the program's rules. r may or may not be one of rules.
func (c *Checker) Check(rules []*rule.Rule, r *rule.Rule) []Issue {
	now := c.now()
	a := &analysis{
		rule: r,
		from: now.Add(-24 * time.Hour),
		to:   now.AddDate(1, 0, 0),
	}
	a.windows = a.timeSlots(r)
	c.logger.Debug().Str("rule", r.DisplayLabel()).Int("windows", len(a.windows)).Msg("error check")

	a.checkCanFire()
	a.checkContradictions()
	c.checkStructure(a)
	a.checkTriggers()
	a.checkOcclusion(rules)

	for _, i := range a.issues {
		c.logger.Debug().Str("rule", r.DisplayLabel()).Msg(i.String())
	}
	return a.issues
}

// timeSlots intersects the windows of every time-scoped condition of r over the horizon
func (a *analysis) timeSlots(r *rule.Rule) []timeslot.Interval {
	var rslt []timeslot.Interval
	scoped := false
	for _, cond := range r.Conditions {
		evt := cond.TimeSlotEvent()
		if evt == nil {
			continue
		}
		slots := evt.Slots(a.from, a.to)
		if !scoped {
			rslt = slots
			scoped = true
			continue
		}
		rslt = timeslot.Intersect(rslt, slots)
	}
	if !scoped {
		return []timeslot.Interval{{Start: a.from, End: a.to}}
	}
	return rslt
}

func (a *analysis) checkCanFire() {
	if len(a.windows) == 0 {
		a.add(LevelError, "Rule can not fire in the next year")
	}
}

func (a *analysis) checkContradictions() {
	conds := a.rule.Conditions
	for i := 0; i < len(conds); i++ {
		for j := i + 1; j < len(conds); j++ {
			if conds[i].Contradicts(conds[j]) || conds[j].Contradicts(conds[i]) {
				a.add(LevelError, "Rule contains contradictory conditions: %s AND %s", conds[i].Label(), conds[j].Label())
			}
		}
	}
}

func (c *Checker) checkStructure(a *analysis) {
	r := a.rule
	if len(r.Actions) == 0 {
		a.add(LevelError, "Rule has no actions")
	}
	if r.DeviceID == "" || c.devices == nil || c.devices.FindDevice(r.DeviceID) == nil {
		a.add(LevelError, "Rule has no valid target device")
	}
	for _, cond := range r.Conditions {
		if !cond.IsValid() {
			a.add(LevelError, "Condition not valid: %s", cond.Label())
		}
	}
	for _, act := range r.Actions {
		if !act.IsValid() {
			a.add(LevelError, "Action not valid: %s", act.Label())
		}
	}
	if r.Priority < minPriority || r.Priority > maxPriority {
		a.add(LevelError, "Priority %g is outside [%d,%d]", r.Priority, minPriority, maxPriority)
	}
	if r.Name == "" {
		a.add(LevelWarning, "Rule has no name")
	}
}

func (a *analysis) checkTriggers() {
	trig := false
	for i, cond := range a.rule.Conditions {
		if !cond.IsTrigger() {
			continue
		}
		switch {
		case trig:
			a.add(LevelError, "Multiple trigger conditions -- rule won't fire")
		case i > 0:
			a.add(LevelError, "Trigger condition should be first condition")
		default:
			trig = true
		}
	}

	var trigActs, levelActs int
	for _, act := range a.rule.Actions {
		if act.IsTrigger() {
			trigActs++
		} else {
			levelActs++
		}
	}
	switch {
	case trigActs > 0 && levelActs > 0:
		a.add(LevelError, "Rule mixes trigger and non-trigger actions")
	case trigActs > 0 && !trig:
		a.add(LevelWarning, "Trigger action associated with non-trigger rule")
	case levelActs > 0 && trig:
		a.add(LevelWarning, "Non-trigger action associated with trigger rule")
	}
}

// checkOcclusion compares the rule with the other rules driving the same device
func (a *analysis) checkOcclusion(rules []*rule.Rule) {
	r := a.rule
	conditional := hasLevelCondition(r)
	for _, o := range rules {
		if o == r || o.ID == r.ID || o.Disabled || o.DeviceID != r.DeviceID {
			continue
		}
		if !hasTimeCondition(o) {
			continue
		}
		owin := a.timeSlots(o)
		if rule.Less(o, r) {
			if hasLevelCondition(o) {
				continue
			}
			if len(timeslot.Subtract(a.windows, owin)) == 0 {
				a.add(LevelError, "Higher priority rule %s prevents this rule from occurring", o.DisplayLabel())
			}
			continue
		}
		if conditional {
			continue
		}
		if len(timeslot.Subtract(owin, a.windows)) == 0 {
			a.add(LevelError, "This rule prevents the rule %s from occurring", o.DisplayLabel())
		}
	}
}

func hasTimeCondition(r *rule.Rule) bool {
	for _, c := range r.Conditions {
		if c.TimeSlotEvent() != nil {
			return true
		}
	}
	return false
}

func hasLevelCondition(r *rule.Rule) bool {
	for _, c := range r.Conditions {
		if c.TimeSlotEvent() == nil {
			return true
		}
	}
	return false
}

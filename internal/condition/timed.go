package condition

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"homerules/internal/device"
	"homerules/internal/scheduler"
	"homerules/internal/timeslot"
	"homerules/internal/utils"

	"github.com/robfig/cron/v3"
)

// Time holds while its calendar event is active
type Time struct {
	base
	event   *timeslot.CalendarEvent
	next    delay
	runMu   sync.Mutex
	running bool
}

func newTime(env *Env, typ string, m utils.Fields) (*Time, error) {
	em := utils.GetMap(m, "EVENT")
	if em == nil {
		return nil, fmt.Errorf("time condition needs EVENT")
	}
	ev, err := timeslot.CalendarFromFields(em, env.now())
	if err != nil {
		return nil, err
	}
	c := &Time{event: ev}
	c.next.env = env
	c.init(c, env, typ, m)
	if c.name == "" {
		c.name = "Time " + ev.From.Format("2006-01-02 15:04") + " - " + ev.To.Format("2006-01-02 15:04")
	}
	c.setValid(true)
	return c, nil
}

// Event returns the calendar event driving the condition
func (c *Time) Event() *timeslot.CalendarEvent { return c.event }

func (c *Time) TimeSlotEvent() timeslot.Event { return c.event }

func (c *Time) CurrentStatus(w device.World) (PropertySet, error) {
	if c.event.IsActive(w.Time()) {
		return PropertySet{}, nil
	}
	return nil, nil
}

func (c *Time) StateChanged(w device.World) {
	if w == nil || !w.IsCurrent() {
		return
	}
	c.evaluate(w.Time())
}

func (c *Time) evaluate(t time.Time) {
	active := c.event.IsActive(t)
	switch {
	case active && !c.isOn():
		c.fireOn(PropertySet{})
	case !active:
		c.fireOff()
	}
}

func (c *Time) start() {
	c.runMu.Lock()
	c.running = true
	c.runMu.Unlock()
	c.tick()
}

// tick evaluates now and arms a timer for the next window boundary
func (c *Time) tick() {
	c.runMu.Lock()
	running := c.running
	c.runMu.Unlock()
	if !running {
		return
	}
	now := c.env.now()
	c.evaluate(now)
	nb := c.event.NextBoundary(now)
	if nb.IsZero() {
		return
	}
	c.next.set(nb.Sub(now), c.tick)
}

func (c *Time) stop() {
	c.runMu.Lock()
	c.running = false
	c.runMu.Unlock()
	c.next.cancel()
}

func (c *Time) Encode() utils.Fields {
	rslt := c.encodeBase()
	rslt["EVENT"] = c.event.Encode()
	return rslt
}

// TriggerTime fires on a cron schedule
type TriggerTime struct {
	base
	spec    string
	timeStr string
	days    string
	sched   cron.Schedule
}

func newTriggerTime(env *Env, typ string, m utils.Fields) (*TriggerTime, error) {
	c := &TriggerTime{
		spec:    utils.GetString(m, "CRON", ""),
		timeStr: utils.GetString(m, "TIME", ""),
		days:    utils.GetString(m, "DAYS", ""),
	}
	if c.spec == "" {
		if c.timeStr == "" {
			return nil, fmt.Errorf("trigger time needs CRON or TIME")
		}
		spec, err := scheduler.TimeToCron(c.timeStr, c.days)
		if err != nil {
			return nil, err
		}
		c.spec = spec
	}
	sched, err := cron.ParseStandard(c.spec)
	if err != nil {
		return nil, fmt.Errorf("bad cron %q: %w", c.spec, err)
	}
	c.sched = sched
	c.init(c, env, typ, m)
	if c.name == "" {
		c.name = "At " + c.spec
	}
	c.setValid(true)
	return c, nil
}

func (c *TriggerTime) IsTrigger() bool { return true }

// Spec returns the cron expression
func (c *TriggerTime) Spec() string { return c.spec }

func (c *TriggerTime) TimeSlotEvent() timeslot.Event {
	return timeslot.CronEvent{Schedule: c.sched}
}

// Fire reports one activation of the schedule
func (c *TriggerTime) Fire() {
	c.fireTrigger(PropertySet{"TIME": c.env.now().Format("15:04")})
}

func (c *TriggerTime) start() {
	if c.env.Cron == nil {
		c.logger.Warn().Str("condition", c.Name()).Msg("no cron scheduler; trigger time will not fire")
		return
	}
	if err := c.env.Cron.AddOrUpdate(c.id, c.spec, c.Fire); err != nil {
		c.fireError(err)
	}
}

func (c *TriggerTime) stop() {
	if c.env.Cron != nil {
		c.env.Cron.Remove(c.id)
	}
}

func (c *TriggerTime) Encode() utils.Fields {
	rslt := c.encodeBase()
	if c.timeStr != "" {
		rslt["TIME"] = c.timeStr
		if c.days != "" {
			rslt["DAYS"] = c.days
		}
	} else {
		rslt["CRON"] = c.spec
	}
	return rslt
}

// CalendarEvent holds while the calendar source has a matching active entry
type CalendarEvent struct {
	base
	fields map[string]string
}

func newCalendarEvent(env *Env, m utils.Fields) (*CalendarEvent, error) {
	c := &CalendarEvent{fields: make(map[string]string)}
	for k, v := range utils.GetMap(m, "FIELDS") {
		c.fields[k] = fmt.Sprint(v)
	}
	if len(c.fields) == 0 {
		return nil, fmt.Errorf("calendar condition needs FIELDS")
	}
	c.init(c, env, "CalendarEvent", m)
	if c.name == "" {
		c.name = "Calendar"
		for k, v := range c.fields {
			c.name += " " + k + "~" + v
		}
	}
	c.setValid(env.Calendar != nil)
	return c, nil
}

func (c *CalendarEvent) match(t time.Time) PropertySet {
	if c.env.Calendar == nil {
		return nil
	}
	for _, ev := range c.env.Calendar.ActiveEvents(t) {
		ok := true
		for k, want := range c.fields {
			if !strings.Contains(strings.ToLower(ev[k]), strings.ToLower(want)) {
				ok = false
				break
			}
		}
		if ok {
			ps := PropertySet{}
			for k, v := range ev {
				ps[k] = v
			}
			return ps
		}
	}
	return nil
}

func (c *CalendarEvent) CurrentStatus(w device.World) (PropertySet, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("%s: %w", c.Name(), ErrInvalidCondition)
	}
	return c.match(w.Time()), nil
}

func (c *CalendarEvent) StateChanged(w device.World) {
	if w == nil || !w.IsCurrent() {
		return
	}
	c.evaluate(w.Time())
}

// Poll re-checks the calendar at the current time
func (c *CalendarEvent) Poll() {
	c.evaluate(c.env.now())
}

func (c *CalendarEvent) evaluate(t time.Time) {
	if !c.IsValid() {
		return
	}
	ps := c.match(t)
	switch {
	case ps != nil && !c.isOn():
		c.fireOn(ps)
	case ps == nil:
		c.fireOff()
	}
}

func (c *CalendarEvent) start() {
	if c.env.Cron != nil {
		if err := c.env.Cron.AddOrUpdate(c.id, "* * * * *", c.Poll); err != nil {
			c.fireError(err)
		}
	}
	c.Poll()
}

func (c *CalendarEvent) stop() {
	if c.env.Cron != nil {
		c.env.Cron.Remove(c.id)
	}
}

func (c *CalendarEvent) Encode() utils.Fields {
	rslt := c.encodeBase()
	f := utils.Fields{}
	for k, v := range c.fields {
		f[k] = v
	}
	rslt["FIELDS"] = f
	return rslt
}

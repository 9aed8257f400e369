package condition

import (
	"fmt"
	"sync"
	"time"

	"homerules/internal/scheduler"
	"homerules/internal/utils"

	"github.com/robfig/cron/v3"
)

// wrapped listens to a sub-condition while the owning condition is started
type wrapped struct {
	sub    Condition
	wmu    sync.Mutex
	handle int
	hooked bool
}

func wrappedSub(env *Env, m utils.Fields) (Condition, error) {
	sm := utils.GetMap(m, "CONDITION")
	if sm == nil {
		return nil, fmt.Errorf("missing CONDITION")
	}
	return Create(env, sm)
}

func (w *wrapped) hook(l Listener) {
	w.wmu.Lock()
	if w.hooked {
		w.wmu.Unlock()
		return
	}
	w.hooked = true
	w.wmu.Unlock()
	h := w.sub.AddListener(l)
	w.wmu.Lock()
	w.handle = h
	w.wmu.Unlock()
}

func (w *wrapped) unhook() {
	w.wmu.Lock()
	if !w.hooked {
		w.wmu.Unlock()
		return
	}
	w.hooked = false
	h := w.handle
	w.wmu.Unlock()
	w.sub.RemoveListener(h)
}

func millis(m utils.Fields, key string) time.Duration {
	return time.Duration(utils.GetInt64(m, key, 0)) * time.Millisecond
}

// Duration holds once its sub-condition has held for a minimum time, optionally up to a maximum
type Duration struct {
	base
	wrapped
	startAfter time.Duration
	endAfter   time.Duration
	trigger    bool
	onTimer    delay
	offTimer   delay
}

func newDuration(env *Env, m utils.Fields) (*Duration, error) {
	sub, err := wrappedSub(env, m)
	if err != nil {
		return nil, err
	}
	c := &Duration{
		wrapped:    wrapped{sub: sub},
		startAfter: millis(m, "STARTTIME"),
		endAfter:   millis(m, "ENDTIME"),
		trigger:    utils.GetBool(m, "TRIGGER", false),
	}
	if c.startAfter < 0 || (c.endAfter > 0 && c.endAfter <= c.startAfter) {
		return nil, fmt.Errorf("duration end %v must follow start %v", c.endAfter, c.startAfter)
	}
	c.onTimer.env, c.offTimer.env = env, env
	c.init(c, env, "Duration", m)
	if c.name == "" {
		c.name = fmt.Sprintf("%s for %v", sub.Name(), c.startAfter)
	}
	c.setValid(c.subValid())
	return c, nil
}

func (c *Duration) subValid() bool { return c.sub.IsValid() && !c.sub.IsTrigger() }

func (c *Duration) IsTrigger() bool { return c.trigger }

func (c *Duration) Subconditions() []Condition { return []Condition{c.sub} }

func (c *Duration) start() { c.hook(c.subEvent) }

func (c *Duration) stop() {
	c.unhook()
	c.onTimer.cancel()
	c.offTimer.cancel()
}

func (c *Duration) subEvent(ev Event) {
	switch ev.Kind {
	case EventOn:
		if c.onTimer.pending() || c.isOn() {
			return
		}
		props := ev.Props.Clone()
		c.onTimer.set(c.startAfter, func() {
			if c.trigger {
				c.fireTrigger(props)
				return
			}
			c.fireOn(props)
			if c.endAfter > 0 {
				c.offTimer.set(c.endAfter-c.startAfter, c.fireOff)
			}
		})
	case EventOff:
		c.onTimer.cancel()
		c.offTimer.cancel()
		c.fireOff()
	case EventValidated:
		if c.setValid(c.subValid()) {
			c.fireValidated()
		}
	case EventError:
		c.fireError(ev.Err)
	}
}

func (c *Duration) Encode() utils.Fields {
	rslt := c.encodeBase()
	rslt["CONDITION"] = c.sub.Encode()
	rslt["STARTTIME"] = c.startAfter.Milliseconds()
	rslt["ENDTIME"] = c.endAfter.Milliseconds()
	rslt["TRIGGER"] = c.trigger
	return rslt
}

// Debounce follows its sub-condition only after it has been stable for a while
type Debounce struct {
	base
	wrapped
	onTime   time.Duration
	offTime  time.Duration
	onTimer  delay
	offTimer delay
}

func newDebounce(env *Env, m utils.Fields) (*Debounce, error) {
	sub, err := wrappedSub(env, m)
	if err != nil {
		return nil, err
	}
	c := &Debounce{
		wrapped: wrapped{sub: sub},
		onTime:  millis(m, "ONTIME"),
		offTime: millis(m, "OFFTIME"),
	}
	c.onTimer.env, c.offTimer.env = env, env
	c.init(c, env, "Debounce", m)
	if c.name == "" {
		c.name = "Stable " + sub.Name()
	}
	c.setValid(c.subValid())
	return c, nil
}

func (c *Debounce) subValid() bool { return c.sub.IsValid() && !c.sub.IsTrigger() }

func (c *Debounce) Subconditions() []Condition { return []Condition{c.sub} }

func (c *Debounce) start() { c.hook(c.subEvent) }

func (c *Debounce) stop() {
	c.unhook()
	c.onTimer.cancel()
	c.offTimer.cancel()
}

func (c *Debounce) subEvent(ev Event) {
	switch ev.Kind {
	case EventOn:
		c.offTimer.cancel()
		if c.isOn() || c.onTimer.pending() {
			return
		}
		props := ev.Props.Clone()
		c.onTimer.set(c.onTime, func() { c.fireOn(props) })
	case EventOff:
		c.onTimer.cancel()
		if !c.isOn() || c.offTimer.pending() {
			return
		}
		c.offTimer.set(c.offTime, c.fireOff)
	case EventValidated:
		if c.setValid(c.subValid()) {
			c.fireValidated()
		}
	case EventError:
		c.fireError(ev.Err)
	}
}

func (c *Debounce) Encode() utils.Fields {
	rslt := c.encodeBase()
	rslt["CONDITION"] = c.sub.Encode()
	rslt["ONTIME"] = c.onTime.Milliseconds()
	rslt["OFFTIME"] = c.offTime.Milliseconds()
	return rslt
}

// Latch turns on with its sub-condition and stays on until reset
type Latch struct {
	base
	wrapped
	resetTime  string
	resetSched cron.Schedule
	resetAfter time.Duration
	resetTimer delay
}

func newLatch(env *Env, m utils.Fields) (*Latch, error) {
	sub, err := wrappedSub(env, m)
	if err != nil {
		return nil, err
	}
	c := &Latch{
		wrapped:    wrapped{sub: sub},
		resetTime:  utils.GetString(m, "RESETTIME", ""),
		resetAfter: millis(m, "RESETAFTER"),
	}
	if c.resetTime != "" {
		spec, err := scheduler.TimeToCron(c.resetTime, "")
		if err != nil {
			return nil, err
		}
		if c.resetSched, err = cron.ParseStandard(spec); err != nil {
			return nil, err
		}
	}
	c.resetTimer.env = env
	c.init(c, env, "Latch", m)
	if c.name == "" {
		c.name = "Latched " + sub.Name()
	}
	c.setValid(c.sub.IsValid())
	return c, nil
}

func (c *Latch) Subconditions() []Condition { return []Condition{c.sub} }

func (c *Latch) start() { c.hook(c.subEvent) }

func (c *Latch) stop() {
	c.unhook()
	c.resetTimer.cancel()
}

func (c *Latch) subEvent(ev Event) {
	switch ev.Kind {
	case EventOn, EventTrigger:
		if c.isOn() {
			return
		}
		c.fireOn(ev.Props.Clone())
		c.armReset()
	case EventValidated:
		if c.setValid(c.sub.IsValid()) {
			c.fireValidated()
		}
	case EventError:
		c.fireError(ev.Err)
	}
}

func (c *Latch) armReset() {
	switch {
	case c.resetAfter > 0:
		c.resetTimer.set(c.resetAfter, c.fireOff)
	case c.resetSched != nil:
		now := c.env.now()
		c.resetTimer.set(c.resetSched.Next(now).Sub(now), c.fireOff)
	}
}

func (c *Latch) Encode() utils.Fields {
	rslt := c.encodeBase()
	rslt["CONDITION"] = c.sub.Encode()
	if c.resetTime != "" {
		rslt["RESETTIME"] = c.resetTime
	}
	if c.resetAfter > 0 {
		rslt["RESETAFTER"] = c.resetAfter.Milliseconds()
	}
	return rslt
}

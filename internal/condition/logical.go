package condition

import (
	"fmt"
	"sync"

	"homerules/internal/device"
	"homerules/internal/timeslot"
	"homerules/internal/utils"
)

// Always holds unconditionally
type Always struct {
	base
}

func newAlways(env *Env, m utils.Fields) *Always {
	c := &Always{}
	c.init(c, env, "Always", m)
	if c.name == "" {
		c.name = "Always"
	}
	c.setValid(true)
	c.fireOn(PropertySet{})
	return c
}

func (c *Always) CurrentStatus(device.World) (PropertySet, error) {
	return PropertySet{}, nil
}

// TimeSlotEvent covers the whole analysis horizon
func (c *Always) TimeSlotEvent() timeslot.Event {
	return timeslot.Unbounded()
}

// AddUsedConditions adds nothing; Always never changes
func (c *Always) AddUsedConditions(Set) {}

func (c *Always) Encode() utils.Fields {
	return c.encodeBase()
}

// Reference proxies a shared condition by name
type Reference struct {
	base
	target Condition
	refMu  sync.Mutex
	handle int
	hooked bool
}

func newReference(env *Env, m utils.Fields) (*Reference, error) {
	name := utils.GetString(m, "SHAREDNAME", "")
	var target Condition
	if name != "" && env.Shared != nil {
		target = env.Shared(name)
	}
	if target == nil {
		sub := utils.GetMap(m, "CONDITION")
		if sub == nil {
			return nil, fmt.Errorf("shared condition %q not found", name)
		}
		cc, err := Create(env, sub)
		if err != nil {
			return nil, err
		}
		target = cc
		if name == "" {
			name = cc.Name()
		}
	}
	c := &Reference{target: target}
	c.init(c, env, "Reference", m)
	c.shared = ""
	if c.name == "" {
		c.name = name
	}
	c.setValid(target.IsValid())
	return c, nil
}

// Target returns the referenced condition
func (c *Reference) Target() Condition { return c.target }

func (c *Reference) IsValid() bool {
	return c.target.IsValid()
}

func (c *Reference) IsTrigger() bool { return c.target.IsTrigger() }

// SharedName is the reference's own registered name, else the name of the shared condition it points at
func (c *Reference) SharedName() string {
	if sn := c.base.SharedName(); sn != "" {
		return sn
	}
	return c.target.SharedName()
}

func (c *Reference) StateChanged(w device.World) { c.target.StateChanged(w) }

func (c *Reference) CurrentStatus(w device.World) (PropertySet, error) {
	return c.target.CurrentStatus(w)
}

func (c *Reference) TimeSlotEvent() timeslot.Event { return c.target.TimeSlotEvent() }

func (c *Reference) Contradicts(other Condition) bool {
	if o, ok := other.(*Reference); ok {
		other = o.target
	}
	return c.target.Contradicts(other)
}

func (c *Reference) Subconditions() []Condition { return []Condition{c.target} }

// start installs the one internal listener on the target once this reference is itself listened to
func (c *Reference) start() {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	if c.hooked {
		return
	}
	c.hooked = true
	c.handle = c.target.AddListener(c.forward)
	c.logger.Debug().Str("condition", c.Name()).Msg("reference listener installed")
}

func (c *Reference) stop() {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	if !c.hooked {
		return
	}
	c.hooked = false
	c.target.RemoveListener(c.handle)
	c.logger.Debug().Str("condition", c.Name()).Msg("reference listener removed")
}

func (c *Reference) forward(ev Event) {
	switch ev.Kind {
	case EventOn:
		c.mu.Lock()
		c.state = stateOn
		c.mu.Unlock()
	case EventOff:
		c.mu.Lock()
		c.state = stateOff
		c.mu.Unlock()
	case EventValidated:
		c.setValid(ev.Valid)
	}
	ev.Props = ev.Props.Clone()
	c.notify(ev)
}

// Encode names the shared target and only inlines it when it is not registered
func (c *Reference) Encode() utils.Fields {
	rslt := c.encodeBase()
	sn := c.target.SharedName()
	if sn == "" {
		rslt["SHAREDNAME"] = c.target.Name()
		rslt["CONDITION"] = c.target.Encode()
	} else {
		rslt["SHAREDNAME"] = sn
	}
	return rslt
}

// Disabled keeps a wrapped condition for round-tripping but never holds
type Disabled struct {
	base
	inner utils.Fields
}

func newDisabled(env *Env, m utils.Fields) *Disabled {
	c := &Disabled{inner: utils.GetMap(m, "CONDITION")}
	c.init(c, env, "Disabled", m)
	if c.name == "" {
		c.name = "Disabled"
	}
	c.setValid(true)
	return c
}

func (c *Disabled) CurrentStatus(device.World) (PropertySet, error) { return nil, nil }

// TimeSlotEvent is empty, so the checker sees a rule that can never fire
func (c *Disabled) TimeSlotEvent() timeslot.Event {
	return timeslot.Window{}
}

func (c *Disabled) Encode() utils.Fields {
	rslt := c.encodeBase()
	if c.inner != nil {
		rslt["CONDITION"] = c.inner
	}
	return rslt
}

// Or holds while any of its conditions holds
type Or struct {
	base
	subs    []Condition
	subMu   sync.Mutex
	handles []int
	onSubs  map[Condition]bool
}

func newOr(env *Env, m utils.Fields) (*Or, error) {
	c := &Or{onSubs: make(map[Condition]bool)}
	for _, sm := range utils.GetList(m, "CONDITIONS") {
		sc, err := Create(env, sm)
		if err != nil {
			return nil, err
		}
		c.subs = append(c.subs, sc)
	}
	if len(c.subs) == 0 {
		return nil, fmt.Errorf("or condition needs CONDITIONS")
	}
	c.init(c, env, "Or", m)
	if c.name == "" {
		c.name = "Or"
		for i, s := range c.subs {
			if i == 0 {
				c.name = s.Name()
			} else {
				c.name += " or " + s.Name()
			}
		}
	}
	c.setValid(c.allValid())
	return c, nil
}

func (c *Or) allValid() bool {
	for _, s := range c.subs {
		if !s.IsValid() {
			return false
		}
	}
	return true
}

func (c *Or) IsTrigger() bool {
	for _, s := range c.subs {
		if s.IsTrigger() {
			return true
		}
	}
	return false
}

func (c *Or) Subconditions() []Condition { return c.subs }

// CurrentStatus returns the status of the first sub-condition that holds.
// A trigger Or only holds through the trigger context.
func (c *Or) CurrentStatus(w device.World) (PropertySet, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("%s: %w", c.Name(), ErrInvalidCondition)
	}
	if c.IsTrigger() {
		return nil, nil
	}
	for _, s := range c.subs {
		if s.IsTrigger() {
			continue
		}
		ps, err := s.CurrentStatus(w)
		if err != nil {
			return nil, err
		}
		if ps != nil {
			return ps, nil
		}
	}
	return nil, nil
}

func (c *Or) StateChanged(w device.World) {
	for _, s := range c.subs {
		s.StateChanged(w)
	}
}

func (c *Or) start() {
	c.subMu.Lock()
	if c.handles != nil {
		c.subMu.Unlock()
		return
	}
	c.handles = make([]int, len(c.subs))
	c.subMu.Unlock()

	handles := make([]int, len(c.subs))
	for i, s := range c.subs {
		sub := s
		handles[i] = s.AddListener(func(ev Event) { c.subEvent(sub, ev) })
	}
	c.subMu.Lock()
	c.handles = handles
	c.subMu.Unlock()
}

func (c *Or) stop() {
	c.subMu.Lock()
	handles := c.handles
	c.handles = nil
	clear(c.onSubs)
	c.subMu.Unlock()

	for i, s := range c.subs {
		if handles != nil {
			s.RemoveListener(handles[i])
		}
	}
}

func (c *Or) subEvent(sub Condition, ev Event) {
	switch ev.Kind {
	case EventTrigger:
		c.fireTrigger(ev.Props)
	case EventOn:
		c.subMu.Lock()
		was := c.onSubs[sub]
		c.onSubs[sub] = true
		first := len(c.onSubs) == 1
		c.subMu.Unlock()
		switch {
		case c.IsTrigger() && !was:
			c.fireTrigger(ev.Props)
		case first && !c.IsTrigger():
			c.fireOn(ev.Props)
		}
	case EventOff:
		c.subMu.Lock()
		delete(c.onSubs, sub)
		none := len(c.onSubs) == 0
		c.subMu.Unlock()
		if none && !c.IsTrigger() {
			c.fireOff()
		}
	case EventValidated:
		if c.setValid(c.allValid()) {
			c.fireValidated()
		}
	case EventError:
		c.fireError(ev.Err)
	}
}

func (c *Or) Encode() utils.Fields {
	rslt := c.encodeBase()
	var subs []utils.Fields
	for _, s := range c.subs {
		subs = append(subs, s.Encode())
	}
	rslt["CONDITIONS"] = subs
	return rslt
}

// Package condition implements the observable truths rules are built from.
package condition

import (
	"errors"
	"maps"
	"sync"
	"time"

	"homerules/internal/device"
	"homerules/internal/timeslot"
	"homerules/internal/utils"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidCondition = errors.New("condition is not valid")
	ErrUnknownType      = errors.New("unknown condition type")
)

// PropertySet carries the values a condition reports when it holds or fires
type PropertySet map[string]any

// Clone returns a shallow copy
func (p PropertySet) Clone() PropertySet {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Merge copies other's entries into p, overwriting duplicates
func (p PropertySet) Merge(other PropertySet) {
	maps.Copy(p, other)
}

// EventKind names what a condition is reporting to its listeners
type EventKind int

const (
	EventOn EventKind = iota
	EventOff
	EventTrigger
	EventValidated
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOn:
		return "on"
	case EventOff:
		return "off"
	case EventTrigger:
		return "trigger"
	case EventValidated:
		return "validated"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is delivered to condition listeners
type Event struct {
	Kind   EventKind
	Source Condition
	Props  PropertySet
	Valid  bool
	Err    error
}

// Listener receives condition events; it must not block
type Listener func(Event)

// Set is a collection of conditions
type Set map[Condition]bool

// Condition is a boolean, possibly time-varying predicate over device state
type Condition interface {
	ID() string
	Name() string
	Label() string
	Description() string
	Type() string

	IsValid() bool
	IsTrigger() bool
	SharedName() string
	SetSharedName(name string)

	// StateChanged re-evaluates against w, firing on, off or trigger when the live result flips
	StateChanged(w device.World)
	// CurrentStatus returns the properties when the condition holds in w and nil when it does not
	CurrentStatus(w device.World) (PropertySet, error)
	TimeSlotEvent() timeslot.Event
	Contradicts(other Condition) bool
	Subconditions() []Condition
	AddUsedConditions(set Set)

	AddListener(l Listener) int
	RemoveListener(handle int)
	HasListeners() bool

	Encode() utils.Fields
}

// Stopper cancels a pending timer
type Stopper interface {
	Stop() bool
}

// CronScheduler runs functions on cron schedules keyed by owner id
type CronScheduler interface {
	AddOrUpdate(id, spec string, fn func()) error
	Remove(id string)
}

// CalendarSource lists the calendar entries active at a time
type CalendarSource interface {
	ActiveEvents(t time.Time) []map[string]string
}

// Env bundles what conditions need from the rest of the system
type Env struct {
	Devices   device.Source
	Shared    func(name string) Condition
	Cron      CronScheduler
	Calendar  CalendarSource
	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) Stopper
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) afterFunc(d time.Duration, f func()) Stopper {
	if e.AfterFunc != nil {
		return e.AfterFunc(d, f)
	}
	return time.AfterFunc(d, f)
}

func (e *Env) world() device.World {
	if e.Devices == nil {
		return nil
	}
	return e.Devices.CurrentWorld()
}

type onState int

const (
	stateUnknown onState = iota
	stateOn
	stateOff
)

// lifecycle is implemented by conditions that watch something while they have listeners
type lifecycle interface {
	start()
	stop()
}

// base carries the listener fan-out and on/off bookkeeping shared by every variant
type base struct {
	mu sync.Mutex

	self   Condition
	env    *Env
	typ    string
	id     string
	name   string
	label  string
	desc   string
	shared string

	valid     bool
	state     onState
	lastProps PropertySet

	listeners  map[int]Listener
	nextHandle int

	logger zerolog.Logger
}

func (b *base) init(self Condition, env *Env, typ string, m utils.Fields) {
	b.self = self
	b.env = env
	b.typ = typ
	b.id = utils.GetString(m, "ID", "")
	if b.id == "" {
		b.id = "COND_" + uuid.NewString()
	}
	b.name = utils.GetString(m, "NAME", "")
	b.label = utils.GetString(m, "LABEL", "")
	b.desc = utils.GetString(m, "DESCRIPTION", "")
	b.shared = utils.GetString(m, "SHAREDNAME", "")
	b.listeners = make(map[int]Listener)
	b.logger = utils.Component("CONDITION")
}

func (b *base) ID() string   { return b.id }
func (b *base) Type() string { return b.typ }

func (b *base) Name() string {
	if b.name != "" {
		return b.name
	}
	return b.typ
}

func (b *base) Label() string {
	if b.label != "" {
		return b.label
	}
	return b.Name()
}

func (b *base) Description() string { return b.desc }

func (b *base) IsValid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.valid
}

func (b *base) IsTrigger() bool { return false }

func (b *base) SharedName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shared
}

func (b *base) SetSharedName(name string) {
	b.mu.Lock()
	b.shared = name
	b.mu.Unlock()
}

func (b *base) StateChanged(device.World) {}

// CurrentStatus reports the cached live state
func (b *base) CurrentStatus(device.World) (PropertySet, error) {
	trig := b.self.IsTrigger()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid {
		return nil, ErrInvalidCondition
	}
	if trig || b.state != stateOn {
		return nil, nil
	}
	if b.lastProps == nil {
		return PropertySet{}, nil
	}
	return b.lastProps.Clone(), nil
}

func (b *base) TimeSlotEvent() timeslot.Event { return nil }
func (b *base) Contradicts(Condition) bool    { return false }
func (b *base) Subconditions() []Condition    { return nil }

func (b *base) AddUsedConditions(set Set) {
	set[b.self] = true
	for _, c := range b.self.Subconditions() {
		c.AddUsedConditions(set)
	}
}

// AddListener registers l and starts the condition when it is the first one
func (b *base) AddListener(l Listener) int {
	b.mu.Lock()
	b.nextHandle++
	h := b.nextHandle
	b.listeners[h] = l
	first := len(b.listeners) == 1
	b.mu.Unlock()

	if first {
		if lc, ok := b.self.(lifecycle); ok {
			lc.start()
		}
	}
	return h
}

// RemoveListener drops a listener and stops the condition when none remain
func (b *base) RemoveListener(handle int) {
	b.mu.Lock()
	_, had := b.listeners[handle]
	delete(b.listeners, handle)
	last := had && len(b.listeners) == 0
	b.mu.Unlock()

	if last {
		if lc, ok := b.self.(lifecycle); ok {
			lc.stop()
		}
	}
}

func (b *base) HasListeners() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners) > 0
}

func (b *base) encodeBase() utils.Fields {
	rslt := utils.Fields{"TYPE": b.typ, "ID": b.id}
	if b.name != "" {
		rslt["NAME"] = b.name
	}
	if b.label != "" {
		rslt["LABEL"] = b.label
	}
	if b.desc != "" {
		rslt["DESCRIPTION"] = b.desc
	}
	if sn := b.SharedName(); sn != "" {
		rslt["SHAREDNAME"] = sn
	}
	return rslt
}

// setValid records validity and reports whether it changed
func (b *base) setValid(v bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.valid == v {
		return false
	}
	b.valid = v
	if !v {
		b.state = stateUnknown
	}
	return true
}

func (b *base) isOn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOn
}

func (b *base) fireOn(props PropertySet) {
	b.mu.Lock()
	b.state = stateOn
	b.lastProps = props.Clone()
	b.mu.Unlock()
	b.logger.Info().Str("condition", b.Name()).Msg("on")
	b.notify(Event{Kind: EventOn, Props: props})
}

// fireOff only notifies when the condition was on
func (b *base) fireOff() {
	b.mu.Lock()
	wasOn := b.state == stateOn
	b.state = stateOff
	b.lastProps = nil
	b.mu.Unlock()
	if !wasOn {
		return
	}
	b.logger.Info().Str("condition", b.Name()).Msg("off")
	b.notify(Event{Kind: EventOff})
}

func (b *base) fireTrigger(props PropertySet) {
	b.logger.Info().Str("condition", b.Name()).Msg("trigger")
	b.notify(Event{Kind: EventTrigger, Props: props})
}

func (b *base) fireValidated() {
	valid := b.IsValid()
	b.logger.Debug().Str("condition", b.Name()).Bool("valid", valid).Msg("validity changed")
	b.notify(Event{Kind: EventValidated, Valid: valid})
}

func (b *base) fireError(err error) {
	b.logger.Error().Err(err).Str("condition", b.Name()).Msg("condition error")
	b.notify(Event{Kind: EventError, Err: err})
}

func (b *base) notify(ev Event) {
	ev.Source = b.self
	b.mu.Lock()
	ls := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		ls = append(ls, l)
	}
	b.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// Closure returns every condition reachable from roots through sub-conditions
func Closure(roots ...Condition) []Condition {
	seen := make(Set)
	var rslt []Condition
	var walk func(c Condition)
	walk = func(c Condition) {
		if c == nil || seen[c] {
			return
		}
		seen[c] = true
		rslt = append(rslt, c)
		for _, s := range c.Subconditions() {
			walk(s)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return rslt
}

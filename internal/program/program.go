// Package program owns a rule set, keeps the conditions its rules depend on listening,
// and evaluates the rules when those conditions change.
package program

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"homerules/internal/checker"
	"homerules/internal/condition"
	"homerules/internal/device"
	"homerules/internal/rule"
	"homerules/internal/trigger"
	"homerules/internal/utils"

	"github.com/rs/zerolog"
)

var (
	ErrDuplicateRule = errors.New("duplicate rule")
	ErrRuleNotFound  = errors.New("rule not found")
)

// AlwaysName is the shared condition every program starts with
const AlwaysName = "ALWAYS"

// ApplyListener hears about every rule that fires, before its actions start
type ApplyListener func(r *rule.Rule, props condition.PropertySet)

// Config holds what a program needs from its surroundings
type Config struct {
	ID        string
	Env       *condition.Env
	Commander rule.Commander
	Debounce  time.Duration
	// Submit runs background work; it must not run f on the calling goroutine
	Submit func(f func())
}

// Program is a prioritized rule set bound to live devices
type Program struct {
	id      string
	env     *condition.Env
	actEnv  *rule.ActionEnv
	devices device.Source
	submit  func(func())
	sched   *Scheduler
	checker *checker.Checker
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger

	mu     sync.Mutex
	rules  []*rule.Rule
	active map[condition.Condition]int
	used   map[string]condition.Set

	sharedMu sync.RWMutex
	shared   map[string]condition.Condition

	runMu   sync.Mutex
	runners map[string]*rule.Runner

	lisMu          sync.Mutex
	listeners      []func()
	applyListeners []ApplyListener
}

// New creates an empty program seeded with the ALWAYS shared condition
func New(cfg Config) *Program {
	env := &condition.Env{}
	if cfg.Env != nil {
		cp := *cfg.Env
		env = &cp
	}
	if cfg.ID == "" {
		cfg.ID = "default"
	}
	if cfg.Submit == nil {
		cfg.Submit = func(f func()) { go f() }
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Program{
		id:      cfg.ID,
		env:     env,
		devices: env.Devices,
		actEnv:  &rule.ActionEnv{Devices: env.Devices, Commander: cfg.Commander},
		submit:  cfg.Submit,
		ctx:     ctx,
		cancel:  cancel,
		active:  make(map[condition.Condition]int),
		used:    make(map[string]condition.Set),
		shared:  make(map[string]condition.Condition),
		runners: make(map[string]*rule.Runner),
		logger:  utils.Component("PROGRAM").With().Str("program", cfg.ID).Logger(),
	}
	env.Shared = p.SharedCondition
	now := env.Now
	if now == nil {
		now = time.Now
	}
	p.checker = checker.New(env.Devices, now)
	p.sched = NewScheduler(cfg.Debounce, cfg.Submit, p.runPass)

	always, err := condition.Create(env, utils.Fields{"TYPE": "Always", "NAME": AlwaysName, "SHAREDNAME": AlwaysName})
	if err == nil {
		p.shared[AlwaysName] = always
	}
	return p
}

// ID returns the program id
func (p *Program) ID() string { return p.id }

// Scheduler returns the program's debounced scheduler
func (p *Program) Scheduler() *Scheduler { return p.sched }

// Close removes every installed listener and aborts running actions
func (p *Program) Close() {
	p.mu.Lock()
	for c, h := range p.active {
		c.RemoveListener(h)
	}
	p.active = make(map[condition.Condition]int)
	p.mu.Unlock()

	p.runMu.Lock()
	for _, rr := range p.runners {
		rr.Abort(context.Background())
	}
	p.runMu.Unlock()
	p.cancel()
}

// CreateCondition decodes a condition against this program's devices and shared conditions
func (p *Program) CreateCondition(m utils.Fields) (condition.Condition, error) {
	return condition.Create(p.env, m)
}

// CreateAction decodes an action bound to this program's commander
func (p *Program) CreateAction(m utils.Fields) (rule.Action, error) {
	return rule.CreateAction(p.actEnv, m)
}

// CreateRule decodes a rule without adding it
func (p *Program) CreateRule(m utils.Fields) (*rule.Rule, error) {
	return rule.FromFields(p, m)
}

// Rules returns the rules in priority order
func (p *Program) Rules() []*rule.Rule {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*rule.Rule(nil), p.rules...)
}

// FindRule looks a rule up by id or name
func (p *Program) FindRule(id string) *rule.Rule {
	if id == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.findRule(id)
}

func (p *Program) findRule(id string) *rule.Rule {
	for _, r := range p.rules {
		if r.ID == id || r.Name == id {
			return r
		}
	}
	return nil
}

// AddRule inserts r, replacing a rule with the same id.
// A different rule for the same device at the same priority is rejected.
func (p *Program) AddRule(r *rule.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	for _, o := range p.rules {
		if o.ID != r.ID && isDuplicate(o, r) {
			p.mu.Unlock()
			return fmt.Errorf("%w: %s has the same device and priority as %s", ErrDuplicateRule, r.DisplayLabel(), o.DisplayLabel())
		}
	}
	rules := make([]*rule.Rule, 0, len(p.rules)+1)
	for _, o := range p.rules {
		if o.ID == r.ID {
			p.logger.Debug().Str("rule", o.ID).Msg("replace old rule")
			continue
		}
		rules = append(rules, o)
	}
	p.rules = append(rules, r)
	p.sortRules()
	p.updateConditions()
	p.mu.Unlock()

	p.logger.Info().Str("rule", r.DisplayLabel()).Msg("add rule")
	p.sched.Notify(nil, false, nil)
	p.fireProgramUpdated()
	return nil
}

// RemoveRule drops the rule with the given id
func (p *Program) RemoveRule(id string) error {
	p.mu.Lock()
	idx := -1
	for i, r := range p.rules {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	removed := p.rules[idx]
	p.rules = append(p.rules[:idx:idx], p.rules[idx+1:]...)
	p.updateConditions()
	p.mu.Unlock()

	removed.Abort(context.Background())
	p.logger.Info().Str("rule", removed.DisplayLabel()).Msg("remove rule")
	p.sched.Notify(nil, false, nil)
	p.fireProgramUpdated()
	return nil
}

// ErrorCheckRule runs the static checks for r against the current rule set
func (p *Program) ErrorCheckRule(r *rule.Rule) []checker.Issue {
	return p.checker.Check(p.Rules(), r)
}

func isDuplicate(a, b *rule.Rule) bool {
	return a.DeviceID == b.DeviceID && a.Priority == b.Priority
}

func (p *Program) sortRules() {
	sort.SliceStable(p.rules, func(i, j int) bool { return rule.Less(p.rules[i], p.rules[j]) })
}

// removeDuplicates keeps the first rule of every device and priority pair
func removeDuplicates(rules []*rule.Rule, logger zerolog.Logger) []*rule.Rule {
	var rslt []*rule.Rule
	for _, r := range rules {
		dup := false
		for _, k := range rslt {
			if isDuplicate(k, r) {
				dup = true
				break
			}
		}
		if dup {
			logger.Debug().Str("rule", r.DisplayLabel()).Msg("remove duplicate rule")
			continue
		}
		rslt = append(rslt, r)
	}
	return rslt
}

// ActiveConditions returns the conditions with an installed program listener
func (p *Program) ActiveConditions() condition.Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	rslt := make(condition.Set, len(p.active))
	for c := range p.active {
		rslt[c] = true
	}
	return rslt
}

// updateConditions recomputes the active closure; p.mu must be held
func (p *Program) updateConditions() {
	p.logger.Debug().Int("active", len(p.active)).Int("rules", len(p.rules)).Msg("update conditions")
	p.used = make(map[string]condition.Set)

	del := make(condition.Set, len(p.active))
	for c := range p.active {
		del[c] = true
	}
	for _, r := range p.rules {
		for _, c := range r.Conditions {
			p.markActive(c, del)
		}
	}
	for c := range del {
		if n := c.SharedName(); n != "" && p.SharedCondition(n) == c {
			continue
		}
		p.logger.Debug().Str("condition", c.Name()).Msg("mark condition inactive")
		c.RemoveListener(p.active[c])
		delete(p.active, c)
	}
}

func (p *Program) markActive(c condition.Condition, del condition.Set) {
	if c == nil {
		return
	}
	delete(del, c)
	if _, ok := p.active[c]; !ok {
		p.logger.Debug().Str("condition", c.Name()).Msg("mark condition active")
		p.active[c] = c.AddListener(p.conditionListener(c))
	}
	for _, sub := range c.Subconditions() {
		p.markActive(sub, del)
	}
}

// conditionListener forwards events to the scheduler without blocking
func (p *Program) conditionListener(c condition.Condition) condition.Listener {
	return func(ev condition.Event) {
		switch ev.Kind {
		case condition.EventOn, condition.EventOff:
			p.sched.Notify(c, false, nil)
		case condition.EventTrigger:
			p.sched.Notify(c, true, ev.Props)
		case condition.EventError:
			p.logger.Error().Err(ev.Err).Str("condition", c.Name()).Msg("condition error")
		}
	}
}

// runPass maps the changed conditions to devices and evaluates the rules once
func (p *Program) runPass(tctx *trigger.Context, changed condition.Set, all bool) {
	var relevant map[string]bool
	if !all {
		p.mu.Lock()
		relevant = p.relevantDevices(changed)
		p.mu.Unlock()
		if len(relevant) == 0 {
			relevant = nil
		}
	}
	p.RunOnce(tctx, relevant)
}

// relevantDevices returns the devices whose rules consulted one of changed during the last pass; p.mu must be held
func (p *Program) relevantDevices(changed condition.Set) map[string]bool {
	devs := make(map[string]bool)
	for _, r := range p.rules {
		dev := r.DeviceID
		if dev == "" || devs[dev] {
			continue
		}
		checked := r.CheckedConditions()
		for c := range changed {
			if !checked[c] {
				continue
			}
			if used, ok := p.used[dev]; ok && !used[c] {
				p.logger.Debug().Str("condition", c.Name()).Str("device", dev).Msg("condition isn't relevant to current value")
				continue
			}
			devs[dev] = true
			break
		}
	}
	return devs
}

// RunOnce evaluates the rules in priority order, firing at most one rule per device.
// A nil relevant set considers every device.
func (p *Program) RunOnce(tctx *trigger.Context, relevant map[string]bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Debug().Int("rules", len(p.rules)).Int("triggers", tctx.Len()).Msg("run program")

	var w device.World
	if p.devices != nil {
		w = p.devices.CurrentWorld()
	}
	claimed := make(map[string]bool)
	usedMap := make(map[string]condition.Set)
	fired := false
	for _, r := range p.rules {
		if r.Disabled {
			continue
		}
		dev := r.DeviceID
		if claimed[dev] {
			continue
		}
		if relevant != nil && !relevant[dev] {
			p.logger.Debug().Str("rule", r.DisplayLabel()).Msg("skip rule due to relevancy")
			continue
		}
		used := usedMap[dev]
		if used == nil {
			used = make(condition.Set)
			usedMap[dev] = used
		}
		rr, err := r.Apply(p.ctx, w, tctx, used)
		if err != nil {
			p.logger.Error().Err(err).Str("rule", r.DisplayLabel()).Msg("problem with rule")
			continue
		}
		if rr == nil {
			continue
		}
		fired = true
		claimed[dev] = true
		p.startRunner(dev, rr)
	}
	for dev, set := range usedMap {
		p.used[dev] = set
	}
	return fired
}

// startRunner supersedes the device's previous runner and submits rr
func (p *Program) startRunner(dev string, rr *rule.Runner) {
	p.runMu.Lock()
	if prev := p.runners[dev]; prev != nil {
		p.logger.Info().Str("device", dev).Str("rule", prev.Rule().DisplayLabel()).Msg("abort superseded rule")
		prev.Abort(context.Background())
	}
	p.runners[dev] = rr
	p.runMu.Unlock()

	rr.OnDone(func(done *rule.Runner) {
		p.runMu.Lock()
		if p.runners[dev] == done {
			delete(p.runners, dev)
		}
		p.runMu.Unlock()
	})

	p.lisMu.Lock()
	als := append([]ApplyListener(nil), p.applyListeners...)
	p.lisMu.Unlock()
	for _, l := range als {
		l(rr.Rule(), rr.Props())
	}
	p.submit(rr.Run)
}

// Runner returns the runner still executing for a device
func (p *Program) Runner(dev string) *rule.Runner {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.runners[dev]
}

// AddProgramListener registers fn to run after every rule set or shared condition change
func (p *Program) AddProgramListener(fn func()) {
	p.lisMu.Lock()
	p.listeners = append(p.listeners, fn)
	p.lisMu.Unlock()
}

// AddApplyListener registers fn to hear about fired rules. fn runs under the program lock and must not call back into the program.
func (p *Program) AddApplyListener(fn ApplyListener) {
	p.lisMu.Lock()
	p.applyListeners = append(p.applyListeners, fn)
	p.lisMu.Unlock()
}

func (p *Program) fireProgramUpdated() {
	p.lisMu.Lock()
	ls := append([]func(){}, p.listeners...)
	p.lisMu.Unlock()
	for _, fn := range ls {
		fn()
	}
}

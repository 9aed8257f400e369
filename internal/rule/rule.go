// Package rule couples conditions to the actions they trigger.
package rule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"homerules/internal/condition"
	"homerules/internal/device"
	"homerules/internal/trigger"
	"homerules/internal/utils"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Factory creates the parts of a rule from their encodings
type Factory interface {
	CreateCondition(m utils.Fields) (condition.Condition, error)
	CreateAction(m utils.Fields) (Action, error)
}

// Rule fires its actions when all of its conditions hold
type Rule struct {
	ID          string
	Name        string
	Label       string
	Description string
	DeviceID    string
	Priority    float64
	Created     time.Time
	Trigger     bool
	Disabled    bool
	Conditions  []condition.Condition
	Actions     []Action

	mu     sync.Mutex
	runner *Runner
	used   condition.Set
	logger zerolog.Logger
}

// FromFields decodes a rule. Conditions of unknown type are dropped; any other bad part fails the rule.
func FromFields(f Factory, m utils.Fields) (*Rule, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}
	r := &Rule{
		ID:          utils.GetString(m, "ID", ""),
		Name:        utils.GetString(m, "NAME", ""),
		Label:       utils.GetString(m, "LABEL", ""),
		Description: utils.GetString(m, "DESCRIPTION", ""),
		DeviceID:    utils.GetString(m, "DEVICEID", ""),
		Priority:    utils.GetFloat(m, "PRIORITY", -1),
		Trigger:     utils.GetBool(m, "TRIGGER", false),
		Disabled:    utils.GetBool(m, "DISABLED", false),
		logger:      utils.Component("RULE"),
	}
	if r.ID == "" {
		r.ID = "RULE_" + uuid.NewString()
	}
	if ms := utils.GetInt64(m, "CREATED", 0); ms > 0 {
		r.Created = time.UnixMilli(ms)
	} else {
		r.Created = time.Now()
	}

	conds := utils.GetList(m, "CONDITIONS")
	if sub := utils.GetMap(m, "CONDITION"); sub != nil {
		conds = append([]utils.Fields{sub}, conds...)
	}
	for _, cm := range conds {
		c, err := f.CreateCondition(cm)
		if errors.Is(err, condition.ErrUnknownType) {
			r.logger.Warn().Err(err).Str("rule", r.ID).Msg("dropping condition")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
		}
		r.Conditions = append(r.Conditions, c)
	}
	for _, am := range utils.GetList(m, "ACTIONS") {
		a, err := f.CreateAction(am)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
		}
		r.Actions = append(r.Actions, a)
	}
	if r.DeviceID == "" && len(r.Actions) > 0 {
		r.DeviceID = r.Actions[0].DeviceID()
	}
	r.optimize()
	return r, nil
}

// optimize moves the first time-scoped condition to the front of a level rule
func (r *Rule) optimize() {
	if r.IsTrigger() {
		return
	}
	for i, c := range r.Conditions {
		if c.TimeSlotEvent() == nil {
			continue
		}
		if i > 0 {
			copy(r.Conditions[1:i+1], r.Conditions[:i])
			r.Conditions[0] = c
		}
		return
	}
}

// Validate checks what a rule needs before it can join a program
func (r *Rule) Validate() error {
	switch {
	case len(r.Conditions) == 0:
		return fmt.Errorf("%w: rule %s has no condition", ErrInvalidRule, r.ID)
	case len(r.Actions) == 0:
		return fmt.Errorf("%w: rule %s has no actions", ErrInvalidRule, r.ID)
	case r.Name == "":
		return fmt.Errorf("%w: rule %s has no name", ErrInvalidRule, r.ID)
	}
	return nil
}

// DisplayLabel returns the label, name or id, whichever is set first
func (r *Rule) DisplayLabel() string {
	switch {
	case r.Label != "":
		return r.Label
	case r.Name != "":
		return r.Name
	}
	return r.ID
}

// Less orders rules by priority, highest first.
// Ties at priority 100 and above go to the newer rule; remaining ties fall back to name and id.
func Less(a, b *Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Priority >= 100 && !a.Created.Equal(b.Created) {
		return a.Created.After(b.Created)
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}

// CheckedConditions returns the conditions whose changes can affect this rule
func (r *Rule) CheckedConditions() condition.Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used == nil {
		r.used = make(condition.Set)
		for _, c := range r.Conditions {
			c.AddUsedConditions(r.used)
		}
	}
	return r.used
}

// IsTrigger reports whether the rule is driven by a trigger condition
func (r *Rule) IsTrigger() bool {
	if r.Trigger {
		return true
	}
	for _, c := range r.Conditions {
		if c.IsTrigger() {
			return true
		}
	}
	return false
}

// Status resolves the merged property set of all conditions, or nil when one does not hold
func (r *Rule) Status(w device.World, tctx *trigger.Context, used condition.Set) (condition.PropertySet, error) {
	ps := condition.PropertySet{}
	for _, c := range r.Conditions {
		if used != nil {
			used[c] = true
		}
		ns := fromContext(tctx, c)
		if ns == nil {
			var err error
			if ns, err = c.CurrentStatus(w); err != nil {
				return nil, err
			}
		}
		if ns == nil {
			return nil, nil
		}
		ps.Merge(ns)
	}
	return ps, nil
}

// fromContext looks a condition up in the trigger context, following references to their target
func fromContext(tctx *trigger.Context, c condition.Condition) condition.PropertySet {
	for c != nil {
		if ps := tctx.CheckCondition(c); ps != nil {
			return ps
		}
		ref, ok := c.(*condition.Reference)
		if !ok {
			return nil
		}
		c = ref.Target()
	}
	return nil
}

// Apply evaluates the rule and, when it holds, returns a runner for its actions.
// The caller starts the runner; a nil runner means the rule did not fire.
func (r *Rule) Apply(ctx context.Context, w device.World, tctx *trigger.Context, used condition.Set) (*Runner, error) {
	if r.Disabled {
		return nil, nil
	}
	ps, err := r.Status(w, tctx, used)
	if err != nil || ps == nil {
		return nil, err
	}
	r.logger.Info().Str("rule", r.DisplayLabel()).Msg("apply")
	if len(r.Actions) == 0 {
		r.logger.Info().Str("rule", r.DisplayLabel()).Msg("rule has no actions")
	}
	rr := newRunner(ctx, r, ps)
	r.mu.Lock()
	r.runner = rr
	r.mu.Unlock()
	return rr, nil
}

// Abort stops the rule's running action sequence, if any
func (r *Rule) Abort(ctx context.Context) {
	r.mu.Lock()
	rr := r.runner
	r.mu.Unlock()
	if rr != nil {
		rr.Abort(ctx)
	}
}

// ActiveRunner returns the runner still executing this rule's actions
func (r *Rule) ActiveRunner() *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runner
}

func (r *Rule) runnerDone(rr *Runner) {
	r.mu.Lock()
	if r.runner == rr {
		r.runner = nil
	}
	r.mu.Unlock()
}

// Encode returns the persisted form of the rule
func (r *Rule) Encode() utils.Fields {
	conds := make([]utils.Fields, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		conds = append(conds, c.Encode())
	}
	acts := make([]utils.Fields, 0, len(r.Actions))
	for _, a := range r.Actions {
		acts = append(acts, a.Encode())
	}
	rslt := utils.Fields{
		"ID":         r.ID,
		"NAME":       r.Name,
		"PRIORITY":   r.Priority,
		"CREATED":    r.Created.UnixMilli(),
		"TRIGGER":    r.Trigger,
		"DISABLED":   r.Disabled,
		"DEVICEID":   r.DeviceID,
		"CONDITIONS": conds,
		"ACTIONS":    acts,
	}
	if r.Label != "" {
		rslt["LABEL"] = r.Label
	}
	if r.Description != "" {
		rslt["DESCRIPTION"] = r.Description
	}
	return rslt
}

package program

import (
	"fmt"
	"sort"

	"homerules/internal/condition"
)

// AddSharedCondition registers c under its shared name, or its name when it has none
func (p *Program) AddSharedCondition(c condition.Condition) error {
	if c == nil {
		return fmt.Errorf("%w: nil shared condition", condition.ErrInvalidCondition)
	}
	name := c.SharedName()
	if name == "" {
		name = c.Name()
		c.SetSharedName(name)
	}
	if name == "" {
		return fmt.Errorf("%w: shared condition needs a name", condition.ErrInvalidCondition)
	}
	p.sharedMu.Lock()
	p.shared[name] = c
	p.sharedMu.Unlock()

	p.logger.Debug().Str("shared", name).Msg("add shared condition")
	p.fireProgramUpdated()
	return nil
}

// RemoveSharedCondition drops a shared condition; rules already referencing it keep their copy
func (p *Program) RemoveSharedCondition(name string) bool {
	p.sharedMu.Lock()
	_, ok := p.shared[name]
	delete(p.shared, name)
	p.sharedMu.Unlock()
	if ok {
		p.fireProgramUpdated()
	}
	return ok
}

// SharedCondition looks a shared condition up by name
func (p *Program) SharedCondition(name string) condition.Condition {
	p.sharedMu.RLock()
	defer p.sharedMu.RUnlock()
	return p.shared[name]
}

// SharedConditions returns the shared conditions ordered by name
func (p *Program) SharedConditions() []condition.Condition {
	p.sharedMu.RLock()
	names := make([]string, 0, len(p.shared))
	for n := range p.shared {
		names = append(names, n)
	}
	sort.Strings(names)
	rslt := make([]condition.Condition, 0, len(names))
	for _, n := range names {
		rslt = append(rslt, p.shared[n])
	}
	p.sharedMu.RUnlock()
	return rslt
}

// CleanSharedConditions drops shared conditions no rule refers to and collapses
// entries that only wrap another condition of the same shared name.
// Dropped conditions lose their program listener.
func (p *Program) CleanSharedConditions() {
	used := map[string]bool{AlwaysName: true}
	for _, r := range p.Rules() {
		for _, c := range condition.Closure(r.Conditions...) {
			if n := c.SharedName(); n != "" {
				used[n] = true
			}
		}
	}

	changed := false
	p.sharedMu.Lock()
	for name, c := range p.shared {
		if !used[name] {
			p.logger.Debug().Str("shared", name).Msg("remove unused shared condition")
			delete(p.shared, name)
			changed = true
			continue
		}
		base := c
		for {
			subs := base.Subconditions()
			if len(subs) != 1 || subs[0] == nil || subs[0].SharedName() != base.SharedName() {
				break
			}
			base = subs[0]
		}
		if base != c {
			p.shared[name] = base
			changed = true
		}
	}
	p.sharedMu.Unlock()

	if changed {
		p.mu.Lock()
		p.updateConditions()
		p.mu.Unlock()
		p.fireProgramUpdated()
	}
}

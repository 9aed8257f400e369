package program

import (
	"context"
	"fmt"

	"homerules/internal/rule"
	"homerules/internal/utils"
)

// ObjectStore loads and saves encoded objects by id
type ObjectStore interface {
	LoadObject(ctx context.Context, id string) (utils.Fields, error)
	SaveObject(ctx context.Context, id string, obj utils.Fields) error
}

// Encode returns the persisted form of the program
func (p *Program) Encode() utils.Fields {
	rules := p.Rules()
	rs := make([]utils.Fields, 0, len(rules))
	for _, r := range rules {
		rs = append(rs, r.Encode())
	}
	shared := p.SharedConditions()
	ss := make([]utils.Fields, 0, len(shared))
	for _, c := range shared {
		ss = append(ss, c.Encode())
	}
	return utils.Fields{
		"ID":     p.id,
		"RULES":  rs,
		"SHARED": ss,
	}
}

// Save writes the program to store under its id
func (p *Program) Save(ctx context.Context, store ObjectStore) error {
	if err := store.SaveObject(ctx, p.id, p.Encode()); err != nil {
		return fmt.Errorf("save program %s: %w", p.id, err)
	}
	return nil
}

// Load replaces the program's content with the stored one.
// Shared conditions are created first; rules that fail to decode or validate are skipped.
func (p *Program) Load(ctx context.Context, store ObjectStore) error {
	m, err := store.LoadObject(ctx, p.id)
	if err != nil {
		return fmt.Errorf("load program %s: %w", p.id, err)
	}
	p.LoadFields(m)
	return nil
}

// LoadFields replaces the program's content with an encoded program
func (p *Program) LoadFields(m utils.Fields) {
	for _, sm := range utils.GetList(m, "SHARED") {
		c, err := p.CreateCondition(sm)
		if err != nil {
			p.logger.Warn().Err(err).Msg("skip shared condition")
			continue
		}
		name := c.SharedName()
		if name == "" {
			name = c.Name()
			c.SetSharedName(name)
		}
		if name == "" || name == "Undefined" {
			continue
		}
		p.sharedMu.Lock()
		p.shared[name] = c
		p.sharedMu.Unlock()
	}

	var loaded []*rule.Rule
	for _, rm := range utils.GetList(m, "RULES") {
		r, err := p.CreateRule(rm)
		if err == nil {
			err = r.Validate()
		}
		if err != nil {
			p.logger.Error().Err(err).Str("rule", utils.GetString(rm, "ID", "")).Msg("skip rule")
			continue
		}
		loaded = append(loaded, r)
	}
	loaded = removeDuplicates(loaded, p.logger)

	p.mu.Lock()
	p.rules = loaded
	p.sortRules()
	p.updateConditions()
	n := len(p.rules)
	p.mu.Unlock()

	p.logger.Info().Int("rules", n).Msg("program loaded")
	p.sched.Notify(nil, false, nil)
}

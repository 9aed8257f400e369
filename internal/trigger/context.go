// Package trigger records which trigger conditions fired during one evaluation pass.
package trigger

import (
	"sync"

	"homerules/internal/condition"
)

// Context maps each condition that fired to the properties it reported
type Context struct {
	mu    sync.Mutex
	props map[condition.Condition]condition.PropertySet
}

// NewContext creates an empty context
func NewContext() *Context {
	return &Context{props: make(map[condition.Condition]condition.PropertySet)}
}

// AddCondition records a firing; a later firing of the same condition replaces the earlier one
func (c *Context) AddCondition(cond condition.Condition, props condition.PropertySet) {
	if props == nil {
		props = condition.PropertySet{}
	}
	c.mu.Lock()
	c.props[cond] = props.Clone()
	c.mu.Unlock()
}

// CheckCondition returns the recorded properties or nil when cond did not fire
func (c *Context) CheckCondition(cond condition.Condition) condition.PropertySet {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.props[cond].Clone()
}

// AddContext merges another context into this one
func (c *Context) AddContext(other *Context) {
	if other == nil || other == c {
		return
	}
	other.mu.Lock()
	snap := make(map[condition.Condition]condition.PropertySet, len(other.props))
	for k, v := range other.props {
		snap[k] = v
	}
	other.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range snap {
		c.props[k] = v.Clone()
	}
}

// Len returns the number of recorded conditions
func (c *Context) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.props)
}

// Conditions lists the conditions that fired
func (c *Context) Conditions() []condition.Condition {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rslt := make([]condition.Condition, 0, len(c.props))
	for k := range c.props {
		rslt = append(rslt, k)
	}
	return rslt
}

package condition

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"homerules/internal/device"
	"homerules/internal/utils"
)

// Operator compares a parameter value against a target
type Operator string

const (
	OpEQL Operator = "EQL"
	OpNEQ Operator = "NEQ"
	OpGTR Operator = "GTR"
	OpLSS Operator = "LSS"
	OpGEQ Operator = "GEQ"
	OpLEQ Operator = "LEQ"
)

var operatorAliases = map[string]Operator{
	"EQL": OpEQL, "=": OpEQL, "==": OpEQL,
	"NEQ": OpNEQ, "!=": OpNEQ, "<>": OpNEQ,
	"GTR": OpGTR, ">": OpGTR,
	"LSS": OpLSS, "<": OpLSS,
	"GEQ": OpGEQ, ">=": OpGEQ,
	"LEQ": OpLEQ, "<=": OpLEQ,
}

func (o Operator) symbol() string {
	switch o {
	case OpNEQ:
		return "!="
	case OpGTR:
		return ">"
	case OpLSS:
		return "<"
	case OpGEQ:
		return ">="
	case OpLEQ:
		return "<="
	}
	return "=="
}

// ParseOperator accepts either the stored name or the comparison symbol
func ParseOperator(s string) (Operator, error) {
	if s == "" {
		return OpEQL, nil
	}
	op, ok := operatorAliases[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return op, nil
}

// paramWatch keeps a device listener installed while the owning condition is started
type paramWatch struct {
	ref    *device.ParameterRef
	mu     sync.Mutex
	handle int
	dev    string
}

func (pw *paramWatch) watch(src device.Source, fn func()) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.dev != "" || src == nil {
		return
	}
	pw.dev = pw.ref.DeviceID
	pw.handle = src.AddDeviceListener(pw.dev, func(_ string, changed []string) {
		for _, c := range changed {
			if c == pw.ref.ParameterName {
				fn()
				return
			}
		}
	})
}

func (pw *paramWatch) unwatch(src device.Source) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.dev == "" {
		return
	}
	src.RemoveDeviceListener(pw.dev, pw.handle)
	pw.dev = ""
}

// bounds is the numeric set a comparison admits
type bounds struct {
	lo, hi         float64
	loOpen, hiOpen bool
}

func (b bounds) disjoint(o bounds) bool {
	if b.hi < o.lo || o.hi < b.lo {
		return true
	}
	if b.hi == o.lo && (b.hiOpen || o.loOpen) {
		return true
	}
	if o.hi == b.lo && (o.hiOpen || b.loOpen) {
		return true
	}
	return false
}

type numericBounded interface {
	paramRef() *device.ParameterRef
	numericBounds() (bounds, bool)
}

func boundsContradict(a, b numericBounded) bool {
	ra, rb := a.paramRef(), b.paramRef()
	if ra.DeviceID != rb.DeviceID || ra.ParameterName != rb.ParameterName {
		return false
	}
	ba, oka := a.numericBounds()
	bb, okb := b.numericBounds()
	return oka && okb && ba.disjoint(bb)
}

// Parameter holds when a device parameter compares true against a target state
type Parameter struct {
	base
	ref      *device.ParameterRef
	watch    paramWatch
	forState any
	op       Operator
	trigger  bool
	lastSeen *bool
}

func newParameter(env *Env, m utils.Fields) (*Parameter, error) {
	ref, err := device.ParameterRefFromFields(env.Devices, utils.GetMap(m, "PARAMREF"))
	if err != nil {
		return nil, err
	}
	op, err := ParseOperator(utils.GetString(m, "OPERATOR", ""))
	if err != nil {
		return nil, err
	}
	c := &Parameter{
		ref:      ref,
		forState: m["STATE"],
		op:       op,
		trigger:  utils.GetBool(m, "TRIGGER", false),
	}
	c.watch.ref = ref
	c.init(c, env, "Parameter", m)
	if c.name == "" {
		if c.trigger {
			c.name = fmt.Sprintf("%s->%v", ref, c.forState)
		} else {
			c.name = fmt.Sprintf("%s%s%v", ref, op.symbol(), c.forState)
		}
	}
	ref.Initialize(c.referenceValid)
	c.setValid(c.checkValid())
	return c, nil
}

func (c *Parameter) IsTrigger() bool { return c.trigger }

// IsValid resolves the device again while the condition is not started
func (c *Parameter) IsValid() bool {
	if !c.ref.Watching() {
		c.setValid(c.checkValid())
	}
	return c.base.IsValid()
}

func (c *Parameter) paramRef() *device.ParameterRef { return c.ref }

func (c *Parameter) numericBounds() (bounds, bool) {
	v, ok := utils.AsNumber(c.target())
	if !ok {
		return bounds{}, false
	}
	inf := math.Inf(1)
	switch c.op {
	case OpEQL:
		return bounds{lo: v, hi: v}, true
	case OpGTR:
		return bounds{lo: v, hi: inf, loOpen: true}, true
	case OpGEQ:
		return bounds{lo: v, hi: inf}, true
	case OpLSS:
		return bounds{lo: -inf, hi: v, hiOpen: true}, true
	case OpLEQ:
		return bounds{lo: -inf, hi: v}, true
	}
	return bounds{}, false
}

func (c *Parameter) target() any {
	if p := c.ref.Parameter(); p != nil {
		return p.Normalize(c.forState)
	}
	return c.forState
}

func (c *Parameter) checkValid() bool {
	p := c.ref.Parameter()
	if !c.ref.IsValid() || p == nil {
		return false
	}
	return p.Accepts(p.Normalize(c.forState))
}

func (c *Parameter) referenceValid(bool) {
	if !c.setValid(c.checkValid()) {
		return
	}
	c.fireValidated()
	if c.HasListeners() {
		c.StateChanged(c.env.world())
	}
}

func (c *Parameter) compute(w device.World) bool {
	cvl, _ := w.Value(c.ref.DeviceID, c.ref.ParameterName)
	return utils.Compare(cvl, c.op.symbol(), c.target())
}

func (c *Parameter) props() PropertySet {
	return PropertySet{c.ref.ParameterName: c.forState}
}

// StateChanged evaluates the comparison against the live world and fires on transitions
func (c *Parameter) StateChanged(w device.World) {
	if w == nil || !w.IsCurrent() || !c.IsValid() {
		return
	}
	if !w.IsEnabled(c.ref.DeviceID) {
		c.mu.Lock()
		c.lastSeen = nil
		c.mu.Unlock()
		if !c.trigger {
			c.fireOff()
		}
		return
	}

	rslt := c.compute(w)
	c.mu.Lock()
	if c.lastSeen != nil && *c.lastSeen == rslt {
		c.mu.Unlock()
		return
	}
	c.lastSeen = &rslt
	c.mu.Unlock()

	switch {
	case rslt && c.trigger:
		c.fireTrigger(c.props())
	case rslt:
		c.fireOn(c.props())
	case !c.trigger:
		c.fireOff()
	}
}

// CurrentStatus evaluates the comparison in w
func (c *Parameter) CurrentStatus(w device.World) (PropertySet, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("%s: %w", c.Name(), ErrInvalidCondition)
	}
	if c.trigger || !w.IsEnabled(c.ref.DeviceID) || !c.compute(w) {
		return nil, nil
	}
	return c.props(), nil
}

// Contradicts reports comparisons on the same parameter that can never hold together
func (c *Parameter) Contradicts(other Condition) bool {
	switch o := other.(type) {
	case *Parameter:
		if c.ref.DeviceID != o.ref.DeviceID || c.ref.ParameterName != o.ref.ParameterName {
			return false
		}
		same := utils.Equal(c.target(), o.target())
		switch {
		case c.op == OpEQL && o.op == OpEQL && !same:
			return true
		case c.op == OpNEQ && o.op == OpEQL && same:
			return true
		case c.op == OpEQL && o.op == OpNEQ && same:
			return true
		}
		return boundsContradict(c, o)
	case *Range:
		return boundsContradict(c, o)
	}
	return false
}

func (c *Parameter) start() {
	c.ref.Watch()
	if c.setValid(c.checkValid()) {
		c.fireValidated()
	}
	c.watch.watch(c.env.Devices, func() { c.StateChanged(c.env.world()) })
	c.StateChanged(c.env.world())
}

func (c *Parameter) stop() {
	c.ref.Close()
	c.watch.unwatch(c.env.Devices)
	c.mu.Lock()
	c.lastSeen = nil
	c.mu.Unlock()
}

func (c *Parameter) Encode() utils.Fields {
	rslt := c.encodeBase()
	rslt["PARAMREF"] = c.ref.Encode()
	if c.forState != nil {
		rslt["STATE"] = fmt.Sprint(c.forState)
	}
	rslt["OPERATOR"] = string(c.op)
	rslt["TRIGGER"] = c.trigger
	return rslt
}

// Range holds while a numeric parameter lies within optional low and high bounds
type Range struct {
	base
	ref      *device.ParameterRef
	watch    paramWatch
	low      *float64
	high     *float64
	trigger  bool
	lastSeen *bool
}

func newRange(env *Env, m utils.Fields) (*Range, error) {
	ref, err := device.ParameterRefFromFields(env.Devices, utils.GetMap(m, "PARAMREF"))
	if err != nil {
		return nil, err
	}
	c := &Range{
		ref:     ref,
		low:     utils.GetOptionalFloat(m, "LOW"),
		high:    utils.GetOptionalFloat(m, "HIGH"),
		trigger: utils.GetBool(m, "TRIGGER", false),
	}
	if c.low != nil && c.high != nil && *c.low > *c.high {
		return nil, fmt.Errorf("range low %v above high %v", *c.low, *c.high)
	}
	c.watch.ref = ref
	c.init(c, env, "Range", m)
	if c.name == "" {
		c.name = fmt.Sprintf("%s in [%s,%s]", ref, fmtBound(c.low), fmtBound(c.high))
	}
	ref.Initialize(c.referenceValid)
	c.setValid(ref.IsValid())
	return c, nil
}

func fmtBound(v *float64) string {
	if v == nil {
		return "*"
	}
	return fmt.Sprint(*v)
}

func (c *Range) IsTrigger() bool { return c.trigger }

func (c *Range) IsValid() bool {
	if !c.ref.Watching() {
		c.setValid(c.ref.IsValid())
	}
	return c.base.IsValid()
}

func (c *Range) paramRef() *device.ParameterRef { return c.ref }

func (c *Range) numericBounds() (bounds, bool) {
	b := bounds{lo: math.Inf(-1), hi: math.Inf(1)}
	if c.low != nil {
		b.lo = *c.low
	}
	if c.high != nil {
		b.hi = *c.high
	}
	return b, true
}

func (c *Range) referenceValid(valid bool) {
	if !c.setValid(valid) {
		return
	}
	c.fireValidated()
	if c.HasListeners() {
		c.StateChanged(c.env.world())
	}
}

func (c *Range) compute(w device.World) (bool, any) {
	cvl, _ := w.Value(c.ref.DeviceID, c.ref.ParameterName)
	v, ok := utils.AsNumber(cvl)
	if !ok {
		return false, cvl
	}
	if c.low != nil && v < *c.low {
		return false, cvl
	}
	if c.high != nil && v > *c.high {
		return false, cvl
	}
	return true, cvl
}

func (c *Range) props(val any) PropertySet {
	return PropertySet{c.ref.ParameterName: fmt.Sprint(val)}
}

// StateChanged fires on and off for level ranges and trigger on every transition after the first
func (c *Range) StateChanged(w device.World) {
	if w == nil || !w.IsCurrent() || !c.IsValid() {
		return
	}
	if !w.IsEnabled(c.ref.DeviceID) {
		c.mu.Lock()
		c.lastSeen = nil
		c.mu.Unlock()
		if !c.trigger {
			c.fireOff()
		}
		return
	}

	rslt, val := c.compute(w)
	c.mu.Lock()
	if c.lastSeen == nil && c.trigger {
		c.lastSeen = &rslt
		c.mu.Unlock()
		return
	}
	if c.lastSeen != nil && *c.lastSeen == rslt {
		c.mu.Unlock()
		return
	}
	c.lastSeen = &rslt
	c.mu.Unlock()

	switch {
	case c.trigger:
		c.fireTrigger(c.props(val))
	case rslt:
		c.fireOn(c.props(val))
	default:
		c.fireOff()
	}
}

// CurrentStatus evaluates the range in w
func (c *Range) CurrentStatus(w device.World) (PropertySet, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("%s: %w", c.Name(), ErrInvalidCondition)
	}
	if c.trigger || !w.IsEnabled(c.ref.DeviceID) {
		return nil, nil
	}
	ok, val := c.compute(w)
	if !ok {
		return nil, nil
	}
	return c.props(val), nil
}

// Contradicts reports disjoint numeric constraints on the same parameter
func (c *Range) Contradicts(other Condition) bool {
	switch o := other.(type) {
	case *Range:
		return boundsContradict(c, o)
	case *Parameter:
		return boundsContradict(c, o)
	}
	return false
}

func (c *Range) start() {
	c.ref.Watch()
	if c.setValid(c.ref.IsValid()) {
		c.fireValidated()
	}
	c.watch.watch(c.env.Devices, func() { c.StateChanged(c.env.world()) })
	c.StateChanged(c.env.world())
}

func (c *Range) stop() {
	c.ref.Close()
	c.watch.unwatch(c.env.Devices)
	c.mu.Lock()
	c.lastSeen = nil
	c.mu.Unlock()
}

func (c *Range) Encode() utils.Fields {
	rslt := c.encodeBase()
	rslt["PARAMREF"] = c.ref.Encode()
	if c.low != nil {
		rslt["LOW"] = *c.low
	}
	if c.high != nil {
		rslt["HIGH"] = *c.high
	}
	rslt["TRIGGER"] = c.trigger
	return rslt
}

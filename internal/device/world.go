package device

import "time"

// World is a view of device values at a point in time, either the live one or a hypothetical one
type World interface {
	IsCurrent() bool
	Time() time.Time
	Value(deviceID, parameter string) (any, bool)
	IsEnabled(deviceID string) bool
}

type currentWorld struct {
	reg *Registry
}

func (w currentWorld) IsCurrent() bool { return true }

func (w currentWorld) Time() time.Time { return w.reg.Now() }

func (w currentWorld) Value(deviceID, parameter string) (any, bool) {
	return w.reg.Value(deviceID, parameter)
}

func (w currentWorld) IsEnabled(deviceID string) bool {
	return w.reg.IsEnabled(deviceID)
}

type hypotheticalWorld struct {
	base      World
	at        time.Time
	overrides map[string]map[string]any
}

// NewHypotheticalWorld layers parameter overrides and a fixed time over a base world
func NewHypotheticalWorld(base World, at time.Time, overrides map[string]map[string]any) World {
	return &hypotheticalWorld{base: base, at: at, overrides: overrides}
}

func (w *hypotheticalWorld) IsCurrent() bool { return false }

func (w *hypotheticalWorld) Time() time.Time { return w.at }

func (w *hypotheticalWorld) Value(deviceID, parameter string) (any, bool) {
	if vals, ok := w.overrides[deviceID]; ok {
		if v, ok := vals[parameter]; ok {
			return v, true
		}
	}
	return w.base.Value(deviceID, parameter)
}

func (w *hypotheticalWorld) IsEnabled(deviceID string) bool {
	return w.base.IsEnabled(deviceID)
}

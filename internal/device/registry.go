package device

import (
	"sort"
	"sync"
	"time"

	"homerules/internal/utils"

	"github.com/rs/zerolog"
)

// Listener is told which parameters of a device changed
type Listener func(deviceID string, changed []string)

// PresenceListener is told when a device appears in or disappears from the registry
type PresenceListener func(deviceID string, present bool)

// Source is the device capability conditions and actions depend on
type Source interface {
	FindDevice(id string) *Device
	CurrentWorld() World
	AddDeviceListener(deviceID string, l Listener) int
	RemoveDeviceListener(deviceID string, handle int)
	AddPresenceListener(l PresenceListener) int
	RemovePresenceListener(handle int)
}

// Registry holds the known devices and their last reported values
type Registry struct {
	mu        sync.RWMutex
	devices   map[string]*Device
	values    map[string]map[string]any
	listeners map[string]map[int]Listener
	presence  map[int]PresenceListener
	nextID    int
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		devices:   make(map[string]*Device),
		values:    make(map[string]map[string]any),
		listeners: make(map[string]map[int]Listener),
		presence:  make(map[int]PresenceListener),
		now:       time.Now,
		logger:    utils.Component("DEVICE"),
	}
}

// SetClock replaces the registry's time source
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Now returns the registry's notion of the current time
func (r *Registry) Now() time.Time {
	r.mu.RLock()
	now := r.now
	r.mu.RUnlock()
	return now()
}

// CurrentWorld returns the live world backed by this registry
func (r *Registry) CurrentWorld() World {
	return currentWorld{reg: r}
}

// AddDevice registers or replaces a device definition
func (r *Registry) AddDevice(d *Device) {
	r.mu.Lock()
	_, existed := r.devices[d.ID]
	r.devices[d.ID] = d
	if _, ok := r.values[d.ID]; !ok {
		r.values[d.ID] = make(map[string]any)
	}
	pls := r.presenceSnapshot()
	r.mu.Unlock()

	r.logger.Debug().Str("device", d.ID).Bool("replaced", existed).Msg("device registered")
	for _, l := range pls {
		l(d.ID, true)
	}
	r.notify(d.ID, r.parameterNames(d))
}

// RemoveDevice drops a device and its values
func (r *Registry) RemoveDevice(id string) {
	r.mu.Lock()
	if _, ok := r.devices[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.devices, id)
	delete(r.values, id)
	pls := r.presenceSnapshot()
	r.mu.Unlock()

	r.logger.Debug().Str("device", id).Msg("device removed")
	for _, l := range pls {
		l(id, false)
	}
}

// FindDevice looks a device up by id
func (r *Registry) FindDevice(id string) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[id]
}

// Devices returns all devices ordered by id
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	rslt := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		rslt = append(rslt, d)
	}
	r.mu.RUnlock()
	sort.Slice(rslt, func(i, j int) bool { return rslt[i].ID < rslt[j].ID })
	return rslt
}

// IsEnabled reports whether a device is known and enabled
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return ok && d.Enabled
}

// SetEnabled enables or disables a device and notifies its listeners
func (r *Registry) SetEnabled(id string, enabled bool) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok || d.Enabled == enabled {
		r.mu.Unlock()
		return
	}
	d.Enabled = enabled
	r.mu.Unlock()
	r.notify(id, r.parameterNames(d))
}

// UpdateState merges a reported state into the device's values and returns the parameters that changed
func (r *Registry) UpdateState(id string, state map[string]any) []string {
	changed, known := r.mergeState(id, state)
	if !known {
		r.logger.Debug().Str("device", id).Msg("state for unknown device ignored")
		return nil
	}
	if len(changed) > 0 {
		sort.Strings(changed)
		r.notify(id, changed)
	}
	return changed
}

func (r *Registry) mergeState(id string, state map[string]any) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	vals := r.values[id]
	var changed []string
	for k, v := range state {
		if p := d.Parameter(k); p != nil {
			v = p.Normalize(v)
		}
		if old, ok := vals[k]; ok && utils.Equal(old, v) {
			continue
		}
		vals[k] = v
		changed = append(changed, k)
	}
	return changed, true
}

// Value returns a parameter's last reported value
func (r *Registry) Value(id, parameter string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vals, ok := r.values[id]
	if !ok {
		return nil, false
	}
	v, ok := vals[parameter]
	return v, ok
}

// State returns a copy of a device's values
func (r *Registry) State(id string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rslt := make(map[string]any, len(r.values[id]))
	for k, v := range r.values[id] {
		rslt[k] = v
	}
	return rslt
}

// AddDeviceListener registers a callback for value changes of one device
func (r *Registry) AddDeviceListener(deviceID string, l Listener) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	if r.listeners[deviceID] == nil {
		r.listeners[deviceID] = make(map[int]Listener)
	}
	r.listeners[deviceID][r.nextID] = l
	return r.nextID
}

// RemoveDeviceListener removes a callback added with AddDeviceListener
func (r *Registry) RemoveDeviceListener(deviceID string, handle int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners[deviceID], handle)
	if len(r.listeners[deviceID]) == 0 {
		delete(r.listeners, deviceID)
	}
}

// AddPresenceListener registers a callback for device additions and removals
func (r *Registry) AddPresenceListener(l PresenceListener) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.presence[r.nextID] = l
	return r.nextID
}

// RemovePresenceListener removes a callback added with AddPresenceListener
func (r *Registry) RemovePresenceListener(handle int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.presence, handle)
}

func (r *Registry) presenceSnapshot() []PresenceListener {
	rslt := make([]PresenceListener, 0, len(r.presence))
	for _, l := range r.presence {
		rslt = append(rslt, l)
	}
	return rslt
}

func (r *Registry) parameterNames(d *Device) []string {
	names := make([]string, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		names = append(names, p.Name)
	}
	return names
}

// notify runs listeners outside the registry lock
func (r *Registry) notify(id string, changed []string) {
	r.mu.RLock()
	ls := make([]Listener, 0, len(r.listeners[id]))
	for _, l := range r.listeners[id] {
		ls = append(ls, l)
	}
	r.mu.RUnlock()
	for _, l := range ls {
		l(id, changed)
	}
}

package device

import (
	"fmt"
	"sync"

	"homerules/internal/utils"
)

// ParameterRef names a device parameter and tracks whether it currently resolves
type ParameterRef struct {
	DeviceID      string
	ParameterName string

	src     Source
	mu      sync.Mutex
	valid   bool
	handle  int
	watched bool
	onValid func(bool)
}

// NewParameterRef creates an unresolved reference
func NewParameterRef(src Source, deviceID, parameter string) *ParameterRef {
	return &ParameterRef{src: src, DeviceID: deviceID, ParameterName: parameter}
}

// ParameterRefFromFields decodes a PARAMREF encoding
func ParameterRefFromFields(src Source, m utils.Fields) (*ParameterRef, error) {
	if m == nil {
		return nil, fmt.Errorf("missing parameter reference")
	}
	dev := utils.GetString(m, "DEVICE", "")
	param := utils.GetString(m, "PARAMETER", "")
	if dev == "" || param == "" {
		return nil, fmt.Errorf("parameter reference needs DEVICE and PARAMETER")
	}
	return NewParameterRef(src, dev, param), nil
}

// Encode returns the PARAMREF encoding
func (p *ParameterRef) Encode() utils.Fields {
	return utils.Fields{"DEVICE": p.DeviceID, "PARAMETER": p.ParameterName}
}

// Initialize resolves the reference and remembers onValid for validity flips seen while watching
func (p *ParameterRef) Initialize(onValid func(bool)) {
	p.mu.Lock()
	p.onValid = onValid
	p.valid = p.resolve()
	p.mu.Unlock()
}

// Watch follows device additions and removals until Close
func (p *ParameterRef) Watch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.valid = p.resolve()
	if p.watched || p.src == nil {
		return
	}
	p.watched = true
	p.handle = p.src.AddPresenceListener(p.presenceChanged)
}

// Close stops watching the registry
func (p *ParameterRef) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watched {
		p.src.RemovePresenceListener(p.handle)
		p.watched = false
	}
}

// Watching reports whether the registry is being watched
func (p *ParameterRef) Watching() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watched
}

// IsValid reports whether the device and parameter both exist; it re-resolves when not watching
func (p *ParameterRef) IsValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.watched {
		p.valid = p.resolve()
	}
	return p.valid
}

// Device returns the referenced device or nil
func (p *ParameterRef) Device() *Device {
	if p.src == nil {
		return nil
	}
	return p.src.FindDevice(p.DeviceID)
}

// Parameter returns the referenced parameter or nil
func (p *ParameterRef) Parameter() *Parameter {
	d := p.Device()
	if d == nil {
		return nil
	}
	return d.Parameter(p.ParameterName)
}

func (p *ParameterRef) String() string {
	return p.DeviceID + "." + p.ParameterName
}

func (p *ParameterRef) resolve() bool {
	if p.src == nil {
		return false
	}
	d := p.src.FindDevice(p.DeviceID)
	return d != nil && d.Parameter(p.ParameterName) != nil
}

func (p *ParameterRef) presenceChanged(deviceID string, _ bool) {
	if deviceID != p.DeviceID {
		return
	}
	p.mu.Lock()
	valid := p.resolve()
	changed := valid != p.valid
	p.valid = valid
	cb := p.onValid
	p.mu.Unlock()
	if changed && cb != nil {
		cb(valid)
	}
}

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"homerules/internal/device"
)

// Device is a device definition as stored in the devices table
type Device struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Enabled    bool            `json:"enabled"`
	Parameters json.RawMessage `json:"parameters"`
	State      json.RawMessage `json:"state"`
}

// ToDevice converts the stored definition into the registry model
func (d Device) ToDevice() (*device.Device, error) {
	dev := &device.Device{ID: d.ID, Name: d.Name, Enabled: d.Enabled}
	if len(d.Parameters) > 0 {
		if err := json.Unmarshal(d.Parameters, &dev.Parameters); err != nil {
			return nil, fmt.Errorf("device %s parameters: %w", d.ID, err)
		}
	}
	return dev, nil
}

// InitialState decodes the last persisted state, which may be empty
func (d Device) InitialState() (map[string]any, error) {
	if len(d.State) == 0 || string(d.State) == "null" {
		return nil, nil
	}
	var state map[string]any
	if err := json.Unmarshal(d.State, &state); err != nil {
		return nil, fmt.Errorf("device %s state: %w", d.ID, err)
	}
	return state, nil
}

// DeviceStateHistory records the values a rule sent to a device
type DeviceStateHistory struct {
	ID        int64           `json:"id"`
	RuleID    string          `json:"rule_id"`
	DeviceID  string          `json:"device_id"`
	Timestamp time.Time       `json:"timestamp"`
	State     json.RawMessage `json:"state"`
}

package device

// Device is the normalized view of a physical or virtual device
type Device struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Enabled    bool         `json:"enabled"`
	Parameters []*Parameter `json:"parameters"`
}

// Parameter finds a parameter by name
func (d *Device) Parameter(name string) *Parameter {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Label returns the display name of the device, falling back to its id
func (d *Device) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

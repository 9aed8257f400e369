package device

import (
	"slices"
	"strings"

	"github.com/spf13/cast"
)

// ParameterType describes how a parameter's values are normalized
type ParameterType string

const (
	TypeBoolean ParameterType = "BOOLEAN"
	TypeInteger ParameterType = "INTEGER"
	TypeReal    ParameterType = "REAL"
	TypeString  ParameterType = "STRING"
	TypeEnum    ParameterType = "ENUM"
)

// Parameter is one named, typed value exposed by a device
type Parameter struct {
	Name   string        `json:"name"`
	Type   ParameterType `json:"type"`
	Values []string      `json:"values,omitempty"`
	Min    *float64      `json:"min,omitempty"`
	Max    *float64      `json:"max,omitempty"`
}

// Normalize converts a raw value into the parameter's canonical representation.
// Values that cannot be converted are returned unchanged.
func (p *Parameter) Normalize(v any) any {
	if v == nil {
		return nil
	}
	switch p.Type {
	case TypeBoolean:
		if s, ok := v.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "on", "true", "yes", "1":
				return true
			case "off", "false", "no", "0":
				return false
			}
			return v
		}
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	case TypeInteger:
		if n, err := cast.ToInt64E(v); err == nil {
			return n
		}
		if f, err := cast.ToFloat64E(v); err == nil {
			return int64(f)
		}
	case TypeReal:
		if f, err := cast.ToFloat64E(v); err == nil {
			return f
		}
	case TypeString, TypeEnum:
		if s, err := cast.ToStringE(v); err == nil {
			return s
		}
	}
	return v
}

// Accepts reports whether a normalized value is legal for this parameter
func (p *Parameter) Accepts(v any) bool {
	if p.Type != TypeEnum {
		return true
	}
	s, ok := v.(string)
	return ok && slices.Contains(p.Values, s)
}

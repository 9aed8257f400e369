package rule

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"homerules/internal/condition"
	"homerules/internal/device"
	"homerules/internal/utils"

	"github.com/google/uuid"
)

var (
	ErrInvalidRule  = errors.New("invalid rule")
	ErrActionFailed = errors.New("action failed")
)

// ActionError records which action of a rule failed
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Is matches ErrActionFailed
func (e *ActionError) Is(target error) bool { return target == ErrActionFailed }

// Action is one step a rule performs when it fires
type Action interface {
	ID() string
	Label() string
	DeviceID() string
	IsValid() bool
	IsTrigger() bool
	Perform(ctx context.Context, props condition.PropertySet) error
	Encode() utils.Fields
}

// Commander delivers a set of parameter values to a device
type Commander interface {
	SendCommand(ctx context.Context, deviceID string, values map[string]any) error
}

// ActionEnv is what actions need to resolve and reach devices
type ActionEnv struct {
	Devices   device.Source
	Commander Commander
}

// CreateAction decodes an action from its field map
func CreateAction(env *ActionEnv, m utils.Fields) (Action, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: empty action", ErrInvalidRule)
	}
	switch typ := utils.GetString(m, "TYPE", "Device"); typ {
	case "Device":
		return newDeviceAction(env, m)
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidRule, typ)
	}
}

var substitution = regexp.MustCompile(`\$\(([A-Za-z0-9_.]+)\)`)

// DeviceAction sends parameter values to a device
type DeviceAction struct {
	id       string
	label    string
	deviceID string
	values   map[string]any
	trigger  bool
	env      *ActionEnv
}

func newDeviceAction(env *ActionEnv, m utils.Fields) (*DeviceAction, error) {
	if env == nil {
		env = &ActionEnv{}
	}
	a := &DeviceAction{
		id:       utils.GetString(m, "ID", ""),
		label:    utils.GetString(m, "LABEL", ""),
		deviceID: utils.GetString(m, "DEVICE", ""),
		values:   utils.GetMap(m, "VALUES"),
		trigger:  utils.GetBool(m, "TRIGGER", false),
		env:      env,
	}
	if a.deviceID == "" {
		return nil, fmt.Errorf("%w: action needs DEVICE", ErrInvalidRule)
	}
	if len(a.values) == 0 {
		return nil, fmt.Errorf("%w: action needs VALUES", ErrInvalidRule)
	}
	if a.id == "" {
		a.id = "ACT_" + uuid.NewString()
	}
	if a.label == "" {
		a.label = fmt.Sprintf("Set %s", a.deviceID)
	}
	return a, nil
}

func (a *DeviceAction) ID() string       { return a.id }
func (a *DeviceAction) Label() string    { return a.label }
func (a *DeviceAction) DeviceID() string { return a.deviceID }
func (a *DeviceAction) IsTrigger() bool  { return a.trigger }

// IsValid reports whether the target device is known and enabled
func (a *DeviceAction) IsValid() bool {
	if a.env.Devices == nil {
		return false
	}
	return a.env.Devices.CurrentWorld().IsEnabled(a.deviceID)
}

// Values returns the parameter values with $(NAME) references filled from props
func (a *DeviceAction) Values(props condition.PropertySet) map[string]any {
	rslt := make(map[string]any, len(a.values))
	for k, v := range a.values {
		s, ok := v.(string)
		if !ok {
			rslt[k] = v
			continue
		}
		if m := substitution.FindStringSubmatch(s); m != nil && m[0] == s {
			if pv, ok := props[m[1]]; ok {
				rslt[k] = pv
				continue
			}
		}
		rslt[k] = substitution.ReplaceAllStringFunc(s, func(ref string) string {
			name := substitution.FindStringSubmatch(ref)[1]
			if pv, ok := props[name]; ok {
				return fmt.Sprint(pv)
			}
			return ref
		})
	}
	return rslt
}

// Perform sends the values through the commander
func (a *DeviceAction) Perform(ctx context.Context, props condition.PropertySet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.IsValid() {
		return fmt.Errorf("device %s is unknown or disabled", a.deviceID)
	}
	if a.env.Commander == nil {
		return fmt.Errorf("no commander configured")
	}
	return a.env.Commander.SendCommand(ctx, a.deviceID, a.Values(props))
}

func (a *DeviceAction) Encode() utils.Fields {
	return utils.Fields{
		"TYPE":    "Device",
		"ID":      a.id,
		"LABEL":   a.label,
		"DEVICE":  a.deviceID,
		"VALUES":  a.values,
		"TRIGGER": a.trigger,
	}
}

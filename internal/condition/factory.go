package condition

import (
	"fmt"

	"homerules/internal/utils"
)

// Create decodes a condition from its field map, keyed by TYPE
func Create(env *Env, m utils.Fields) (Condition, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: empty encoding", ErrInvalidCondition)
	}
	if env == nil {
		env = &Env{}
	}
	typ := utils.GetString(m, "TYPE", "")

	var (
		c   Condition
		err error
	)
	switch typ {
	case "Always":
		c = newAlways(env, m)
	case "Parameter":
		c, err = newParameter(env, m)
	case "Range":
		c, err = newRange(env, m)
	case "Reference":
		c, err = newReference(env, m)
	case "CalendarEvent":
		c, err = newCalendarEvent(env, m)
	case "Duration":
		c, err = newDuration(env, m)
	case "Latch":
		c, err = newLatch(env, m)
	case "Debounce":
		c, err = newDebounce(env, m)
	case "Time", "Timer":
		c, err = newTime(env, typ, m)
	case "TriggerTime", "TriggerTimer":
		c, err = newTriggerTime(env, typ, m)
	case "Disabled":
		c = newDisabled(env, m)
	case "Or":
		c, err = newOr(env, m)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, typ)
	}
	// constructors return typed nil pointers on error, so c is discarded here
	if err != nil {
		return nil, fmt.Errorf("%s condition: %w: %w", typ, ErrInvalidCondition, err)
	}
	return c, nil
}

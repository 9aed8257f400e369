package condition

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homerules/internal/device"
	"homerules/internal/utils"
)

func rangeFields(trigger bool) utils.Fields {
	return utils.Fields{
		"TYPE":     "Range",
		"PARAMREF": ref("thermo", "temp"),
		"LOW":      10,
		"HIGH":     20,
		"TRIGGER":  trigger,
	}
}

func TestRangeSequence(t *testing.T) {
	tests := []struct {
		name    string
		trigger bool
		want    []EventKind
	}{
		{name: "level", trigger: false, want: []EventKind{EventOn, EventOff}},
		{name: "trigger", trigger: true, want: []EventKind{EventTrigger, EventTrigger}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			c, err := Create(f.env, rangeFields(tt.trigger))
			require.NoError(t, err)
			require.True(t, c.IsValid())
			assert.Equal(t, tt.trigger, c.IsTrigger())

			rec := &recorder{}
			c.AddListener(rec.listen)
			for _, v := range []float64{5, 15, 25} {
				f.reg.UpdateState("thermo", map[string]any{"temp": v})
			}
			assert.Equal(t, tt.want, rec.kinds())
		})
	}
}

func TestRangeInvalidWhenDeviceMissing(t *testing.T) {
	f := newFixture()
	m := rangeFields(false)
	m["PARAMREF"] = ref("ghost", "temp")
	c, err := Create(f.env, m)
	require.NoError(t, err)
	assert.False(t, c.IsValid())

	_, err = c.CurrentStatus(f.reg.CurrentWorld())
	assert.ErrorIs(t, err, ErrInvalidCondition)

	rec := &recorder{}
	c.AddListener(rec.listen)
	f.reg.AddDevice(&device.Device{ID: "ghost", Enabled: true, Parameters: []*device.Parameter{{Name: "temp", Type: device.TypeReal}}})
	assert.True(t, c.IsValid())
	assert.Equal(t, []EventKind{EventValidated}, rec.kinds())
}

func TestParameterOperators(t *testing.T) {
	tests := []struct {
		op    string
		state any
		value float64
		want  bool
	}{
		{"EQL", 20, 20, true},
		{"=", "20", 20, true},
		{"NEQ", 20, 21, true},
		{"!=", 20, 20, false},
		{"GTR", 20, 21, true},
		{">", 20, 20, false},
		{"GEQ", 20, 20, true},
		{"LSS", 20, 19.5, true},
		{"<=", 20, 20.5, false},
	}
	f := newFixture()
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			c, err := Create(f.env, utils.Fields{
				"TYPE":     "Parameter",
				"PARAMREF": ref("thermo", "temp"),
				"STATE":    tt.state,
				"OPERATOR": tt.op,
			})
			require.NoError(t, err)
			w := device.NewHypotheticalWorld(f.reg.CurrentWorld(), monday9, map[string]map[string]any{
				"thermo": {"temp": tt.value},
			})
			ps, err := c.CurrentStatus(w)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ps != nil)
		})
	}

	_, err := Create(f.env, utils.Fields{"TYPE": "Parameter", "PARAMREF": ref("thermo", "temp"), "OPERATOR": "~"})
	assert.ErrorIs(t, err, ErrInvalidCondition)
}

func TestParameterStringOnlyEquality(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{
		"TYPE": "Parameter", "PARAMREF": ref("thermo", "mode"), "STATE": "heat", "OPERATOR": ">",
	})
	require.NoError(t, err)
	f.reg.UpdateState("thermo", map[string]any{"mode": "heat"})
	ps, err := c.CurrentStatus(f.reg.CurrentWorld())
	require.NoError(t, err)
	assert.Nil(t, ps)
}

func TestParameterEnumTargetMustBeLegal(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{"TYPE": "Parameter", "PARAMREF": ref("thermo", "mode"), "STATE": "boil"})
	require.NoError(t, err)
	assert.False(t, c.IsValid())

	c, err = Create(f.env, utils.Fields{"TYPE": "Parameter", "PARAMREF": ref("thermo", "mode"), "STATE": "cool"})
	require.NoError(t, err)
	assert.True(t, c.IsValid())
}

func TestParameterLevelAndTrigger(t *testing.T) {
	f := newFixture()
	level, err := Create(f.env, doorOpen(false))
	require.NoError(t, err)
	trig, err := Create(f.env, doorOpen(true))
	require.NoError(t, err)

	lrec, trec := &recorder{}, &recorder{}
	level.AddListener(lrec.listen)
	trig.AddListener(trec.listen)

	f.reg.UpdateState("door", map[string]any{"open": "on"})
	f.reg.UpdateState("door", map[string]any{"open": "off"})
	f.reg.UpdateState("door", map[string]any{"open": "on"})

	assert.Equal(t, []EventKind{EventOn, EventOff, EventOn}, lrec.kinds())
	assert.Equal(t, []EventKind{EventTrigger, EventTrigger}, trec.kinds())
	assert.Equal(t, PropertySet{"open": "on"}, lrec.events[0].Props)

	f.reg.SetEnabled("door", false)
	assert.Equal(t, EventOff, lrec.kinds()[3])
}

func TestParameterContradicts(t *testing.T) {
	f := newFixture()
	mk := func(op string, state any) Condition {
		c, err := Create(f.env, utils.Fields{"TYPE": "Parameter", "PARAMREF": ref("thermo", "temp"), "STATE": state, "OPERATOR": op})
		require.NoError(t, err)
		return c
	}
	rng, err := Create(f.env, rangeFields(false))
	require.NoError(t, err)

	assert.True(t, mk("EQL", 20).Contradicts(mk("EQL", 21)))
	assert.False(t, mk("EQL", 20).Contradicts(mk("EQL", 20)))
	assert.True(t, mk("NEQ", 20).Contradicts(mk("EQL", 20)))
	assert.True(t, mk("EQL", 20).Contradicts(mk("NEQ", 20)))
	assert.True(t, mk("GTR", 20).Contradicts(mk("LSS", 20)))
	assert.False(t, mk("GEQ", 20).Contradicts(mk("LEQ", 20)))
	assert.True(t, mk("GTR", 20).Contradicts(rng))
	assert.True(t, rng.Contradicts(mk("LSS", 10)))
	assert.False(t, rng.Contradicts(mk("LEQ", 10)))

	door, err := Create(f.env, doorOpen(false))
	require.NoError(t, err)
	assert.False(t, mk("EQL", 20).Contradicts(door))
}

func TestHypotheticalWorldLeavesCachedStateAlone(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, rangeFields(false))
	require.NoError(t, err)
	rec := &recorder{}
	c.AddListener(rec.listen)
	f.reg.UpdateState("thermo", map[string]any{"temp": 5})

	w := device.NewHypotheticalWorld(f.reg.CurrentWorld(), monday9, map[string]map[string]any{"thermo": {"temp": 15}})
	c.StateChanged(w)
	assert.Empty(t, rec.kinds())

	ps, err := c.CurrentStatus(w)
	require.NoError(t, err)
	assert.Equal(t, PropertySet{"temp": "15"}, ps)

	ps, err = c.CurrentStatus(f.reg.CurrentWorld())
	require.NoError(t, err)
	assert.Nil(t, ps)
}

func TestAlways(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{"TYPE": "Always"})
	require.NoError(t, err)
	assert.True(t, c.IsValid())

	ps, err := c.CurrentStatus(f.reg.CurrentWorld())
	require.NoError(t, err)
	assert.NotNil(t, ps)

	now := time.Now()
	from, to := now.Add(-24*time.Hour), now.AddDate(1, 0, 0)
	slots := c.TimeSlotEvent().Slots(from, to)
	require.Len(t, slots, 1)
	assert.True(t, slots[0].Start.Equal(from))
	assert.True(t, slots[0].End.Equal(to))

	used := Set{}
	c.AddUsedConditions(used)
	assert.Empty(t, used)
}

func TestAddUsedConditionsWalksSubconditions(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{
		"TYPE": "Or",
		"CONDITIONS": []utils.Fields{
			doorOpen(false),
			{"TYPE": "Always"},
		},
	})
	require.NoError(t, err)
	used := Set{}
	c.AddUsedConditions(used)
	assert.Len(t, used, 2)
	assert.True(t, used[c])
	assert.Len(t, Closure(c), 3)
}

func TestReferenceInstallsListenerLazily(t *testing.T) {
	f := newFixture()
	shared, err := Create(f.env, rangeFields(false))
	require.NoError(t, err)
	shared.SetSharedName("COMFORT")
	f.env.Shared = func(name string) Condition {
		if name == "COMFORT" {
			return shared
		}
		return nil
	}

	r, err := Create(f.env, utils.Fields{"TYPE": "Reference", "SHAREDNAME": "COMFORT"})
	require.NoError(t, err)
	assert.False(t, shared.HasListeners())
	assert.Equal(t, []Condition{shared}, r.Subconditions())
	assert.Equal(t, "COMFORT", r.SharedName())
	assert.Equal(t, utils.Fields{"TYPE": "Reference", "ID": r.ID(), "NAME": "COMFORT", "SHAREDNAME": "COMFORT"}, r.Encode())

	rec := &recorder{}
	h1 := r.AddListener(rec.listen)
	h2 := r.AddListener(func(Event) {})
	assert.True(t, shared.HasListeners())

	f.reg.UpdateState("thermo", map[string]any{"temp": 15})
	require.Equal(t, []EventKind{EventOn}, rec.kinds())
	assert.Same(t, r, rec.events[0].Source)

	r.RemoveListener(h1)
	assert.True(t, shared.HasListeners())
	r.RemoveListener(h2)
	assert.False(t, shared.HasListeners())
}

func TestReferenceInlinesUnsharedCondition(t *testing.T) {
	f := newFixture()
	r, err := Create(f.env, utils.Fields{"TYPE": "Reference", "SHAREDNAME": "GONE", "CONDITION": rangeFields(false)})
	require.NoError(t, err)
	assert.Equal(t, "Range", r.Subconditions()[0].Type())
	assert.NotNil(t, r.Encode()["CONDITION"])

	_, err = Create(f.env, utils.Fields{"TYPE": "Reference", "SHAREDNAME": "GONE"})
	assert.ErrorIs(t, err, ErrInvalidCondition)
}

func TestCreateUnknownType(t *testing.T) {
	for _, typ := range []string{"UNDEFINED", "Bogus", ""} {
		c, err := Create(nil, utils.Fields{"TYPE": typ})
		assert.Nil(t, c)
		assert.True(t, errors.Is(err, ErrUnknownType))
	}
	c, err := Create(nil, nil)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrInvalidCondition)
}

func TestEncodeRecreates(t *testing.T) {
	f := newFixture()
	for _, m := range []utils.Fields{
		rangeFields(true),
		doorOpen(false),
		{"TYPE": "Debounce", "CONDITION": doorOpen(false), "ONTIME": 1000, "OFFTIME": 500},
		{"TYPE": "TriggerTime", "TIME": "07:30", "DAYS": "MON"},
		{"TYPE": "Disabled", "CONDITION": doorOpen(false)},
	} {
		c, err := Create(f.env, m)
		require.NoError(t, err)
		again, err := Create(f.env, c.Encode())
		require.NoError(t, err)
		assert.Equal(t, c.Type(), again.Type())
		assert.Equal(t, c.Name(), again.Name())
		assert.Equal(t, c.Encode(), again.Encode())
	}
}

func TestParameterWithoutStateRoundTrips(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{"TYPE": "Parameter", "PARAMREF": ref("thermo", "temp"), "OPERATOR": "NEQ"})
	require.NoError(t, err)
	enc := c.Encode()
	assert.NotContains(t, enc, "STATE")

	again, err := Create(f.env, enc)
	require.NoError(t, err)
	assert.Equal(t, enc, again.Encode())
}

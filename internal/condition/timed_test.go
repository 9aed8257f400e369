package condition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homerules/internal/utils"
)

func TestDebounce(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{"TYPE": "Debounce", "CONDITION": doorOpen(false), "ONTIME": 1000, "OFFTIME": 2000})
	require.NoError(t, err)
	rec := &recorder{}
	c.AddListener(rec.listen)

	f.reg.UpdateState("door", map[string]any{"open": true})
	f.clock.Advance(500 * time.Millisecond)
	f.reg.UpdateState("door", map[string]any{"open": false})
	f.clock.Advance(2 * time.Second)
	assert.Empty(t, rec.kinds())

	f.reg.UpdateState("door", map[string]any{"open": true})
	f.clock.Advance(time.Second)
	assert.Equal(t, []EventKind{EventOn}, rec.kinds())

	f.reg.UpdateState("door", map[string]any{"open": false})
	f.clock.Advance(time.Second)
	f.reg.UpdateState("door", map[string]any{"open": true})
	f.clock.Advance(5 * time.Second)
	assert.Equal(t, []EventKind{EventOn}, rec.kinds())

	f.reg.UpdateState("door", map[string]any{"open": false})
	f.clock.Advance(2 * time.Second)
	assert.Equal(t, []EventKind{EventOn, EventOff}, rec.kinds())
}

func TestDurationOnAndOff(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{"TYPE": "Duration", "CONDITION": doorOpen(false), "STARTTIME": 60000, "ENDTIME": 120000})
	require.NoError(t, err)
	rec := &recorder{}
	c.AddListener(rec.listen)

	f.reg.UpdateState("door", map[string]any{"open": true})
	f.clock.Advance(59 * time.Second)
	assert.Empty(t, rec.kinds())
	f.clock.Advance(time.Second)
	assert.Equal(t, []EventKind{EventOn}, rec.kinds())
	f.clock.Advance(time.Minute)
	assert.Equal(t, []EventKind{EventOn, EventOff}, rec.kinds())

	_, err = Create(f.env, utils.Fields{"TYPE": "Duration", "CONDITION": doorOpen(false), "STARTTIME": 5000, "ENDTIME": 1000})
	assert.ErrorIs(t, err, ErrInvalidCondition)
}

func TestDurationTrigger(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{"TYPE": "Duration", "CONDITION": doorOpen(false), "STARTTIME": 1000, "TRIGGER": true})
	require.NoError(t, err)
	assert.True(t, c.IsTrigger())
	rec := &recorder{}
	c.AddListener(rec.listen)

	f.reg.UpdateState("door", map[string]any{"open": true})
	f.clock.Advance(time.Second)
	f.reg.UpdateState("door", map[string]any{"open": false})
	assert.Equal(t, []EventKind{EventTrigger}, rec.kinds())
}

func TestDurationRejectsTriggerSubcondition(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{"TYPE": "Duration", "CONDITION": doorOpen(true), "STARTTIME": 1000})
	require.NoError(t, err)
	assert.False(t, c.IsValid())
}

func TestLatchResetAfter(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{"TYPE": "Latch", "CONDITION": doorOpen(true), "RESETAFTER": 10000})
	require.NoError(t, err)
	assert.False(t, c.IsTrigger())
	rec := &recorder{}
	c.AddListener(rec.listen)

	f.reg.UpdateState("door", map[string]any{"open": true})
	f.reg.UpdateState("door", map[string]any{"open": false})
	ps, err := c.CurrentStatus(f.reg.CurrentWorld())
	require.NoError(t, err)
	assert.NotNil(t, ps)

	f.clock.Advance(10 * time.Second)
	assert.Equal(t, []EventKind{EventOn, EventOff}, rec.kinds())
	ps, err = c.CurrentStatus(f.reg.CurrentWorld())
	require.NoError(t, err)
	assert.Nil(t, ps)
}

func TestLatchResetTime(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{"TYPE": "Latch", "CONDITION": doorOpen(false), "RESETTIME": "23:00"})
	require.NoError(t, err)
	rec := &recorder{}
	c.AddListener(rec.listen)

	f.reg.UpdateState("door", map[string]any{"open": true})
	f.clock.Advance(13*time.Hour + 59*time.Minute)
	assert.Equal(t, []EventKind{EventOn}, rec.kinds())
	f.clock.Advance(time.Minute)
	assert.Equal(t, []EventKind{EventOn, EventOff}, rec.kinds())
}

func TestTimeConditionFollowsWindow(t *testing.T) {
	f := newFixture()
	f.clock.Advance(-time.Hour)
	from := monday9
	to := monday9.AddDate(0, 0, 30).Add(time.Hour)
	c, err := Create(f.env, utils.Fields{
		"TYPE": "Time",
		"EVENT": utils.Fields{
			"FROMDATETIME": from.UnixMilli(),
			"TODATETIME":   to.UnixMilli(),
			"DAYS":         "MON",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, c.TimeSlotEvent())

	rec := &recorder{}
	c.AddListener(rec.listen)
	assert.Empty(t, rec.kinds())

	f.clock.Advance(time.Hour)
	assert.Equal(t, []EventKind{EventOn}, rec.kinds())
	f.clock.Advance(time.Hour)
	assert.Equal(t, []EventKind{EventOn, EventOff}, rec.kinds())
	f.clock.Advance(7*24*time.Hour - time.Hour)
	assert.Equal(t, []EventKind{EventOn, EventOff, EventOn}, rec.kinds())
}

func TestTriggerTimeUsesCron(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{"TYPE": "TriggerTimer", "TIME": "09:00", "DAYS": "MON,FRI"})
	require.NoError(t, err)
	assert.True(t, c.IsTrigger())
	assert.Equal(t, "TriggerTimer", c.Type())

	rec := &recorder{}
	h := c.AddListener(rec.listen)
	assert.Equal(t, "0 9 * * 1,5", f.cron.spec[c.ID()])

	f.cron.job(c.ID())()
	require.Equal(t, []EventKind{EventTrigger}, rec.kinds())
	assert.Equal(t, "09:00", rec.events[0].Props["TIME"])

	slots := c.TimeSlotEvent().Slots(monday9.Add(-time.Minute), monday9.AddDate(0, 0, 7))
	assert.Len(t, slots, 2)

	c.RemoveListener(h)
	assert.Nil(t, f.cron.job(c.ID()))

	_, err = Create(f.env, utils.Fields{"TYPE": "TriggerTime", "CRON": "bogus"})
	assert.ErrorIs(t, err, ErrInvalidCondition)
}

type fakeCalendar struct {
	events []map[string]string
}

func (f *fakeCalendar) ActiveEvents(time.Time) []map[string]string { return f.events }

func TestCalendarEventCondition(t *testing.T) {
	f := newFixture()
	m := utils.Fields{"TYPE": "CalendarEvent", "FIELDS": utils.Fields{"TITLE": "vacation"}}

	c, err := Create(f.env, m)
	require.NoError(t, err)
	assert.False(t, c.IsValid())

	cal := &fakeCalendar{}
	f.env.Calendar = cal
	c, err = Create(f.env, m)
	require.NoError(t, err)
	require.True(t, c.IsValid())

	rec := &recorder{}
	c.AddListener(rec.listen)
	assert.Equal(t, "* * * * *", f.cron.spec[c.ID()])

	cal.events = []map[string]string{{"TITLE": "Summer Vacation", "WHERE": "beach"}}
	f.cron.job(c.ID())()
	require.Equal(t, []EventKind{EventOn}, rec.kinds())
	assert.Equal(t, "beach", rec.events[0].Props["WHERE"])

	cal.events = []map[string]string{{"TITLE": "Dentist"}}
	f.cron.job(c.ID())()
	assert.Equal(t, []EventKind{EventOn, EventOff}, rec.kinds())
}

func TestOrCondition(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{
		"TYPE": "Or",
		"CONDITIONS": []utils.Fields{
			doorOpen(false),
			rangeFields(false),
		},
	})
	require.NoError(t, err)
	assert.False(t, c.IsTrigger())
	rec := &recorder{}
	c.AddListener(rec.listen)

	f.reg.UpdateState("door", map[string]any{"open": true})
	f.reg.UpdateState("thermo", map[string]any{"temp": 15})
	f.reg.UpdateState("door", map[string]any{"open": false})
	assert.Equal(t, []EventKind{EventOn}, rec.kinds())
	f.reg.UpdateState("thermo", map[string]any{"temp": 30})
	assert.Equal(t, []EventKind{EventOn, EventOff}, rec.kinds())

	ps, err := c.CurrentStatus(f.reg.CurrentWorld())
	require.NoError(t, err)
	assert.Nil(t, ps)
}

func TestTriggerOrWithLevelBranch(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{
		"TYPE": "Or",
		"CONDITIONS": []utils.Fields{
			doorOpen(true),
			rangeFields(false),
		},
	})
	require.NoError(t, err)
	require.True(t, c.IsTrigger())
	rec := &recorder{}
	c.AddListener(rec.listen)

	f.reg.UpdateState("thermo", map[string]any{"temp": 15})
	assert.Equal(t, []EventKind{EventTrigger}, rec.kinds())
	ps, err := c.CurrentStatus(f.reg.CurrentWorld())
	require.NoError(t, err)
	assert.Nil(t, ps, "a trigger or does not hold between events")

	f.reg.UpdateState("thermo", map[string]any{"temp": 16})
	f.reg.UpdateState("thermo", map[string]any{"temp": 30})
	assert.Equal(t, []EventKind{EventTrigger}, rec.kinds())

	f.reg.UpdateState("thermo", map[string]any{"temp": 12})
	f.reg.UpdateState("door", map[string]any{"open": true})
	assert.Equal(t, []EventKind{EventTrigger, EventTrigger, EventTrigger}, rec.kinds())
}

func TestDisabledNeverHolds(t *testing.T) {
	f := newFixture()
	c, err := Create(f.env, utils.Fields{"TYPE": "Disabled", "CONDITION": doorOpen(false)})
	require.NoError(t, err)
	f.reg.UpdateState("door", map[string]any{"open": true})
	ps, err := c.CurrentStatus(f.reg.CurrentWorld())
	require.NoError(t, err)
	assert.Nil(t, ps)
	assert.Empty(t, c.Subconditions())
	assert.Empty(t, c.TimeSlotEvent().Slots(monday9, monday9.AddDate(1, 0, 0)))
}

package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homerules/internal/condition"
	"homerules/internal/utils"
)

func timer(t *testing.T, hhmm string) condition.Condition {
	c, err := condition.Create(nil, utils.Fields{"TYPE": "TriggerTime", "TIME": hhmm})
	require.NoError(t, err)
	return c
}

func TestContext(t *testing.T) {
	a, b := timer(t, "07:00"), timer(t, "08:00")
	ctx := NewContext()
	assert.Nil(t, ctx.CheckCondition(a))

	ctx.AddCondition(a, condition.PropertySet{"TIME": "07:00"})
	ctx.AddCondition(b, nil)
	assert.Equal(t, condition.PropertySet{"TIME": "07:00"}, ctx.CheckCondition(a))
	assert.NotNil(t, ctx.CheckCondition(b))
	assert.Equal(t, 2, ctx.Len())

	got := ctx.CheckCondition(a)
	got["TIME"] = "changed"
	assert.Equal(t, "07:00", ctx.CheckCondition(a)["TIME"])
}

func TestAddContext(t *testing.T) {
	a, b := timer(t, "07:00"), timer(t, "08:00")
	outer, inner := NewContext(), NewContext()
	outer.AddCondition(a, condition.PropertySet{"X": 1})
	inner.AddCondition(a, condition.PropertySet{"X": 2})
	inner.AddCondition(b, condition.PropertySet{"Y": 3})

	outer.AddContext(inner)
	outer.AddContext(nil)
	outer.AddContext(outer)
	assert.Equal(t, 2, outer.Len())
	assert.Equal(t, 2, outer.CheckCondition(a)["X"])
	assert.ElementsMatch(t, []condition.Condition{a, b}, outer.Conditions())
}

func TestNilContext(t *testing.T) {
	var ctx *Context
	assert.Nil(t, ctx.CheckCondition(timer(t, "07:00")))
	assert.Zero(t, ctx.Len())
}

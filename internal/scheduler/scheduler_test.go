package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeToCron(t *testing.T) {
	tests := []struct {
		name    string
		hhmm    string
		days    string
		want    string
		wantErr bool
	}{
		{name: "daily", hhmm: "18:05", want: "5 18 * * *"},
		{name: "weekdays", hhmm: "07:30", days: "mon, fri", want: "30 7 * * 1,5"},
		{name: "bad hour", hhmm: "25:00", wantErr: true},
		{name: "not a time", hhmm: "noon", wantErr: true},
		{name: "bad day", hhmm: "07:30", days: "someday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TimeToCron(tt.hhmm, tt.days)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddOrUpdateReplacesJob(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.AddOrUpdate("cond-1", "0 9 * * *", func() {}))
	require.NoError(t, s.AddOrUpdate("cond-1", "0 10 * * *", func() {}))
	require.NoError(t, s.AddOrUpdate("cond-2", "* * * * *", func() {}))
	assert.Equal(t, 2, s.Count())

	assert.Error(t, s.AddOrUpdate("cond-3", "not a cron", func() {}))
	assert.Equal(t, 2, s.Count())

	s.Remove("cond-1")
	s.Remove("missing")
	assert.Equal(t, 1, s.Count())
}

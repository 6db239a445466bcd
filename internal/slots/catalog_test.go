package slots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotCounts(t *testing.T) {
	tests := []struct {
		day  time.Weekday
		want int
	}{
		{time.Sunday, 0},
		{time.Monday, 15},
		{time.Tuesday, 14},
		{time.Wednesday, 14},
		{time.Thursday, 14},
		{time.Friday, 14},
		{time.Saturday, 14},
	}

	for _, tt := range tests {
		t.Run(tt.day.String(), func(t *testing.T) {
			assert.Len(t, For(tt.day), tt.want)
		})
	}
}

func TestSlotBoundaries(t *testing.T) {
	mon := For(time.Monday)
	require.NotEmpty(t, mon)
	assert.Equal(t, "09:00", mon[0])
	assert.Contains(t, mon, "12:30")
	assert.NotContains(t, mon, "13:00")
	assert.NotContains(t, mon, "14:30")
	assert.Equal(t, "18:00", mon[len(mon)-1])

	tue := For(time.Tuesday)
	assert.Equal(t, "17:30", tue[len(tue)-1])
	assert.NotContains(t, tue, "18:00")

	sat := For(time.Saturday)
	assert.Contains(t, sat, "14:30")
	assert.Equal(t, "17:00", sat[len(sat)-1])

	assert.IsIncreasing(t, mon)
	assert.IsIncreasing(t, sat)
}

func TestForReturnsCopy(t *testing.T) {
	a := For(time.Friday)
	a[0] = "changed"
	assert.Equal(t, "09:00", For(time.Friday)[0])

	d := time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC) // Sunday
	assert.Empty(t, ForDate(d))
}

package cycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTime(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"mid january", time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC), "2024-W03"},
		{"new year belongs to previous iso year", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), "2020-W53"},
		{"late december belongs to next iso year", time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC), "2025-W01"},
		{"sunday is the last day of the week", time.Date(2024, 1, 21, 23, 59, 0, 0, time.UTC), "2024-W03"},
		{"evaluated in utc", time.Date(2024, 1, 22, 0, 30, 0, 0, time.FixedZone("CET", 3600)), "2024-W03"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromTime(tt.at))
		})
	}
}

func TestParse(t *testing.T) {
	year, wk, err := Parse("2024-W03")
	require.NoError(t, err)
	assert.Equal(t, 2024, year)
	assert.Equal(t, 3, wk)

	_, _, err = Parse("2020-W53")
	assert.NoError(t, err)

	for _, bad := range []string{"", "2024-03", "2024W03", "2024-W00", "2024-W54", "2023-W53", "abcd-Wxy"} {
		t.Run(bad, func(t *testing.T) {
			_, _, err := Parse(bad)
			assert.Error(t, err)
			assert.False(t, Valid(bad))
		})
	}
}

func TestStart(t *testing.T) {
	start, err := Start("2024-W03")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Monday, start.Weekday())

	start, err = Start("2020-W53")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 12, 28, 0, 0, 0, 0, time.UTC), start)
}

func TestAddAndLookback(t *testing.T) {
	next, err := Add("2020-W53", 1)
	require.NoError(t, err)
	assert.Equal(t, "2021-W01", next)

	prev, err := Add("2024-W01", -1)
	require.NoError(t, err)
	assert.Equal(t, "2023-W52", prev)

	from, err := LookbackStart("2024-W10", 4)
	require.NoError(t, err)
	assert.Equal(t, "2024-W06", from)

	_, err = LookbackStart("2024-W10", -1)
	assert.Error(t, err)
}

func TestIdentifiersSortChronologically(t *testing.T) {
	ids := []string{"2023-W52", "2024-W01", "2024-W09", "2024-W10"}
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}

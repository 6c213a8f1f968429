package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZoneNowUsesLocation(t *testing.T) {
	instant := time.Date(2026, 3, 29, 0, 30, 0, 0, time.UTC)

	z, err := NewZone(Fixed{T: instant}, "Europe/Berlin")
	require.NoError(t, err)

	now := z.Now()
	assert.True(t, instant.Equal(now))
	assert.Equal(t, "Europe/Berlin", now.Location().String())
	assert.Equal(t, 1, now.Hour())
}

func TestNewZoneInvalidTimezone(t *testing.T) {
	_, err := NewZone(Real{}, "Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestLoadLocationEmptyIsUTC(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestFuncClock(t *testing.T) {
	calls := 0
	c := Func(func() time.Time {
		calls++
		return time.Unix(int64(calls), 0)
	})

	assert.Equal(t, int64(1), c.Now().Unix())
	assert.Equal(t, int64(2), c.Now().Unix())
}

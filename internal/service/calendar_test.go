package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCalendarFixedHolidays(t *testing.T) {
	cal, err := NewCalendar(nil)
	require.NoError(t, err)

	name, ok := cal.NameOf(date(2026, time.July, 4))
	require.True(t, ok)
	assert.Equal(t, "Independence Day", name)

	assert.True(t, cal.IsHoliday(date(2026, time.December, 25)))
	assert.False(t, cal.IsHoliday(date(2026, time.December, 24)))
}

func TestCalendarMovingHolidays(t *testing.T) {
	cal, err := NewCalendar(nil)
	require.NoError(t, err)

	// Third Monday of January 2026 is the 19th.
	name, ok := cal.NameOf(date(2026, time.January, 19))
	require.True(t, ok)
	assert.Equal(t, "Martin Luther King Jr. Day", name)
	assert.False(t, cal.IsHoliday(date(2026, time.January, 12)))

	// Last Monday of May 2026 is the 25th.
	assert.True(t, cal.IsHoliday(date(2026, time.May, 25)))
	assert.False(t, cal.IsHoliday(date(2026, time.May, 18)))

	// Fourth Thursday of November 2026 is the 26th.
	name, ok = cal.NameOf(date(2026, time.November, 26))
	require.True(t, ok)
	assert.Equal(t, "Thanksgiving", name)
}

func TestCalendarManualEntries(t *testing.T) {
	cal, err := NewCalendar([]string{"2026-03-14=Recital Day", "2026-04-01"})
	require.NoError(t, err)

	name, ok := cal.NameOf(date(2026, time.March, 14))
	require.True(t, ok)
	assert.Equal(t, "Recital Day", name)

	name, ok = cal.NameOf(date(2026, time.April, 1))
	require.True(t, ok)
	assert.Equal(t, "Studio Holiday", name)
}

func TestCalendarManualEntryInvalid(t *testing.T) {
	_, err := NewCalendar([]string{"not-a-date=Oops"})
	require.Error(t, err)
}

func TestCalendarAddManualOutcomes(t *testing.T) {
	cal, err := NewCalendar(nil)
	require.NoError(t, err)

	assert.Equal(t, ManualAdded, cal.AddManual(2026, time.March, 14, "Recital Day"))
	assert.Equal(t, ManualAlreadyPresent, cal.AddManual(2026, time.March, 14, "Recital Day"))
	assert.Equal(t, ManualRenamed, cal.AddManual(2026, time.March, 14, "Spring Recital"))

	name, ok := cal.NameOf(date(2026, time.March, 14))
	require.True(t, ok)
	assert.Equal(t, "Spring Recital", name)
}

func TestCalendarManualOverridesDerivedName(t *testing.T) {
	cal, err := NewCalendar(nil)
	require.NoError(t, err)

	cal.AddManual(2026, time.December, 25, "Winter Closure")
	name, ok := cal.NameOf(date(2026, time.December, 25))
	require.True(t, ok)
	assert.Equal(t, "Winter Closure", name)
}

package ingest

import (
    "testing"
    "time"

    "github.com/stretchr/testify/require"
)

func shanghai(t *testing.T) *time.Location {
    t.Helper()
    loc, err := time.LoadLocation("Asia/Shanghai")
    require.NoError(t, err)
    return loc
}

func TestCalendar_SessionsAndBreaks(t *testing.T) {
    cal, err := NewCalendar("Asia/Shanghai", nil)
    require.NoError(t, err)
    loc := shanghai(t)

    day := func(h, m int) time.Time {
        // 2025-03-11 is a Tuesday.
        return time.Date(2025, 3, 11, h, m, 0, 0, loc)
    }

    require.False(t, cal.InSession(day(9, 0)), "before open")
    require.True(t, cal.InSession(day(9, 30)), "at open")
    require.True(t, cal.InSession(day(11, 30)), "at morning close")
    require.False(t, cal.InSession(day(12, 15)), "midday break")
    require.True(t, cal.InSession(day(13, 0)), "afternoon open")
    require.True(t, cal.InSession(day(15, 0)), "at close")
    require.False(t, cal.InSession(day(15, 1)), "after close")
}

func TestCalendar_WeekendsClosed(t *testing.T) {
    cal, err := NewCalendar("Asia/Shanghai", nil)
    require.NoError(t, err)
    loc := shanghai(t)

    // 2025-03-15 is a Saturday.
    require.False(t, cal.InSession(time.Date(2025, 3, 15, 10, 0, 0, 0, loc)))
    // 2025-03-16 is a Sunday.
    require.False(t, cal.InSession(time.Date(2025, 3, 16, 10, 0, 0, 0, loc)))
}

func TestCalendar_ConvertsForeignWallClock(t *testing.T) {
    cal, err := NewCalendar("Asia/Shanghai", nil)
    require.NoError(t, err)

    // 02:00 UTC on a Tuesday is 10:00 in Shanghai.
    require.True(t, cal.InSession(time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC)))
}

func TestCalendar_RejectsBadSessions(t *testing.T) {
    _, err := NewCalendar("Asia/Shanghai", []Session{{Open: "930", Close: "11:30"}})
    require.Error(t, err)

    _, err = NewCalendar("Asia/Shanghai", []Session{{Open: "11:30", Close: "09:30"}})
    require.Error(t, err)

    _, err = NewCalendar("Not/AZone", nil)
    require.Error(t, err)
}

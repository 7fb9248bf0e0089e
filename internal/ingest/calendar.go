package ingest

import (
    "fmt"
    "strconv"
    "strings"
    "time"
)

// Session is one intraday trading window, times as "HH:MM" wall clock.
type Session struct {
    Open  string
    Close string
}

// session is a parsed window in minutes since midnight, inclusive bounds.
type session struct {
    open  int
    close int
}

// Calendar decides whether a wall-clock instant falls inside a market's
// trading hours: configured weekdays plus one or more intraday sessions
// (e.g. a morning and an afternoon window around a midday break).
type Calendar struct {
    loc      *time.Location
    weekdays map[time.Weekday]bool
    sessions []session
}

// DefaultSessions is the Shanghai/Shenzhen regular trading day.
func DefaultSessions() []Session {
    return []Session{{Open: "09:30", Close: "11:30"}, {Open: "13:00", Close: "15:00"}}
}

func NewCalendar(timezone string, sessions []Session) (*Calendar, error) {
    if timezone == "" {
        timezone = "Asia/Shanghai"
    }
    loc, err := time.LoadLocation(timezone)
    if err != nil {
        return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
    }
    if len(sessions) == 0 {
        sessions = DefaultSessions()
    }
    parsed := make([]session, 0, len(sessions))
    for _, s := range sessions {
        open, err := parseClock(s.Open)
        if err != nil {
            return nil, fmt.Errorf("session open %q: %w", s.Open, err)
        }
        cl, err := parseClock(s.Close)
        if err != nil {
            return nil, fmt.Errorf("session close %q: %w", s.Close, err)
        }
        if cl <= open {
            return nil, fmt.Errorf("session %s-%s: close must be after open", s.Open, s.Close)
        }
        parsed = append(parsed, session{open: open, close: cl})
    }
    return &Calendar{
        loc: loc,
        weekdays: map[time.Weekday]bool{
            time.Monday: true, time.Tuesday: true, time.Wednesday: true,
            time.Thursday: true, time.Friday: true,
        },
        sessions: parsed,
    }, nil
}

// InSession reports whether t falls inside a trading session.
func (c *Calendar) InSession(t time.Time) bool {
    local := t.In(c.loc)
    if !c.weekdays[local.Weekday()] {
        return false
    }
    minute := local.Hour()*60 + local.Minute()
    for _, s := range c.sessions {
        if minute >= s.open && minute <= s.close {
            return true
        }
    }
    return false
}

// Location returns the calendar's timezone, used for trade-date stamps.
func (c *Calendar) Location() *time.Location { return c.loc }

func parseClock(v string) (int, error) {
    parts := strings.SplitN(strings.TrimSpace(v), ":", 2)
    if len(parts) != 2 {
        return 0, fmt.Errorf("want HH:MM")
    }
    h, err := strconv.Atoi(parts[0])
    if err != nil || h < 0 || h > 23 {
        return 0, fmt.Errorf("bad hour")
    }
    m, err := strconv.Atoi(parts[1])
    if err != nil || m < 0 || m > 59 {
        return 0, fmt.Errorf("bad minute")
    }
    return h*60 + m, nil
}

package domain

import (
	"fmt"
	"time"
)

// TimeOfDay 一天内的时刻（秒），与日期无关
type TimeOfDay int

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" (the Postgres TIME text form).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m, sec int
	n, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
	if err != nil && n < 2 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay(h*3600 + m*60 + sec), nil
}

// MustTimeOfDay is ParseTimeOfDay for literals.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// ClockOf returns the wall-clock time of day of t in t's own location.
func ClockOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)%3600/60, int(t)%60)
}

// Window 闭区间 [Start, End]
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

func (w Window) Contains(t TimeOfDay) bool {
	return t >= w.Start && t <= w.End
}

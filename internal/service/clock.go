package service

import "time"

// Clock 服务端时间源；判定“今天”和确认窗口只信任服务端时钟
type Clock func() time.Time

// SystemClock returns wall-clock time in loc.
func SystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return func() time.Time { return time.Now().In(loc) }
}

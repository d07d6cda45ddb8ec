package schedule

import (
	"time"

	"wisefido-attendance/internal/domain"
)

// ForToday 过滤出 today 所在星期生效的排班，保持输入顺序
// 同一用户同一天的多个排班各自独立
func ForToday(assignments []*domain.Assignment, today time.Time) []*domain.Assignment {
	out := make([]*domain.Assignment, 0, len(assignments))
	for _, a := range assignments {
		if a != nil && a.ActiveOn(today) {
			out = append(out, a)
		}
	}
	return out
}

// StatusOf 计算排班在 now 时刻的当天状态
// rec 必须是按 assignment_id 匹配到的当天记录，没有则传 nil
func StatusOf(a *domain.Assignment, now time.Time, rec *domain.ConfirmationRecord) domain.DailyStatus {
	clock := domain.ClockOf(now)
	w := a.ConfirmationWindow

	switch {
	case clock < w.Start:
		return domain.StatusPending
	case rec != nil:
		if rec.WithinGeofence {
			return domain.StatusConfirmed
		}
		return domain.StatusConfirmedOutOfRange
	case clock <= w.End:
		return domain.StatusConfirmationOpen
	default:
		return domain.StatusMissed
	}
}

// Today returns the calendar date string of now in its own location.
func Today(now time.Time) string {
	return now.Format(domain.DateLayout)
}

// Entry 一个排班及其当天状态
type Entry struct {
	Assignment *domain.Assignment
	Status     domain.DailyStatus
	Record     *domain.ConfirmationRecord
}

// Resolve 对当天生效的排班逐个计算状态，records 以 assignment_id 为键
func Resolve(assignments []*domain.Assignment, now time.Time, records map[string]*domain.ConfirmationRecord) []Entry {
	active := ForToday(assignments, now)
	out := make([]Entry, 0, len(active))
	for _, a := range active {
		rec := records[a.AssignmentID]
		out = append(out, Entry{Assignment: a, Status: StatusOf(a, now, rec), Record: rec})
	}
	return out
}

package domain

import (
	"fmt"
	"time"
)

// Assignment 周期性排班（对应 assignments 表）
// 将用户绑定到一个地点，按星期几重复，带工作时段和确认窗口
type Assignment struct {
	AssignmentID string `db:"assignment_id"` // UUID, PRIMARY KEY
	UserID       string `db:"user_id"`       // UUID, NOT NULL
	LocationID   string `db:"location_id"`   // UUID, NOT NULL, FK to locations

	// ISO 星期：1=Mon ... 7=Sun，非空
	DaysOfWeek []int `db:"days_of_week"` // SMALLINT[], NOT NULL

	WorkWindow         Window `db:"-"` // work_start / work_end
	ConfirmationWindow Window `db:"-"` // confirm_from / confirm_to

	// 关联地点（查询时 JOIN 填充）
	Location *Location `db:"-"`
}

// ISOWeekday maps time.Weekday to 1=Mon..7=Sun.
func ISOWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

// ActiveOn reports whether the assignment recurs on the given day.
func (a *Assignment) ActiveOn(day time.Time) bool {
	wd := ISOWeekday(day.Weekday())
	for _, d := range a.DaysOfWeek {
		if d == wd {
			return true
		}
	}
	return false
}

// Validate 校验排班的结构性约束
// 跨午夜的确认窗口不支持，直接视为无效数据
func (a *Assignment) Validate() error {
	if len(a.DaysOfWeek) == 0 {
		return fmt.Errorf("assignment %s: days_of_week is empty", a.AssignmentID)
	}
	for _, d := range a.DaysOfWeek {
		if d < 1 || d > 7 {
			return fmt.Errorf("assignment %s: invalid weekday %d", a.AssignmentID, d)
		}
	}
	if a.ConfirmationWindow.Start > a.ConfirmationWindow.End {
		return fmt.Errorf("assignment %s: confirmation window %s-%s crosses midnight or is inverted",
			a.AssignmentID, a.ConfirmationWindow.Start, a.ConfirmationWindow.End)
	}
	return nil
}

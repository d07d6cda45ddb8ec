package repository

import (
	"context"
	"errors"

	"wisefido-attendance/internal/domain"
)

// ErrConfirmationExists 同一 (assignment_id, attendance_date) 已有记录
// 由存储层原子地保证，service 层映射为 domain.ErrAlreadyConfirmed
var ErrConfirmationExists = errors.New("confirmation already exists for assignment and date")

// AssignmentsRepository 排班只读访问，返回时已填充 Location
type AssignmentsRepository interface {
	// ListByUser 用户所有有效排班（不按星期过滤）
	ListByUser(ctx context.Context, userID string) ([]*domain.Assignment, error)

	// Get 不存在时返回 domain.ErrNotFound
	Get(ctx context.Context, assignmentID string) (*domain.Assignment, error)

	// ListUserIDs 有有效排班的用户，供状态监控遍历
	ListUserIDs(ctx context.Context) ([]string, error)
}

// HistoryFilter 历史查询条件，日期为 YYYY-MM-DD，闭区间
type HistoryFilter struct {
	From  string
	To    string
	Limit int
}

// ConfirmationsRepository 到岗确认记录，只增不改
type ConfirmationsRepository interface {
	// Insert 原子插入；重复时返回 ErrConfirmationExists
	Insert(ctx context.Context, rec *domain.ConfirmationRecord) error

	// FindForDate 没有记录时返回 (nil, nil)
	FindForDate(ctx context.Context, assignmentID, date string) (*domain.ConfirmationRecord, error)

	// ListForUserDate 用户某天的全部记录
	ListForUserDate(ctx context.Context, userID, date string) ([]*domain.ConfirmationRecord, error)

	// ListHistory 按 attendance_date 倒序
	ListHistory(ctx context.Context, userID string, filter HistoryFilter) ([]*domain.ConfirmationRecord, error)
}

// ByAssignment indexes records by assignment_id.
func ByAssignment(records []*domain.ConfirmationRecord) map[string]*domain.ConfirmationRecord {
	m := make(map[string]*domain.ConfirmationRecord, len(records))
	for _, r := range records {
		m[r.AssignmentID] = r
	}
	return m
}

func inRange(date string, f HistoryFilter) bool {
	if f.From != "" && date < f.From {
		return false
	}
	if f.To != "" && date > f.To {
		return false
	}
	return true
}

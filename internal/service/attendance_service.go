package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/locator"
	"wisefido-attendance/internal/repository"
	"wisefido-attendance/internal/schedule"

	"go.uber.org/zap"
)

// ErrInvalidDateRange 历史查询日期格式错误或起止颠倒
var ErrInvalidDateRange = errors.New("invalid date range")

const (
	DefaultHistoryLimit = 30
	MaxHistoryLimit     = 200
)

// PositionAcquirer 定位管线
type PositionAcquirer interface {
	Acquire(ctx context.Context, opts locator.Options) (*locator.Position, error)
}

// AttendanceService 面向调用方的门面：今日排班、定位、确认、历史
// 每个操作都显式接收 Session，不依赖全局状态
type AttendanceService struct {
	assignments   repository.AssignmentsRepository
	confirmations repository.ConfirmationsRepository
	recorder      *ConfirmationService
	locator       PositionAcquirer
	defaults      locator.Options
	clock         Clock
	logger        *zap.Logger
}

// NewAttendanceService 创建门面服务；defaults 为定位参数缺省值
func NewAttendanceService(
	assignments repository.AssignmentsRepository,
	confirmations repository.ConfirmationsRepository,
	acquirer PositionAcquirer,
	defaults locator.Options,
	clock Clock,
	logger *zap.Logger,
) *AttendanceService {
	return &AttendanceService{
		assignments:   assignments,
		confirmations: confirmations,
		recorder:      NewConfirmationService(assignments, confirmations, clock, logger),
		locator:       acquirer,
		defaults:      defaults,
		clock:         clock,
		logger:        logger,
	}
}

// TodayItem 今日排班及状态
type TodayItem struct {
	Assignment *domain.Assignment
	Status     domain.DailyStatus
	Record     *domain.ConfirmationRecord
	CanConfirm bool
}

// TodayAssignments 今日生效的排班及实时状态
func (s *AttendanceService) TodayAssignments(ctx context.Context, sess *domain.Session) ([]TodayItem, error) {
	if !sess.Valid() {
		return nil, domain.ErrUnauthenticated
	}
	return s.todayFor(ctx, sess.UserID, s.clock())
}

func (s *AttendanceService) todayFor(ctx context.Context, userID string, now time.Time) ([]TodayItem, error) {
	all, err := s.assignments.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	if len(schedule.ForToday(all, now)) == 0 {
		return []TodayItem{}, nil
	}

	records, err := s.confirmations.ListForUserDate(ctx, userID, schedule.Today(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list today's confirmations: %w", err)
	}

	entries := schedule.Resolve(all, now, repository.ByAssignment(records))
	items := make([]TodayItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, TodayItem{
			Assignment: e.Assignment,
			Status:     e.Status,
			Record:     e.Record,
			CanConfirm: e.Status == domain.StatusConfirmationOpen,
		})
	}
	return items, nil
}

// PositionRequest 定位请求，零值字段取服务端缺省
type PositionRequest struct {
	HighAccuracy  *bool
	Timeout       time.Duration
	MaxAge        time.Duration
	MaxAttempts   int
	ClientIP      string
	SecureContext bool
}

// AcquirePosition 通过定位管线获取调用方位置
func (s *AttendanceService) AcquirePosition(ctx context.Context, sess *domain.Session, req PositionRequest) (*locator.Position, error) {
	if !sess.Valid() {
		return nil, domain.ErrUnauthenticated
	}
	opts := s.defaults
	opts.Subject = sess.UserID
	opts.ClientIP = req.ClientIP
	opts.SecureContext = req.SecureContext
	if req.HighAccuracy != nil {
		opts.HighAccuracy = *req.HighAccuracy
	}
	if req.Timeout > 0 {
		opts.Timeout = req.Timeout
	}
	if req.MaxAge > 0 {
		opts.MaxAge = req.MaxAge
	}
	if req.MaxAttempts > 0 {
		opts.MaxAttempts = req.MaxAttempts
	}
	return s.locator.Acquire(ctx, opts)
}

// Confirm 提交到岗确认
func (s *AttendanceService) Confirm(ctx context.Context, sess *domain.Session, req ConfirmRequest) (*ConfirmResult, error) {
	return s.recorder.Confirm(ctx, sess, req)
}

// HistoryItem 历史记录，附带排班地点（排班已删除时为 nil）
type HistoryItem struct {
	Record   *domain.ConfirmationRecord
	Location *domain.Location
}

// History 历史确认记录，Limit 缺省 30，上限 200
func (s *AttendanceService) History(ctx context.Context, sess *domain.Session, filter repository.HistoryFilter) ([]HistoryItem, error) {
	if !sess.Valid() {
		return nil, domain.ErrUnauthenticated
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultHistoryLimit
	}
	if filter.Limit > MaxHistoryLimit {
		filter.Limit = MaxHistoryLimit
	}
	for _, d := range []string{filter.From, filter.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, d); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDateRange, d)
		}
	}
	if filter.From != "" && filter.To != "" && filter.From > filter.To {
		return nil, fmt.Errorf("%w: %s after %s", ErrInvalidDateRange, filter.From, filter.To)
	}

	records, err := s.confirmations.ListHistory(ctx, sess.UserID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	assignments, err := s.assignments.ListByUser(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	locations := make(map[string]*domain.Location, len(assignments))
	for _, a := range assignments {
		locations[a.AssignmentID] = a.Location
	}

	items := make([]HistoryItem, 0, len(records))
	for _, r := range records {
		items = append(items, HistoryItem{Record: r, Location: locations[r.AssignmentID]})
	}
	return items, nil
}

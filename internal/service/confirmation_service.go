package service

import (
	"context"
	"errors"
	"fmt"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/geo"
	"wisefido-attendance/internal/repository"
	"wisefido-attendance/internal/schedule"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConfirmationService 到岗确认记录器
type ConfirmationService struct {
	assignments   repository.AssignmentsRepository
	confirmations repository.ConfirmationsRepository
	clock         Clock
	logger        *zap.Logger
}

// NewConfirmationService 创建到岗确认服务
func NewConfirmationService(
	assignments repository.AssignmentsRepository,
	confirmations repository.ConfirmationsRepository,
	clock Clock,
	logger *zap.Logger,
) *ConfirmationService {
	return &ConfirmationService{
		assignments:   assignments,
		confirmations: confirmations,
		clock:         clock,
		logger:        logger,
	}
}

// ConfirmRequest 确认请求
type ConfirmRequest struct {
	AssignmentID string
	Position     domain.Coordinate
	AccuracyM    *float64
	Observations string
}

// ConfirmResult 确认结果
type ConfirmResult struct {
	Record         *domain.ConfirmationRecord
	Classification geo.Classification
}

// Confirm 校验前置条件后写入确认记录
// 前置条件按顺序检查：归属 -> 窗口/幂等 -> 坐标
// 唯一性最终由存储层保证，这里的检查只是快速路径
func (s *ConfirmationService) Confirm(ctx context.Context, sess *domain.Session, req ConfirmRequest) (*ConfirmResult, error) {
	if !sess.Valid() {
		return nil, domain.ErrUnauthenticated
	}

	// 1. 存在且属于调用方
	a, err := s.assignments.Get(ctx, req.AssignmentID)
	if err != nil {
		return nil, err
	}
	if a.UserID != sess.UserID {
		return nil, domain.ErrForbidden
	}
	if a.Location == nil {
		return nil, fmt.Errorf("assignment %s has no location", a.AssignmentID)
	}

	// 2. 当天排班 / 窗口 / 是否已确认
	now := s.clock()
	if !a.ActiveOn(now) {
		return nil, fmt.Errorf("%w: assignment %s is not scheduled on %s", domain.ErrWindowNotOpen, a.AssignmentID, now.Weekday())
	}
	date := schedule.Today(now)
	existing, err := s.confirmations.FindForDate(ctx, a.AssignmentID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load today's confirmation: %w", err)
	}
	switch schedule.StatusOf(a, now, existing) {
	case domain.StatusPending:
		return nil, domain.ErrWindowNotOpen
	case domain.StatusMissed:
		return nil, domain.ErrWindowClosed
	case domain.StatusConfirmed, domain.StatusConfirmedOutOfRange:
		return nil, domain.ErrAlreadyConfirmed
	}

	// 3. 坐标范围
	if !req.Position.Valid() {
		return nil, domain.ErrInvalidCoordinates
	}
	if req.AccuracyM != nil && !(*req.AccuracyM >= 0) {
		return nil, domain.ErrInvalidCoordinates
	}

	cls, err := geo.Classify(a.Location.Area, req.Position)
	if err != nil {
		return nil, fmt.Errorf("assignment %s: %w", a.AssignmentID, err)
	}

	rec := &domain.ConfirmationRecord{
		ConfirmationID: uuid.NewString(),
		AssignmentID:   a.AssignmentID,
		UserID:         sess.UserID,
		Date:           date,
		SubmittedAt:    now,
		Latitude:       req.Position.Latitude,
		Longitude:      req.Position.Longitude,
		AccuracyM:      req.AccuracyM,
		DistanceM:      cls.DistanceM,
		WithinGeofence: cls.Within,
		Observations:   req.Observations,
	}
	if err := s.confirmations.Insert(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrConfirmationExists) {
			return nil, domain.ErrAlreadyConfirmed
		}
		return nil, fmt.Errorf("failed to save confirmation: %w", err)
	}

	s.logger.Info("Attendance confirmed",
		zap.String("user_id", sess.UserID),
		zap.String("assignment_id", a.AssignmentID),
		zap.String("date", date),
		zap.Float64("distance_m", cls.DistanceM),
		zap.Bool("within_geofence", cls.Within),
	)
	return &ConfirmResult{Record: rec, Classification: cls}, nil
}

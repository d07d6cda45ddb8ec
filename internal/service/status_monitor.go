package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/schedule"
	"wisefido-attendance/internal/store"

	"go.uber.org/zap"
)

// StatusPublisher 状态变更通知（MQTT）
type StatusPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// StatusMonitorConfig 状态监控参数
type StatusMonitorConfig struct {
	Tick        time.Duration
	CacheTTL    time.Duration
	TopicPrefix string
	QoS         byte
}

const snapshotPrefix = "attendance:status:"

// statusSnapshot 缓存到 attendance:status:{user_id}:{date}
type statusSnapshot struct {
	UserID    string                        `json:"user_id"`
	Date      string                        `json:"date"`
	Statuses  map[string]domain.DailyStatus `json:"statuses"` // assignment_id -> status
	UpdatedAt time.Time                     `json:"updated_at"`
}

// StatusTransition 一次状态变化，发布到 {prefix}/users/{user_id}/status
type StatusTransition struct {
	UserID       string             `json:"user_id"`
	AssignmentID string             `json:"assignment_id"`
	Date         string             `json:"date"`
	From         domain.DailyStatus `json:"from,omitempty"`
	To           domain.DailyStatus `json:"to"`
	At           time.Time          `json:"at"`
}

// StatusMonitor 定时重算所有用户的当天状态
// 只读：不写确认记录，也不触发确认
type StatusMonitor struct {
	facade    *AttendanceService
	kv        store.KV
	publisher StatusPublisher // 可为 nil
	cfg       StatusMonitorConfig
	logger    *zap.Logger
}

// NewStatusMonitor 创建状态监控
func NewStatusMonitor(facade *AttendanceService, kv store.KV, publisher StatusPublisher, cfg StatusMonitorConfig, logger *zap.Logger) *StatusMonitor {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 36 * time.Hour
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "attendance"
	}
	return &StatusMonitor{facade: facade, kv: kv, publisher: publisher, cfg: cfg, logger: logger}
}

// Run 按 Tick 周期执行，直到 ctx 取消
func (m *StatusMonitor) Run(ctx context.Context) error {
	m.logger.Info("Status monitor started", zap.Duration("tick", m.cfg.Tick))
	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	for {
		if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("Status monitor tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			m.logger.Info("Status monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick 执行一轮，返回本轮检测到的状态变化
func (m *StatusMonitor) Tick(ctx context.Context) ([]StatusTransition, error) {
	users, err := m.facade.assignments.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	now := m.facade.clock()
	var all []StatusTransition
	var errs []error
	for _, userID := range users {
		if ctx.Err() != nil {
			return all, ctx.Err()
		}
		ts, err := m.refreshUser(ctx, userID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			continue
		}
		all = append(all, ts...)
	}
	return all, errors.Join(errs...)
}

// Snapshot 读取缓存的当天状态
func (m *StatusMonitor) Snapshot(ctx context.Context, userID, date string) (map[string]domain.DailyStatus, error) {
	prev, err := m.loadSnapshot(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, store.ErrMiss
	}
	return prev.Statuses, nil
}

// DaySnapshots 读取某天所有用户的缓存状态：user_id -> assignment_id -> status
func (m *StatusMonitor) DaySnapshots(ctx context.Context, date string) (map[string]map[string]domain.DailyStatus, error) {
	keys, err := m.kv.ScanKeys(ctx, snapshotPrefix+"*:"+date)
	if err != nil {
		return nil, fmt.Errorf("failed to scan status cache: %w", err)
	}
	out := make(map[string]map[string]domain.DailyStatus, len(keys))
	for _, key := range keys {
		userID := strings.TrimSuffix(strings.TrimPrefix(key, snapshotPrefix), ":"+date)
		snap, err := m.loadSnapshot(ctx, userID, date)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			out[userID] = snap.Statuses
		}
	}
	return out, nil
}

func (m *StatusMonitor) refreshUser(ctx context.Context, userID string, now time.Time) ([]StatusTransition, error) {
	items, err := m.facade.todayFor(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	date := schedule.Today(now)

	prev, err := m.loadSnapshot(ctx, userID, date)
	if err != nil {
		return nil, err
	}

	snap := statusSnapshot{
		UserID:    userID,
		Date:      date,
		Statuses:  make(map[string]domain.DailyStatus, len(items)),
		UpdatedAt: now,
	}
	var transitions []StatusTransition
	for _, it := range items {
		id := it.Assignment.AssignmentID
		snap.Statuses[id] = it.Status

		var before domain.DailyStatus
		if prev != nil {
			before = prev.Statuses[id]
		}
		if before == it.Status {
			continue
		}
		transitions = append(transitions, StatusTransition{
			UserID:       userID,
			AssignmentID: id,
			Date:         date,
			From:         before,
			To:           it.Status,
			At:           now,
		})
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	if err := m.kv.Set(ctx, m.snapshotKey(userID, date), string(data), m.cfg.CacheTTL); err != nil {
		return nil, fmt.Errorf("failed to cache status: %w", err)
	}

	for _, t := range transitions {
		m.logger.Info("Attendance status changed",
			zap.String("user_id", t.UserID),
			zap.String("assignment_id", t.AssignmentID),
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
		)
		m.publish(t)
	}
	return transitions, nil
}

func (m *StatusMonitor) publish(t StatusTransition) {
	if m.publisher == nil {
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return
	}
	topic := m.cfg.TopicPrefix + "/users/" + t.UserID + "/status"
	if err := m.publisher.Publish(topic, m.cfg.QoS, false, payload); err != nil {
		m.logger.Warn("Failed to publish status transition",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

func (m *StatusMonitor) loadSnapshot(ctx context.Context, userID, date string) (*statusSnapshot, error) {
	raw, err := m.kv.Get(ctx, m.snapshotKey(userID, date))
	if err != nil {
		if errors.Is(err, store.ErrMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read status cache: %w", err)
	}
	var snap statusSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		// 损坏的缓存按不存在处理，下一轮会覆盖
		m.logger.Warn("Discarding unreadable status snapshot", zap.String("user_id", userID), zap.Error(err))
		return nil, nil
	}
	return &snap, nil
}

func (m *StatusMonitor) snapshotKey(userID, date string) string {
	return snapshotPrefix + userID + ":" + date
}

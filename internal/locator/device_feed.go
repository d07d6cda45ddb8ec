package locator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"wisefido-attendance/internal/mqtt"

	"go.uber.org/zap"
)

// Transport MQTT 能力子集，便于测试替换
type Transport interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// deviceFixMessage 设备上报的定位消息
// topic: {prefix}/devices/{user_id}/fix
type deviceFixMessage struct {
	Lat              *float64 `json:"lat"`
	Lng              *float64 `json:"lng"`
	Accuracy         float64  `json:"accuracy"`
	Altitude         *float64 `json:"altitude,omitempty"`
	AltitudeAccuracy *float64 `json:"altitude_accuracy,omitempty"`
	Heading          *float64 `json:"heading,omitempty"`
	Speed            *float64 `json:"speed,omitempty"`
	Timestamp        int64    `json:"timestamp,omitempty"` // unix ms
	// permission_denied / position_unavailable / timeout
	Error string `json:"error,omitempty"`
}

// locateRequestMessage 下发给设备的定位请求
// topic: {prefix}/devices/{user_id}/locate
type locateRequestMessage struct {
	HighAccuracy bool  `json:"high_accuracy"`
	TimeoutMs    int64 `json:"timeout_ms"`
	MaxAgeMs     int64 `json:"max_age_ms"`
}

const (
	// reportRetention 超过该时长的上报不再可能满足任何 MaxAge，定期清理
	reportRetention = time.Hour
	pruneInterval   = time.Minute
)

type deviceReport struct {
	fix      *Fix
	err      error
	received time.Time
}

// DeviceFeed 精确定位源：由设备通过 MQTT 上报 GNSS 读数
type DeviceFeed struct {
	transport Transport
	prefix    string
	qos       byte
	now       func() time.Time
	logger    *zap.Logger

	mu        sync.Mutex
	latest    map[string]deviceReport
	signals   map[string]chan struct{}
	lastPrune time.Time
}

// NewDeviceFeed 创建设备定位源，需调用 Start 订阅上报主题
func NewDeviceFeed(transport Transport, topicPrefix string, qos byte, logger *zap.Logger) *DeviceFeed {
	return &DeviceFeed{
		transport: transport,
		prefix:    strings.TrimSuffix(topicPrefix, "/"),
		qos:       qos,
		now:       time.Now,
		logger:    logger,
		latest:    make(map[string]deviceReport),
		signals:   make(map[string]chan struct{}),
	}
}

var _ PreciseProvider = (*DeviceFeed)(nil)

// Start 订阅所有设备的上报主题
func (f *DeviceFeed) Start() error {
	topic := f.prefix + "/devices/+/fix"
	if err := f.transport.Subscribe(topic, f.qos, f.HandleMessage); err != nil {
		return fmt.Errorf("device feed: %w", err)
	}
	f.logger.Info("Device location feed subscribed", zap.String("topic", topic))
	return nil
}

// HandleMessage 处理一条设备上报
func (f *DeviceFeed) HandleMessage(topic string, payload []byte) error {
	subject, ok := f.subjectOf(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}

	var msg deviceFixMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal device fix: %w", err)
	}

	rep := deviceReport{received: f.now()}
	switch msg.Error {
	case "":
		if msg.Lat == nil || msg.Lng == nil {
			rep.err = NewError(KindPositionUnavailable, ErrInvalidFix)
			break
		}
		ts := rep.received
		if msg.Timestamp > 0 {
			ts = time.UnixMilli(msg.Timestamp)
		}
		rep.fix = &Fix{
			Latitude:          *msg.Lat,
			Longitude:         *msg.Lng,
			AccuracyM:         msg.Accuracy,
			AltitudeM:         msg.Altitude,
			AltitudeAccuracyM: msg.AltitudeAccuracy,
			Heading:           msg.Heading,
			SpeedMPS:          msg.Speed,
			Timestamp:         ts,
		}
	case "permission_denied":
		rep.err = NewError(KindPermissionDenied, errors.New("device reported permission denied"))
	case "timeout":
		rep.err = NewError(KindTimeout, errors.New("device reported timeout"))
	case "position_unavailable":
		rep.err = NewError(KindPositionUnavailable, errors.New("device reported position unavailable"))
	default:
		rep.err = NewError(KindUnknown, fmt.Errorf("device reported %q", msg.Error))
	}

	f.mu.Lock()
	f.latest[subject] = rep
	if ch, ok := f.signals[subject]; ok {
		close(ch)
		delete(f.signals, subject)
	}
	f.pruneLocked(rep.received)
	f.mu.Unlock()
	return nil
}

// pruneLocked 丢弃 reportRetention 之前收到的上报，最多每 pruneInterval 执行一次
func (f *DeviceFeed) pruneLocked(now time.Time) {
	if now.Sub(f.lastPrune) < pruneInterval {
		return
	}
	f.lastPrune = now
	cutoff := now.Add(-reportRetention)
	for subject, rep := range f.latest {
		if rep.received.Before(cutoff) {
			delete(f.latest, subject)
		}
	}
}

// cached 当前保留的上报数量
func (f *DeviceFeed) cached() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.latest)
}

// CurrentPosition 返回足够新的缓存读数，否则向设备发起定位请求并等待上报
func (f *DeviceFeed) CurrentPosition(ctx context.Context, req Request) (*Fix, error) {
	if req.Subject == "" {
		return nil, NewError(KindUnknown, errors.New("device feed: empty subject"))
	}

	requestedAt := f.now()
	f.mu.Lock()
	rep, ok := f.latest[req.Subject]
	f.mu.Unlock()
	if ok && rep.fix != nil && req.MaxAge > 0 && requestedAt.Sub(rep.fix.Timestamp) <= req.MaxAge {
		fix := *rep.fix
		return &fix, nil
	}

	payload, _ := json.Marshal(locateRequestMessage{
		HighAccuracy: req.HighAccuracy,
		TimeoutMs:    req.Timeout.Milliseconds(),
		MaxAgeMs:     req.MaxAge.Milliseconds(),
	})
	if err := f.transport.Publish(f.topicFor(req.Subject, "locate"), f.qos, false, payload); err != nil {
		return nil, NewError(KindPositionUnavailable, err)
	}

	for {
		f.mu.Lock()
		rep, ok = f.latest[req.Subject]
		if ok && !rep.received.Before(requestedAt) {
			f.mu.Unlock()
			if rep.err != nil {
				return nil, rep.err
			}
			fix := *rep.fix
			return &fix, nil
		}
		ch, exists := f.signals[req.Subject]
		if !exists {
			ch = make(chan struct{})
			f.signals[req.Subject] = ch
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, NewError(KindTimeout, ctx.Err())
			}
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

func (f *DeviceFeed) topicFor(subject, leaf string) string {
	return f.prefix + "/devices/" + subject + "/" + leaf
}

func (f *DeviceFeed) subjectOf(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, f.prefix+"/devices/")
	if !ok {
		return "", false
	}
	subject, ok := strings.CutSuffix(rest, "/fix")
	if !ok || subject == "" || strings.Contains(subject, "/") {
		return "", false
	}
	return subject, true
}

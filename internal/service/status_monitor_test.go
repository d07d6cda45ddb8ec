package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/repository"
	"wisefido-attendance/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, payload: payload})
	return p.err
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func setupMonitor(t *testing.T) (*fixture, *miniredis.Miniredis, *fakePublisher, *StatusMonitor) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pub := &fakePublisher{}
	m := NewStatusMonitor(f.svc, store.NewRedisKV(client), pub, StatusMonitorConfig{
		CacheTTL:    time.Hour,
		TopicPrefix: "attendance",
		QoS:         1,
	}, zap.NewNop())
	return f, mr, pub, m
}

func TestStatusMonitor_TransitionsArePublishedOnce(t *testing.T) {
	f, mr, pub, m := setupMonitor(t)
	ctx := context.Background()

	f.clock.set("07:55")
	ts, err := m.Tick(ctx)
	require.NoError(t, err)
	// u1: a1 -> Pending, u2: a-u2 -> Pending
	require.Len(t, ts, 2)
	assert.Equal(t, 2, pub.count())
	assert.True(t, mr.Exists("attendance:status:u1:2026-10-12"))
	assert.Equal(t, time.Hour, mr.TTL("attendance:status:u1:2026-10-12"))

	// 状态不变不重复发布
	f.clock.set("07:58")
	ts, err = m.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, ts)
	assert.Equal(t, 2, pub.count())

	f.clock.set("08:01")
	ts, err = m.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "a1", ts[0].AssignmentID)
	assert.Equal(t, domain.StatusPending, ts[0].From)
	assert.Equal(t, domain.StatusConfirmationOpen, ts[0].To)

	last := pub.msgs[len(pub.msgs)-1]
	assert.Equal(t, "attendance/users/u1/status", last.topic)
	var msg StatusTransition
	require.NoError(t, json.Unmarshal(last.payload, &msg))
	assert.Equal(t, domain.StatusConfirmationOpen, msg.To)

	snap, err := m.Snapshot(ctx, "u1", "2026-10-12")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmationOpen, snap["a1"])
}

func TestStatusMonitor_SeesConfirmationAndMissed(t *testing.T) {
	f, _, _, m := setupMonitor(t)
	ctx := context.Background()

	f.clock.set("08:05")
	_, err := m.Tick(ctx)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, session("u1"), ConfirmRequest{AssignmentID: "a1", Position: northOf(centro, 80)})
	require.NoError(t, err)

	f.clock.set("12:40")
	ts, err := m.Tick(ctx)
	require.NoError(t, err)

	got := map[string]domain.DailyStatus{}
	for _, tr := range ts {
		got[tr.AssignmentID] = tr.To
	}
	assert.Equal(t, domain.StatusConfirmedOutOfRange, got["a1"])
	assert.Equal(t, domain.StatusMissed, got["a-u2"])
}

func TestStatusMonitor_ReadOnly(t *testing.T) {
	f, _, _, m := setupMonitor(t)
	ctx := context.Background()

	for _, hhmm := range []string{"08:00", "08:15", "08:30", "08:31"} {
		f.clock.set(hhmm)
		_, err := m.Tick(ctx)
		require.NoError(t, err)
	}
	recs, err := f.confirmations.ListHistory(ctx, "u1", repository.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStatusMonitor_PublishFailureDoesNotFailTick(t *testing.T) {
	f, _, pub, m := setupMonitor(t)
	pub.err = errors.New("broker down")
	f.clock.set("08:10")

	ts, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, ts)
}

func TestStatusMonitor_MemoryKVWithoutPublisher(t *testing.T) {
	f := newFixture(t)
	m := NewStatusMonitor(f.svc, store.NewMemoryKV(), nil, StatusMonitorConfig{}, zap.NewNop())

	ts, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, ts)

	_, err = m.Snapshot(context.Background(), "u1", "2026-10-13")
	assert.ErrorIs(t, err, store.ErrMiss)
}

func TestStatusMonitor_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t)
	m := NewStatusMonitor(f.svc, store.NewMemoryKV(), nil, StatusMonitorConfig{Tick: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestStatusMonitor_DaySnapshots(t *testing.T) {
	f, mr, _, m := setupMonitor(t)
	ctx := context.Background()

	f.clock.set("08:10")
	_, err := m.Tick(ctx)
	require.NoError(t, err)
	mr.Set("attendance:status:u9:2026-10-11", `{"user_id":"u9"}`)

	day, err := m.DaySnapshots(ctx, "2026-10-12")
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, domain.StatusConfirmationOpen, day["u1"]["a1"])
	assert.Equal(t, domain.StatusPending, day["u2"]["a-u2"])
}

package service

import (
	"context"
	"math"
	"sync"
	"testing"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfirm_InsideGeofence(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Confirm(context.Background(), session("u1"), ConfirmRequest{
		AssignmentID: "a1",
		Position:     northOf(centro, 30),
		Observations: "sin novedad",
	})
	require.NoError(t, err)
	assert.True(t, res.Record.WithinGeofence)
	assert.InDelta(t, 30, res.Record.DistanceM, 0.01)
	assert.InDelta(t, 50, res.Classification.AllowedRadiusM, 1e-9)
	assert.Equal(t, "2026-10-12", res.Record.Date)
	assert.Equal(t, "u1", res.Record.UserID)
	assert.NotEmpty(t, res.Record.ConfirmationID)

	stored, err := f.confirmations.FindForDate(context.Background(), "a1", "2026-10-12")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, res.Record.ConfirmationID, stored.ConfirmationID)
}

func TestConfirm_OutsideGeofence(t *testing.T) {
	f := newFixture(t)
	acc := 12.0

	res, err := f.svc.Confirm(context.Background(), session("u1"), ConfirmRequest{
		AssignmentID: "a1",
		Position:     northOf(centro, 80),
		AccuracyM:    &acc,
	})
	require.NoError(t, err)
	assert.False(t, res.Record.WithinGeofence)
	assert.InDelta(t, 80, res.Record.DistanceM, 0.01)
	assert.InDelta(t, 30, res.Classification.MarginM, 0.01)
	require.NotNil(t, res.Record.AccuracyM)
	assert.Equal(t, 12.0, *res.Record.AccuracyM)
}

func TestConfirm_SecondCallAlreadyConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Confirm(ctx, session("u1"), ConfirmRequest{AssignmentID: "a1", Position: northOf(centro, 80)})
	require.NoError(t, err)

	// 与第二次的坐标无关，包括非法坐标
	for _, p := range []domain.Coordinate{centro, northOf(centro, 5000), {Latitude: 200, Longitude: 0}} {
		_, err = f.svc.Confirm(ctx, session("u1"), ConfirmRequest{AssignmentID: "a1", Position: p})
		assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)
	}

	items, err := f.svc.TodayAssignments(ctx, session("u1"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.StatusConfirmedOutOfRange, items[0].Status)
}

func TestConfirm_PreconditionOrder(t *testing.T) {
	tests := []struct {
		name    string
		sess    *domain.Session
		id      string
		clock   string
		pos     domain.Coordinate
		wantErr error
	}{
		{"no session", nil, "a1", "08:15", centro, domain.ErrUnauthenticated},
		{"not found", session("u1"), "missing", "08:15", centro, domain.ErrNotFound},
		{"forbidden before window check", session("u2"), "a1", "07:00", centro, domain.ErrForbidden},
		{"window not open", session("u1"), "a1", "07:59", centro, domain.ErrWindowNotOpen},
		{"window closed", session("u1"), "a1", "08:35", centro, domain.ErrWindowClosed},
		{"window closed before coordinates", session("u1"), "a1", "08:35", domain.Coordinate{Latitude: 91}, domain.ErrWindowClosed},
		{"invalid coordinates", session("u1"), "a1", "08:15", domain.Coordinate{Latitude: 0, Longitude: -181}, domain.ErrInvalidCoordinates},
		{"not scheduled today", session("u1"), "a-weekend", "08:15", centro, domain.ErrWindowNotOpen},
		{"not scheduled before coordinates", session("u1"), "a-weekend", "08:15", domain.Coordinate{Latitude: math.NaN()}, domain.ErrWindowNotOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.clock.set(tt.clock)
			_, err := f.svc.Confirm(context.Background(), tt.sess, ConfirmRequest{AssignmentID: tt.id, Position: tt.pos})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfirm_RejectsAssignmentNotScheduledToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.set("08:15")

	items, err := f.svc.TodayAssignments(ctx, session("u1"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a1", items[0].Assignment.AssignmentID)

	res, err := f.svc.Confirm(ctx, session("u1"), ConfirmRequest{AssignmentID: "a-weekend", Position: centro})
	assert.ErrorIs(t, err, domain.ErrWindowNotOpen)
	assert.Nil(t, res)

	rec, err := f.confirmations.FindForDate(ctx, "a-weekend", "2026-10-12")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestConfirm_NegativeAccuracyRejected(t *testing.T) {
	f := newFixture(t)
	acc := -1.0
	_, err := f.svc.Confirm(context.Background(), session("u1"), ConfirmRequest{AssignmentID: "a1", Position: centro, AccuracyM: &acc})
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinates)
}

// blindConfirmations 模拟预检查与插入之间的竞争：预检查永远看不到已有记录
type blindConfirmations struct {
	*repository.MemoryConfirmationsRepo
}

func (blindConfirmations) FindForDate(context.Context, string, string) (*domain.ConfirmationRecord, error) {
	return nil, nil
}

func TestConfirm_StoreRejectsDuplicateWhenPrecheckMisses(t *testing.T) {
	f := newFixture(t)
	store := blindConfirmations{repository.NewMemoryConfirmationsRepo()}
	recorder := NewConfirmationService(f.assignments, store, f.clock.Now, zap.NewNop())
	ctx := context.Background()

	_, err := recorder.Confirm(ctx, session("u1"), ConfirmRequest{AssignmentID: "a1", Position: centro})
	require.NoError(t, err)

	_, err = recorder.Confirm(ctx, session("u1"), ConfirmRequest{AssignmentID: "a1", Position: centro})
	assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)
}

func TestConfirm_ConcurrentSubmissionsOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Confirm(ctx, session("u1"), ConfirmRequest{AssignmentID: "a1", Position: northOf(centro, float64(i))})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)
	}
	assert.Equal(t, 1, ok)
}

package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/geo"
	"wisefido-attendance/internal/locator"
	"wisefido-attendance/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var centro = domain.Coordinate{Latitude: 19.4326, Longitude: -99.1332}

// metersPerDegreeLat 沿经线 1 度对应的弧长
var metersPerDegreeLat = geo.EarthRadiusM * math.Pi / 180

func northOf(c domain.Coordinate, meters float64) domain.Coordinate {
	return domain.Coordinate{Latitude: c.Latitude + meters/metersPerDegreeLat, Longitude: c.Longitude}
}

// fakeClock 可调时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(hhmm string) *fakeClock {
	c := &fakeClock{}
	c.set(hhmm)
	return c
}

// set 2026-10-12（周一）的某个时刻
func (c *fakeClock) set(hhmm string) {
	t, err := time.Parse("2006-01-02 15:04", "2026-10-12 "+hhmm)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeAcquirer struct {
	got []locator.Options
	pos *locator.Position
	err error
}

func (f *fakeAcquirer) Acquire(_ context.Context, opts locator.Options) (*locator.Position, error) {
	f.got = append(f.got, opts)
	return f.pos, f.err
}

type fixture struct {
	clock         *fakeClock
	assignments   *repository.MemoryAssignmentsRepo
	confirmations *repository.MemoryConfirmationsRepo
	acquirer      *fakeAcquirer
	svc           *AttendanceService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:         newFakeClock("08:15"),
		assignments:   repository.NewMemoryAssignmentsRepo(),
		confirmations: repository.NewMemoryConfirmationsRepo(),
		acquirer:      &fakeAcquirer{},
	}
	loc := &domain.Location{LocationID: "loc-centro", Name: "Sucursal Centro", Area: domain.NewCircle(centro, 50)}
	require.NoError(t, f.assignments.Put(&domain.Assignment{
		AssignmentID:       "a1",
		UserID:             "u1",
		LocationID:         loc.LocationID,
		DaysOfWeek:         []int{1, 2, 3, 4, 5},
		WorkWindow:         domain.Window{Start: domain.MustTimeOfDay("08:00"), End: domain.MustTimeOfDay("17:00")},
		ConfirmationWindow: domain.Window{Start: domain.MustTimeOfDay("08:00"), End: domain.MustTimeOfDay("08:30")},
		Location:           loc,
	}))
	require.NoError(t, f.assignments.Put(&domain.Assignment{
		AssignmentID:       "a-weekend",
		UserID:             "u1",
		LocationID:         loc.LocationID,
		DaysOfWeek:         []int{6, 7},
		ConfirmationWindow: domain.Window{Start: domain.MustTimeOfDay("08:00"), End: domain.MustTimeOfDay("08:30")},
		Location:           loc,
	}))
	require.NoError(t, f.assignments.Put(&domain.Assignment{
		AssignmentID:       "a-u2",
		UserID:             "u2",
		LocationID:         loc.LocationID,
		DaysOfWeek:         []int{1},
		ConfirmationWindow: domain.Window{Start: domain.MustTimeOfDay("12:00"), End: domain.MustTimeOfDay("12:30")},
		Location:           loc,
	}))

	f.svc = NewAttendanceService(
		f.assignments,
		f.confirmations,
		f.acquirer,
		locator.Options{HighAccuracy: true, Timeout: 15 * time.Second, MaxAttempts: 3},
		f.clock.Now,
		zap.NewNop(),
	)
	return f
}

func session(userID string) *domain.Session {
	return &domain.Session{UserID: userID, Role: "staff"}
}

package locator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// scriptedPrecise replays one step per attempt; the last step repeats.
type scriptedPrecise struct {
	mu       sync.Mutex
	steps    []func(ctx context.Context) (*Fix, error)
	requests []Request
}

func (s *scriptedPrecise) CurrentPosition(ctx context.Context, req Request) (*Fix, error) {
	s.mu.Lock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	step := s.steps[i]
	s.mu.Unlock()
	return step(ctx)
}

func (s *scriptedPrecise) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func fixStep(f Fix) func(context.Context) (*Fix, error) {
	return func(context.Context) (*Fix, error) { return &f, nil }
}

func errStep(kind ErrorKind) func(context.Context) (*Fix, error) {
	return func(context.Context) (*Fix, error) { return nil, NewError(kind, errors.New("scripted")) }
}

func blockStep(ctx context.Context) (*Fix, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeNetwork struct {
	name  string
	fix   *Fix
	err   error
	calls int
	block bool
}

func (f *fakeNetwork) Name() string { return f.name }

func (f *fakeNetwork) Locate(ctx context.Context, _ Query) (*Fix, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fix == nil {
		return nil, f.err
	}
	fix := *f.fix
	return &fix, nil
}

func fastConfig() PipelineConfig {
	return PipelineConfig{
		ProviderTimeout: 50 * time.Millisecond,
		RetryBase:       time.Millisecond,
		RetryMax:        2 * time.Millisecond,
	}
}

func TestPipeline_ReturnsGoodPreciseReading(t *testing.T) {
	precise := &scriptedPrecise{steps: []func(context.Context) (*Fix, error){
		fixStep(Fix{Latitude: -17.78, Longitude: -63.18, AccuracyM: 8, AltitudeM: f64(400)}),
	}}
	net := &fakeNetwork{name: "n1", fix: &Fix{Latitude: 1, Longitude: 1}}
	p := NewPipeline(precise, []NetworkProvider{net}, fastConfig(), zap.NewNop())

	pos, err := p.Acquire(context.Background(), Options{Subject: "u1", HighAccuracy: true, MaxAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, SourcePrecise, pos.Source)
	assert.Equal(t, 40, pos.Quality.Score)
	assert.Equal(t, LevelFair, pos.Quality.Level)
	assert.Equal(t, 1, pos.Attempts)
	assert.Equal(t, 1, precise.calls())
	assert.Equal(t, 0, net.calls)
}

func TestPipeline_RetriesPoorReadingWithRelaxedRequest(t *testing.T) {
	precise := &scriptedPrecise{steps: []func(context.Context) (*Fix, error){
		fixStep(Fix{Latitude: 10, Longitude: 10, AccuracyM: 400}),
		fixStep(Fix{Latitude: 10, Longitude: 10, AccuracyM: 250}),
		fixStep(Fix{Latitude: 10, Longitude: 10, AccuracyM: 9}),
	}}
	p := NewPipeline(precise, nil, fastConfig(), zap.NewNop())

	pos, err := p.Acquire(context.Background(), Options{
		HighAccuracy: true,
		Timeout:      time.Second,
		MaxAge:       0,
		MaxAttempts:  3,
	})
	require.NoError(t, err)
	assert.Equal(t, 9.0, pos.AccuracyM)
	assert.Equal(t, 3, pos.Attempts)

	require.Len(t, precise.requests, 3)
	assert.True(t, precise.requests[0].HighAccuracy)
	assert.False(t, precise.requests[1].HighAccuracy)
	assert.False(t, precise.requests[2].HighAccuracy)
	assert.Equal(t, time.Second, precise.requests[0].Timeout)
	assert.Equal(t, 2*time.Second, precise.requests[1].Timeout)
	assert.Equal(t, 3*time.Second, precise.requests[2].Timeout)
	assert.Equal(t, time.Duration(0), precise.requests[0].MaxAge)
	assert.Less(t, precise.requests[0].MaxAge, precise.requests[1].MaxAge)
	assert.Less(t, precise.requests[1].MaxAge, precise.requests[2].MaxAge)
}

func TestPipeline_PoorButWithin100mIsNotRetried(t *testing.T) {
	precise := &scriptedPrecise{steps: []func(context.Context) (*Fix, error){
		fixStep(Fix{Latitude: 10, Longitude: 10, AccuracyM: 90}),
	}}
	p := NewPipeline(precise, nil, fastConfig(), zap.NewNop())

	pos, err := p.Acquire(context.Background(), Options{MaxAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, LevelPoor, pos.Quality.Level)
	assert.Equal(t, 1, precise.calls())
}

func TestPipeline_PoorReadingOnLastAttemptIsReturned(t *testing.T) {
	precise := &scriptedPrecise{steps: []func(context.Context) (*Fix, error){
		fixStep(Fix{Latitude: 10, Longitude: 10, AccuracyM: 800}),
	}}
	net := &fakeNetwork{name: "n1", fix: &Fix{Latitude: 1, Longitude: 1}}
	p := NewPipeline(precise, []NetworkProvider{net}, fastConfig(), zap.NewNop())

	pos, err := p.Acquire(context.Background(), Options{MaxAttempts: 2})
	require.NoError(t, err)
	assert.Equal(t, SourcePrecise, pos.Source)
	assert.Equal(t, 800.0, pos.AccuracyM)
	assert.Equal(t, 2, precise.calls())
	assert.Equal(t, 0, net.calls)
}

func TestPipeline_PoorReadingKeptWhenLaterAttemptsFail(t *testing.T) {
	precise := &scriptedPrecise{steps: []func(context.Context) (*Fix, error){
		fixStep(Fix{Latitude: 10, Longitude: 10, AccuracyM: 800}),
		errStep(KindTimeout),
	}}
	net := &fakeNetwork{name: "n1", fix: &Fix{Latitude: 1, Longitude: 1}}
	p := NewPipeline(precise, []NetworkProvider{net}, fastConfig(), zap.NewNop())

	pos, err := p.Acquire(context.Background(), Options{MaxAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, SourcePrecise, pos.Source)
	assert.Equal(t, 800.0, pos.AccuracyM)
	assert.Equal(t, 0, net.calls)
}

func TestPipeline_PermissionDeniedAbortsWithoutFallback(t *testing.T) {
	precise := &scriptedPrecise{steps: []func(context.Context) (*Fix, error){
		errStep(KindPermissionDenied),
	}}
	net := &fakeNetwork{name: "n1", fix: &Fix{Latitude: 1, Longitude: 1}}
	p := NewPipeline(precise, []NetworkProvider{net}, fastConfig(), zap.NewNop())

	_, err := p.Acquire(context.Background(), Options{MaxAttempts: 3})
	require.Error(t, err)

	var le *Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, KindPermissionDenied, le.Kind)
	assert.NotEmpty(t, le.Guidance)
	assert.Equal(t, 1, precise.calls())
	assert.Equal(t, 0, net.calls)
}

func TestPipeline_FallsBackToThirdProviderAfterInvalidOnes(t *testing.T) {
	precise := &scriptedPrecise{steps: []func(context.Context) (*Fix, error){
		errStep(KindPositionUnavailable),
	}}
	n1 := &fakeNetwork{name: "n1", fix: &Fix{Latitude: 123, Longitude: 10}}
	n2 := &fakeNetwork{name: "n2", err: ErrInvalidFix}
	n3 := &fakeNetwork{name: "n3", fix: &Fix{Latitude: -17.78, Longitude: -63.18}}
	n4 := &fakeNetwork{name: "n4", fix: &Fix{Latitude: 5, Longitude: 5}}
	p := NewPipeline(precise, []NetworkProvider{n1, n2, n3, n4}, fastConfig(), zap.NewNop())

	pos, err := p.Acquire(context.Background(), Options{MaxAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, pos.Source)
	assert.Equal(t, "n3", pos.Provider)
	assert.Equal(t, -17.78, pos.Latitude)
	assert.Equal(t, float64(defaultNetworkAccuracyM), pos.AccuracyM)
	assert.Equal(t, 3, precise.calls())
	assert.Equal(t, 1, n1.calls)
	assert.Equal(t, 1, n2.calls)
	assert.Equal(t, 1, n3.calls)
	assert.Equal(t, 0, n4.calls)
}

func TestPipeline_ExhaustedChainReportsDiagnostics(t *testing.T) {
	precise := &scriptedPrecise{steps: []func(context.Context) (*Fix, error){
		errStep(KindTimeout),
	}}
	n1 := &fakeNetwork{name: "n1", err: ErrProviderUnreachable}
	n2 := &fakeNetwork{name: "n2", fix: &Fix{Latitude: 10, Longitude: 200}}
	p := NewPipeline(precise, []NetworkProvider{n1, n2}, fastConfig(), zap.NewNop())

	_, err := p.Acquire(context.Background(), Options{MaxAttempts: 2, SecureContext: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkExhausted)

	var le *Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, KindPositionUnavailable, le.Kind)
	require.NotNil(t, le.Diagnostics)
	assert.True(t, le.Diagnostics.SecureContext)
	assert.True(t, le.Diagnostics.PreciseAvailable)
	assert.True(t, le.Diagnostics.Online)
	require.Len(t, le.Diagnostics.Providers, 2)
	assert.False(t, le.Diagnostics.Providers[0].Reachable)
	assert.True(t, le.Diagnostics.Providers[1].Reachable)
}

func TestPipeline_SlowProviderIsBoundedByTimeout(t *testing.T) {
	slow := &fakeNetwork{name: "slow", block: true}
	ok := &fakeNetwork{name: "ok", fix: &Fix{Latitude: 1, Longitude: 2, AccuracyM: 1200}}
	p := NewPipeline(nil, []NetworkProvider{slow, ok}, fastConfig(), zap.NewNop())

	pos, err := p.Acquire(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", pos.Provider)
	assert.Equal(t, 1200.0, pos.AccuracyM)
}

func TestPipeline_CancellationLeaksNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	precise := &scriptedPrecise{steps: []func(context.Context) (*Fix, error){blockStep}}
	net := &fakeNetwork{name: "n1", fix: &Fix{Latitude: 1, Longitude: 1}}
	p := NewPipeline(precise, []NetworkProvider{net}, fastConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, Options{Timeout: time.Minute, MaxAttempts: 5})
		done <- err
	}()

	require.Eventually(t, func() bool { return precise.calls() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after cancellation")
	}
	assert.Equal(t, 0, net.calls)
}

func TestPipeline_CancelledDuringWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	precise := &scriptedPrecise{steps: []func(context.Context) (*Fix, error){errStep(KindTimeout)}}
	p := NewPipeline(precise, nil, PipelineConfig{RetryBase: time.Hour, RetryMax: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Acquire(ctx, Options{MaxAttempts: 3})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, precise.calls())
}

func TestPipeline_RetryDelayGrowsAndCaps(t *testing.T) {
	p := NewPipeline(nil, nil, PipelineConfig{}, zap.NewNop())
	assert.Equal(t, 1500*time.Millisecond, p.retryDelay(1))
	assert.Equal(t, 2250*time.Millisecond, p.retryDelay(2))
	assert.Equal(t, 3*time.Second, p.retryDelay(3))
	assert.Equal(t, 3*time.Second, p.retryDelay(9))
}

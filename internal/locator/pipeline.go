package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts      = 3
	defaultTimeout          = 15 * time.Second
	defaultProviderTimeout  = 10 * time.Second
	defaultRetryBase        = 1500 * time.Millisecond
	defaultRetryMax         = 3 * time.Second
	defaultStaleStep        = 30 * time.Second
	defaultNetworkAccuracyM = 5000

	// poorRetryAccuracyM a Poor reading is only retried when it is also worse than this.
	poorRetryAccuracyM = 100
)

// PipelineConfig 定位管线参数，零值取默认
type PipelineConfig struct {
	ProviderTimeout time.Duration
	RetryBase       time.Duration
	RetryMax        time.Duration
	// StaleStep is how much older a cached fix each retry may accept.
	StaleStep time.Duration
}

// Pipeline 定位管线：精确定位重试 + 网络定位降级链
type Pipeline struct {
	precise PreciseProvider
	network []NetworkProvider
	cfg     PipelineConfig
	logger  *zap.Logger
}

// NewPipeline 创建定位管线；precise 可为 nil（直接走降级链）
func NewPipeline(precise PreciseProvider, network []NetworkProvider, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = defaultRetryMax
		if cfg.RetryMax < cfg.RetryBase {
			cfg.RetryMax = cfg.RetryBase
		}
	}
	if cfg.StaleStep <= 0 {
		cfg.StaleStep = defaultStaleStep
	}
	return &Pipeline{precise: precise, network: network, cfg: cfg, logger: logger}
}

// Providers returns the configured network provider names in order.
func (p *Pipeline) Providers() []string {
	names := make([]string, 0, len(p.network))
	for _, np := range p.network {
		names = append(names, np.Name())
	}
	return names
}

// state 管线状态机
// attempting(n) -> waiting -> attempting(n+1) ... -> fallback -> done | failed
type state int

const (
	stateAttempting state = iota
	stateWaiting
	stateFallback
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateAttempting:
		return "attempting"
	case stateWaiting:
		return "waiting"
	case stateFallback:
		return "fallback"
	case stateDone:
		return "done"
	default:
		return "failed"
	}
}

// acquisition 单次 Acquire 调用的运行态
type acquisition struct {
	opts    Options
	attempt int
	// best poor reading seen so far; returned if later attempts fail
	best    *Position
	lastErr error
	result  *Position
	err     error
}

// Acquire 获取定位；ctx 取消时立即返回且不遗留进行中的尝试
func (p *Pipeline) Acquire(ctx context.Context, opts Options) (*Position, error) {
	run := &acquisition{opts: normalizeOptions(opts), attempt: 1}

	st := stateAttempting
	if p.precise == nil {
		run.lastErr = errors.New("no precise provider configured")
		st = stateFallback
	}

	for {
		switch st {
		case stateAttempting:
			st = p.attempt(ctx, run)
		case stateWaiting:
			delay := p.retryDelay(run.attempt)
			p.logger.Debug("Waiting before next location attempt",
				zap.Int("attempt", run.attempt),
				zap.Duration("delay", delay),
			)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			run.attempt++
			st = stateAttempting
		case stateFallback:
			st = p.fallback(ctx, run)
		case stateDone:
			return run.result, nil
		case stateFailed:
			return nil, run.err
		}
	}
}

// attempt 执行第 n 次精确定位
func (p *Pipeline) attempt(ctx context.Context, run *acquisition) state {
	req := p.requestFor(run.opts, run.attempt)

	actx, cancel := context.WithTimeout(ctx, req.Timeout)
	fix, err := p.precise.CurrentPosition(actx, req)
	cancel()

	if ctx.Err() != nil {
		run.err = ctx.Err()
		return stateFailed
	}
	if err == nil && (fix == nil || !fix.Coordinate().Valid()) {
		err = NewError(KindPositionUnavailable, ErrInvalidFix)
	}

	remaining := run.attempt < run.opts.MaxAttempts

	if err != nil {
		kind := KindOf(err)
		p.logger.Info("Precise location attempt failed",
			zap.String("subject", run.opts.Subject),
			zap.Int("attempt", run.attempt),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		run.lastErr = err

		// 权限被拒绝换定位源也无法恢复，直接返回
		if kind == KindPermissionDenied {
			run.err = NewError(KindPermissionDenied, err)
			return stateFailed
		}
		if remaining {
			return stateWaiting
		}
		if run.best != nil {
			run.result = run.best
			return stateDone
		}
		return stateFallback
	}

	pos := &Position{
		Fix:      *fix,
		Source:   SourcePrecise,
		Quality:  Assess(fix),
		Attempts: run.attempt,
	}
	p.logger.Debug("Precise location reading",
		zap.String("subject", run.opts.Subject),
		zap.Int("attempt", run.attempt),
		zap.Float64("accuracy_m", fix.AccuracyM),
		zap.Int("quality_score", pos.Quality.Score),
		zap.String("quality_level", string(pos.Quality.Level)),
	)

	if pos.Quality.Level == LevelPoor && fix.AccuracyM > poorRetryAccuracyM && remaining {
		run.best = pos
		return stateWaiting
	}
	run.result = pos
	return stateDone
}

// fallback 依次（串行）尝试网络定位源，第一个返回有效坐标的胜出
func (p *Pipeline) fallback(ctx context.Context, run *acquisition) state {
	diag := &Diagnostics{
		SecureContext:    run.opts.SecureContext,
		PreciseAvailable: p.precise != nil,
		Providers:        make([]ProviderReport, 0, len(p.network)),
	}
	q := Query{Subject: run.opts.Subject, ClientIP: run.opts.ClientIP}

	for _, np := range p.network {
		if ctx.Err() != nil {
			run.err = ctx.Err()
			return stateFailed
		}

		pctx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
		fix, err := np.Locate(pctx, q)
		cancel()

		if ctx.Err() != nil {
			run.err = ctx.Err()
			return stateFailed
		}
		if err == nil && (fix == nil || !fix.Coordinate().Valid()) {
			err = ErrInvalidFix
		}

		report := ProviderReport{Name: np.Name(), Reachable: !errors.Is(err, ErrProviderUnreachable)}
		if err != nil {
			report.Error = err.Error()
			diag.Providers = append(diag.Providers, report)
			if report.Reachable {
				diag.Online = true
			}
			p.logger.Info("Network location provider failed",
				zap.String("provider", np.Name()),
				zap.Error(err),
			)
			continue
		}

		if !(fix.AccuracyM > 0) {
			fix.AccuracyM = defaultNetworkAccuracyM
		}
		run.result = &Position{
			Fix:      *fix,
			Source:   SourceNetwork,
			Quality:  Assess(fix),
			Attempts: run.attempt,
			Provider: np.Name(),
		}
		p.logger.Info("Location resolved by network provider",
			zap.String("subject", run.opts.Subject),
			zap.String("provider", np.Name()),
			zap.Float64("accuracy_m", fix.AccuracyM),
		)
		return stateDone
	}

	run.err = &Error{
		Kind:        KindPositionUnavailable,
		Guidance:    Guidance(KindPositionUnavailable),
		Diagnostics: diag,
		Err:         fmt.Errorf("%w (last precise error: %v)", ErrNetworkExhausted, run.lastErr),
	}
	p.logger.Warn("Location acquisition exhausted",
		zap.String("subject", run.opts.Subject),
		zap.Int("providers", len(p.network)),
		zap.Bool("online", diag.Online),
	)
	return stateFailed
}

// requestFor 第 n 次尝试逐步放宽：仅首次高精度，超时按次数放大，允许更旧的缓存
func (p *Pipeline) requestFor(opts Options, n int) Request {
	return Request{
		Subject:      opts.Subject,
		HighAccuracy: opts.HighAccuracy && n == 1,
		Timeout:      opts.Timeout * time.Duration(n),
		MaxAge:       opts.MaxAge + time.Duration(n-1)*p.cfg.StaleStep,
	}
}

// retryDelay 第 n 次失败后的等待时间，递增并封顶
func (p *Pipeline) retryDelay(n int) time.Duration {
	d := p.cfg.RetryBase + time.Duration(n-1)*(p.cfg.RetryBase/2)
	if d > p.cfg.RetryMax {
		d = p.cfg.RetryMax
	}
	return d
}

func normalizeOptions(o Options) Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxAge < 0 {
		o.MaxAge = 0
	}
	return o
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"wisefido-attendance/internal/config"
	"wisefido-attendance/internal/database"
	httpapi "wisefido-attendance/internal/http"
	"wisefido-attendance/internal/locator"
	"wisefido-attendance/internal/mqtt"
	"wisefido-attendance/internal/repository"
	"wisefido-attendance/internal/service"
	"wisefido-attendance/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// App 组装好的服务依赖
// DB / Redis / MQTT 都是可选的：不可用时分别回退到内存存储、内存 KV、仅网络定位
type App struct {
	Config     *config.Config
	Clock      service.Clock
	DB         *sql.DB
	Redis      *redis.Client
	MQTT       *mqtt.Client
	Pipeline   *locator.Pipeline
	Attendance *service.AttendanceService
	Monitor    *service.StatusMonitor
	Router     *httpapi.Router

	logger *zap.Logger
}

// New 按配置建立连接并装配服务
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	if cfg.DBEnabled {
		if db, err := database.NewPostgresDB(ctx, &cfg.Database); err == nil {
			a.DB = db
			logger.Info("DB enabled for wisefido-attendance")
		} else {
			logger.Warn("DB enabled but connection failed, falling back to memory storage", zap.Error(err))
		}
	}

	if cfg.RedisEnabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err == nil {
			a.Redis = client
			logger.Info("Redis enabled for wisefido-attendance", zap.String("addr", cfg.Redis.Addr))
		} else {
			_ = client.Close()
			logger.Warn("Redis enabled but ping failed, using in-process cache", zap.Error(err))
		}
	}

	if cfg.MQTT.Enabled {
		if c, err := mqtt.NewClient(&cfg.MQTT, logger); err == nil {
			a.MQTT = c
		} else {
			logger.Warn("MQTT enabled but connection failed, device positioning disabled", zap.Error(err))
		}
	}

	assignments, err := a.assignmentsRepo()
	if err != nil {
		a.Close()
		return nil, err
	}
	confirmations := a.confirmationsRepo()

	pipeline, err := a.buildPipeline()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = pipeline

	a.Clock = service.SystemClock(cfg.Attendance.Location())
	a.Attendance = service.NewAttendanceService(
		assignments,
		confirmations,
		pipeline,
		locator.Options{
			HighAccuracy: cfg.Locator.HighAccuracy,
			Timeout:      cfg.Locator.Timeout,
			MaxAge:       cfg.Locator.MaxAge,
			MaxAttempts:  cfg.Locator.MaxAttempts,
		},
		a.Clock,
		logger,
	)

	var kv store.KV = store.NewMemoryKV()
	if a.Redis != nil {
		kv = store.NewRedisKV(a.Redis)
	}
	var publisher service.StatusPublisher
	if a.MQTT != nil {
		publisher = a.MQTT
	}
	a.Monitor = service.NewStatusMonitor(a.Attendance, kv, publisher, service.StatusMonitorConfig{
		Tick:        cfg.Attendance.StatusTick,
		CacheTTL:    cfg.Attendance.StatusCacheTTL,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         cfg.MQTT.QoS,
	}, logger)

	a.Router = httpapi.NewRouter(logger)
	a.Router.RegisterHealthRoutes()
	a.Router.RegisterAttendanceRoutes(
		httpapi.NewAttendanceHandler(a.Attendance, logger),
		httpapi.NewSessionMiddleware(cfg.Auth.JWTSecret, logger),
	)
	return a, nil
}

func (a *App) assignmentsRepo() (repository.AssignmentsRepository, error) {
	if a.DB != nil {
		return repository.NewPostgresAssignmentsRepository(a.DB), nil
	}

	// DB 未就绪：内存排班，可选从 YAML 种子加载
	repo := repository.NewMemoryAssignmentsRepo()
	if path := a.Config.Attendance.SeedFile; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open seed file: %w", err)
		}
		defer f.Close()
		n, err := repo.LoadSeed(f)
		if err != nil {
			return nil, fmt.Errorf("failed to load seed file %s: %w", path, err)
		}
		a.logger.Info("Loaded assignments from seed file", zap.String("path", path), zap.Int("assignments", n))
	} else {
		a.logger.Warn("No database and no seed file: assignment storage is empty")
	}
	return repo, nil
}

func (a *App) confirmationsRepo() repository.ConfirmationsRepository {
	switch {
	case a.DB != nil:
		return repository.NewPostgresConfirmationsRepository(a.DB)
	case a.Redis != nil:
		a.logger.Info("Storing confirmations in Redis")
		return repository.NewRedisConfirmationsRepo(a.Redis)
	default:
		a.logger.Warn("Storing confirmations in memory; records are lost on restart")
		return repository.NewMemoryConfirmationsRepo()
	}
}

func (a *App) buildPipeline() (*locator.Pipeline, error) {
	cfg := a.Config

	var precise locator.PreciseProvider
	if a.MQTT != nil {
		feed := locator.NewDeviceFeed(a.MQTT, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, a.logger)
		if err := feed.Start(); err != nil {
			return nil, err
		}
		precise = feed
	}

	network := make([]locator.NetworkProvider, 0, len(cfg.Locator.Providers))
	for _, p := range cfg.Locator.Providers {
		network = append(network, locator.NewHTTPProvider(locator.HTTPProviderConfig{
			Name:          p.Name,
			URL:           p.URL,
			LatField:      p.LatField,
			LngField:      p.LngField,
			AccuracyField: p.AccuracyField,
		}, a.logger))
	}

	pipeline := locator.NewPipeline(precise, network, locator.PipelineConfig{
		ProviderTimeout: cfg.Locator.ProviderTimeout,
		RetryBase:       cfg.Locator.RetryBase,
		RetryMax:        cfg.Locator.RetryMax,
	}, a.logger)
	a.logger.Info("Location pipeline ready",
		zap.Bool("precise", precise != nil),
		zap.Strings("network_providers", pipeline.Providers()),
	)
	return pipeline, nil
}

// Close 释放连接
func (a *App) Close() {
	if a.MQTT != nil {
		a.MQTT.Disconnect()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

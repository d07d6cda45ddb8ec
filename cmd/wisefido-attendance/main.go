package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wisefido-attendance/internal/app"
	"wisefido-attendance/internal/config"
	"wisefido-attendance/internal/logger"
	"wisefido-attendance/internal/service"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 本地开发从 .env 读取；不存在时忽略
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-attendance")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize service", zap.Error(err))
	}
	defer application.Close()

	srv := service.NewServer(cfg.HTTP.Addr, application.Router, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return application.Monitor.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("wisefido-attendance exited with error", zap.Error(err))
		return
	}
	log.Info("wisefido-attendance stopped")
}

package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const shutdownGrace = 5 * time.Second

// Server HTTP 服务生命周期；Run 随 ctx 结束优雅退出
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		// position 接口最长会等待整条定位链
		WriteTimeout: 3 * time.Minute,
	}
	return &Server{httpServer: s, logger: logger}
}

// Run 监听 Addr 并阻塞，直到 ctx 取消或监听失败
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定 listener 上服务；ctx 取消后在 shutdownGrace 内等待进行中的请求
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Attendance HTTP server listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	s.logger.Info("Shutting down attendance HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

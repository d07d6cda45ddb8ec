package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != m {
			w.Header().Set("Allow", m)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterHealthRoutes /health
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

// RegisterAttendanceRoutes 注册到岗确认路由，全部需要身份
func (r *Router) RegisterAttendanceRoutes(h *AttendanceHandler, sessions *SessionMiddleware) {
	const base = "/attendance/api/v1"
	r.Handle(base+"/today", method(http.MethodGet, sessions.Wrap(h.Today)))
	r.Handle(base+"/confirm", method(http.MethodPost, sessions.Wrap(h.Confirm)))
	r.Handle(base+"/history", method(http.MethodGet, sessions.Wrap(h.History)))
	r.Handle(base+"/position", method(http.MethodPost, sessions.Wrap(h.Position)))
}

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"wisefido-attendance/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type sessionKey struct{}

// WithSession 把调用方身份放进请求 ctx
func WithSession(ctx context.Context, s *domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom 取出 SessionMiddleware 写入的身份，没有时返回 nil
func SessionFrom(ctx context.Context) *domain.Session {
	s, _ := ctx.Value(sessionKey{}).(*domain.Session)
	return s
}

// sessionClaims JWT 载荷
type sessionClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SessionMiddleware 构建请求级 Session
// 配置了 secret 时只接受 HS256 Bearer token；否则信任网关注入的 X-User-Id / X-User-Role
type SessionMiddleware struct {
	secret []byte
	logger *zap.Logger
}

func NewSessionMiddleware(secret string, logger *zap.Logger) *SessionMiddleware {
	return &SessionMiddleware{secret: []byte(secret), logger: logger}
}

func (m *SessionMiddleware) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.sessionOf(r)
		if err != nil {
			m.logger.Debug("Rejecting request without valid identity",
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			writeJSON(w, http.StatusUnauthorized, Fail(CodeUnauthenticated, err.Error()))
			return
		}
		next(w, r.WithContext(WithSession(r.Context(), sess)))
	}
}

func (m *SessionMiddleware) sessionOf(r *http.Request) (*domain.Session, error) {
	if len(m.secret) == 0 {
		sess := &domain.Session{
			UserID: strings.TrimSpace(r.Header.Get("X-User-Id")),
			Role:   strings.TrimSpace(r.Header.Get("X-User-Role")),
		}
		if !sess.Valid() {
			return nil, domain.ErrUnauthenticated
		}
		return sess, nil
	}

	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, domain.ErrUnauthenticated
	}
	raw = strings.TrimSpace(raw)

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	sess := &domain.Session{UserID: claims.UserID, Role: claims.Role, Token: raw}
	if !sess.Valid() {
		return nil, errors.Join(domain.ErrUnauthenticated, errors.New("token carries no user_id"))
	}
	return sess, nil
}

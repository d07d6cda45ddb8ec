package domain

// Session 调用方身份，由 HTTP 层按请求构建后显式传入 service
type Session struct {
	UserID string
	Role   string
	Token  string
}

func (s *Session) Valid() bool {
	return s != nil && s.UserID != ""
}

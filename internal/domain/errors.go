package domain

import "errors"

// 确认流程的前置条件失败，原样返回给调用方，不做重试
var (
	ErrNotFound           = errors.New("assignment not found")
	ErrForbidden          = errors.New("assignment does not belong to caller")
	ErrWindowNotOpen      = errors.New("confirmation window not open yet")
	ErrWindowClosed       = errors.New("confirmation window closed")
	ErrAlreadyConfirmed   = errors.New("assignment already confirmed today")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrUnauthenticated    = errors.New("missing caller identity")
)

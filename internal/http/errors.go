package httpapi

import (
	"context"
	"errors"
	"net/http"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/locator"
	"wisefido-attendance/internal/service"

	"go.uber.org/zap"
)

// locationFailure 定位失败响应，附带处理建议和自检信息
type locationFailure struct {
	Success     bool                 `json:"success"`
	Message     string               `json:"message"`
	Code        string               `json:"code"`
	Guidance    string               `json:"guidance"`
	Diagnostics *locator.Diagnostics `json:"diagnostics,omitempty"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// 前置条件错误原样返回给调用方
var domainErrors = []errorMapping{
	{domain.ErrUnauthenticated, http.StatusUnauthorized, CodeUnauthenticated},
	{domain.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{domain.ErrForbidden, http.StatusForbidden, CodeForbidden},
	{domain.ErrWindowNotOpen, http.StatusConflict, CodeWindowNotOpen},
	{domain.ErrWindowClosed, http.StatusConflict, CodeWindowClosed},
	{domain.ErrAlreadyConfirmed, http.StatusConflict, CodeAlreadyConfirmed},
	{domain.ErrInvalidCoordinates, http.StatusBadRequest, CodeInvalidCoordinates},
	{service.ErrInvalidDateRange, http.StatusBadRequest, CodeBadRequest},
}

func (h *AttendanceHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			writeJSON(w, m.status, Fail(m.code, err.Error()))
			return
		}
	}

	var locErr *locator.Error
	if errors.As(err, &locErr) {
		status, code := http.StatusServiceUnavailable, CodePositionUnavailable
		switch locErr.Kind {
		case locator.KindPermissionDenied:
			status, code = http.StatusForbidden, CodePermissionDenied
		case locator.KindTimeout:
			code = CodeTimeout
		case locator.KindPositionUnavailable:
			if errors.Is(locErr, locator.ErrNetworkExhausted) {
				code = CodeNetworkError
			}
		}
		writeJSON(w, status, locationFailure{
			Message:     err.Error(),
			Code:        code,
			Guidance:    locErr.Guidance,
			Diagnostics: locErr.Diagnostics,
		})
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusServiceUnavailable, locationFailure{
			Message:  err.Error(),
			Code:     CodeTimeout,
			Guidance: locator.Guidance(locator.KindTimeout),
		})
		return
	}
	if errors.Is(err, context.Canceled) {
		// 客户端已断开，写回也无人接收
		return
	}

	h.logger.Error("Attendance request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, Fail(CodeInternal, "internal error"))
}

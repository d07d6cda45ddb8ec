package httpapi

// Result 成功响应 {"success":true,"data":...}
type Result[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

// Failure 失败响应 {"success":false,"message":"...","code":"..."}
type Failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// 错误码
const (
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeBadRequest          = "BAD_REQUEST"
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeWindowNotOpen       = "WINDOW_NOT_OPEN"
	CodeWindowClosed        = "WINDOW_CLOSED"
	CodeAlreadyConfirmed    = "ALREADY_CONFIRMED"
	CodeInvalidCoordinates  = "INVALID_COORDINATES"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodePositionUnavailable = "POSITION_UNAVAILABLE"
	CodeTimeout             = "TIMEOUT"
	CodeNetworkError        = "NETWORK_ERROR"
	CodeInternal            = "INTERNAL_ERROR"
)

func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

func Fail(code, message string) Failure {
	return Failure{Code: code, Message: message}
}

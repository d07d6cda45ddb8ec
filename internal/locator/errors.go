package locator

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind 定位失败分类
type ErrorKind string

const (
	KindPermissionDenied    ErrorKind = "PermissionDenied"
	KindPositionUnavailable ErrorKind = "PositionUnavailable"
	KindTimeout             ErrorKind = "Timeout"
	KindUnknown             ErrorKind = "Unknown"
)

var (
	// ErrNetworkExhausted every network provider failed or returned unusable data.
	ErrNetworkExhausted = errors.New("network fallback chain exhausted")
	// ErrProviderUnreachable the provider could not be contacted at all.
	ErrProviderUnreachable = errors.New("provider unreachable")
	// ErrInvalidFix the provider answered but the coordinates are missing or out of range.
	ErrInvalidFix = errors.New("invalid coordinates from provider")
)

var guidance = map[ErrorKind]string{
	KindPermissionDenied:    "Location permission was denied. Allow location access for this app in the device settings, then try again.",
	KindPositionUnavailable: "No position could be determined. Turn on location services, move to an open area with network coverage, then try again.",
	KindTimeout:             "Locating took too long. Check the GPS signal and try again.",
	KindUnknown:             "An unexpected location error occurred. Try again.",
}

// Guidance returns the remediation text shown for a failure kind.
func Guidance(kind ErrorKind) string {
	if g, ok := guidance[kind]; ok {
		return g
	}
	return guidance[KindUnknown]
}

// Diagnostics 定位彻底失败时附带的自检信息
type Diagnostics struct {
	Online           bool             `json:"online"`
	SecureContext    bool             `json:"secure_context"`
	PreciseAvailable bool             `json:"precise_available"`
	Providers        []ProviderReport `json:"providers"`
}

// ProviderReport outcome of one network provider call.
type ProviderReport struct {
	Name      string `json:"name"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// Error 定位失败（类型化）
type Error struct {
	Kind        ErrorKind
	Guidance    string
	Diagnostics *Diagnostics
	Err         error
}

// NewError wraps err with a kind and its default guidance.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Guidance: Guidance(kind), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("location %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies any provider error.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

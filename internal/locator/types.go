// Package locator acquires a trustworthy position for a caller: a retried
// precise provider first, then an ordered chain of coarse network providers.
package locator

import (
	"context"
	"time"

	"wisefido-attendance/internal/domain"
)

// Source 定位来源
type Source string

const (
	SourcePrecise Source = "precise"
	SourceNetwork Source = "network"
)

// Fix 一次原始定位读数
type Fix struct {
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	AccuracyM         float64   `json:"accuracy_m"`
	AltitudeM         *float64  `json:"altitude_m,omitempty"`
	AltitudeAccuracyM *float64  `json:"altitude_accuracy_m,omitempty"`
	Heading           *float64  `json:"heading,omitempty"`
	SpeedMPS          *float64  `json:"speed_mps,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

func (f *Fix) Coordinate() domain.Coordinate {
	return domain.Coordinate{Latitude: f.Latitude, Longitude: f.Longitude}
}

// Request is what a single precise attempt asks for.
type Request struct {
	Subject      string
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

// PreciseProvider 精确定位源（设备 GNSS）
type PreciseProvider interface {
	CurrentPosition(ctx context.Context, req Request) (*Fix, error)
}

// Query is passed to network providers.
type Query struct {
	Subject  string
	ClientIP string
}

// NetworkProvider 粗略定位源（IP/网络定位），按配置顺序依次尝试
type NetworkProvider interface {
	Name() string
	Locate(ctx context.Context, q Query) (*Fix, error)
}

// Options 一次定位请求的参数
type Options struct {
	Subject       string
	ClientIP      string
	HighAccuracy  bool
	Timeout       time.Duration
	MaxAge        time.Duration
	MaxAttempts   int
	SecureContext bool
}

// Position 定位结果
type Position struct {
	Fix
	Source   Source  `json:"source"`
	Quality  Quality `json:"quality"`
	Attempts int     `json:"attempts"`
	Provider string  `json:"provider,omitempty"`
}

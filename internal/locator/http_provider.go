package locator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPProviderConfig 网络定位源配置
// URL 中的 {ip} 会被替换为调用方 IP；为空时使用服务端出口 IP
type HTTPProviderConfig struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	LatField      string `yaml:"lat_field"`      // 支持点号路径，如 "location.lat"
	LngField      string `yaml:"lng_field"`
	AccuracyField string `yaml:"accuracy_field"` // 可选
}

// DefaultHTTPProviders the built-in IP geolocation chain.
func DefaultHTTPProviders() []HTTPProviderConfig {
	return []HTTPProviderConfig{
		{Name: "ipapi.co", URL: "https://ipapi.co/{ip}/json/", LatField: "latitude", LngField: "longitude"},
		{Name: "ip-api.com", URL: "http://ip-api.com/json/{ip}", LatField: "lat", LngField: "lon"},
		{Name: "ipwho.is", URL: "https://ipwho.is/{ip}", LatField: "latitude", LngField: "longitude"},
	}
}

// HTTPProvider 通过 HTTP JSON 接口做粗略定位
type HTTPProvider struct {
	cfg        HTTPProviderConfig
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPProvider 创建网络定位源
// 不在 resty 层重试：重试/降级由 Pipeline 统一控制，超时由调用方 ctx 决定
func NewHTTPProvider(cfg HTTPProviderConfig, logger *zap.Logger) *HTTPProvider {
	client := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "wisefido-attendance")
	return &HTTPProvider{cfg: cfg, httpClient: client, logger: logger}
}

func (p *HTTPProvider) Name() string { return p.cfg.Name }

// Locate 调用定位接口并解析经纬度
func (p *HTTPProvider) Locate(ctx context.Context, q Query) (*Fix, error) {
	url := expandURL(p.cfg.URL, q.ClientIP)
	p.logger.Debug("Calling network location provider",
		zap.String("provider", p.cfg.Name),
		zap.String("url", url),
	)

	resp, err := p.httpClient.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", p.cfg.Name, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderUnreachable, p.cfg.Name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s: unexpected status %d", p.cfg.Name, resp.StatusCode())
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: %s: malformed body: %v", ErrInvalidFix, p.cfg.Name, err)
	}

	lat, okLat := numberAt(body, p.cfg.LatField)
	lng, okLng := numberAt(body, p.cfg.LngField)
	if !okLat || !okLng {
		return nil, fmt.Errorf("%w: %s: missing %s/%s", ErrInvalidFix, p.cfg.Name, p.cfg.LatField, p.cfg.LngField)
	}

	fix := &Fix{Latitude: lat, Longitude: lng, Timestamp: time.Now()}
	if p.cfg.AccuracyField != "" {
		if acc, ok := numberAt(body, p.cfg.AccuracyField); ok {
			fix.AccuracyM = acc
		}
	}
	return fix, nil
}

func expandURL(tmpl, ip string) string {
	if ip == "" {
		tmpl = strings.ReplaceAll(tmpl, "{ip}/", "")
	}
	return strings.ReplaceAll(tmpl, "{ip}", ip)
}

// numberAt 按点号路径取数值，兼容数字字符串
func numberAt(body map[string]any, path string) (float64, bool) {
	if path == "" {
		return 0, false
	}
	var cur any = body
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		cur, ok = m[key]
		if !ok {
			return 0, false
		}
	}
	switch v := cur.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

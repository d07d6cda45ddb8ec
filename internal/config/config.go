package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config wisefido-attendance（HTTP API + 状态监控）配置
// 加载顺序：默认值 -> CONFIG_FILE 指向的 YAML -> 环境变量
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	DBEnabled bool           `yaml:"db_enabled"`
	Database  DatabaseConfig `yaml:"database"`

	RedisEnabled bool        `yaml:"redis_enabled"`
	Redis        RedisConfig `yaml:"redis"`

	MQTT MQTTConfig `yaml:"mqtt"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Auth struct {
		// 为空时从网关注入的 X-User-Id / X-User-Role 头读取身份
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Attendance AttendanceConfig `yaml:"attendance"`
	Locator    LocatorConfig    `yaml:"locator"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig MQTT 配置（设备定位上报 / 状态通知）
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// AttendanceConfig 到岗确认业务配置
type AttendanceConfig struct {
	// 判定“今天”和确认窗口所用的时区（服务端时钟）
	Timezone       string        `yaml:"timezone"`
	StatusTick     time.Duration `yaml:"status_tick"`
	StatusCacheTTL time.Duration `yaml:"status_cache_ttl"`
	// 无数据库时加载的地点/排班 YAML
	SeedFile       string        `yaml:"seed_file"`
}

// Location resolves Timezone, falling back to UTC.
func (a AttendanceConfig) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocatorConfig 定位管线配置
type LocatorConfig struct {
	MaxAttempts     int                     `yaml:"max_attempts"`
	HighAccuracy    bool                    `yaml:"high_accuracy"`
	Timeout         time.Duration           `yaml:"timeout"`
	MaxAge          time.Duration           `yaml:"max_age"`
	ProviderTimeout time.Duration           `yaml:"provider_timeout"`
	RetryBase       time.Duration           `yaml:"retry_base"`
	RetryMax        time.Duration           `yaml:"retry_max"`
	Providers       []NetworkProviderConfig `yaml:"providers"`
}

// NetworkProviderConfig 网络定位源（按顺序尝试）
type NetworkProviderConfig struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	LatField      string `yaml:"lat_field"`
	LngField      string `yaml:"lng_field"`
	AccuracyField string `yaml:"accuracy_field"`
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)

	cfg.DBEnabled = getBool("DB_ENABLED", cfg.DBEnabled)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxConns = getInt("DB_MAX_CONNS", cfg.Database.MaxConns)
	cfg.Database.MaxIdle = getInt("DB_MAX_IDLE", cfg.Database.MaxIdle)

	cfg.RedisEnabled = getBool("REDIS_ENABLED", cfg.RedisEnabled)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getInt("REDIS_DB", cfg.Redis.DB)

	cfg.MQTT.Enabled = getBool("MQTT_ENABLED", cfg.MQTT.Enabled)
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", cfg.MQTT.TopicPrefix)
	cfg.MQTT.QoS = byte(getInt("MQTT_QOS", int(cfg.MQTT.QoS)))

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Attendance.Timezone = getEnv("ATTENDANCE_TIMEZONE", cfg.Attendance.Timezone)
	cfg.Attendance.StatusTick = getDuration("ATTENDANCE_STATUS_TICK", cfg.Attendance.StatusTick)
	cfg.Attendance.StatusCacheTTL = getDuration("ATTENDANCE_STATUS_CACHE_TTL", cfg.Attendance.StatusCacheTTL)
	cfg.Attendance.SeedFile = getEnv("ATTENDANCE_SEED_FILE", cfg.Attendance.SeedFile)

	cfg.Locator.MaxAttempts = getInt("LOCATOR_MAX_ATTEMPTS", cfg.Locator.MaxAttempts)
	cfg.Locator.HighAccuracy = getBool("LOCATOR_HIGH_ACCURACY", cfg.Locator.HighAccuracy)
	cfg.Locator.Timeout = getDuration("LOCATOR_TIMEOUT", cfg.Locator.Timeout)
	cfg.Locator.MaxAge = getDuration("LOCATOR_MAX_AGE", cfg.Locator.MaxAge)
	cfg.Locator.ProviderTimeout = getDuration("LOCATOR_PROVIDER_TIMEOUT", cfg.Locator.ProviderTimeout)
	cfg.Locator.RetryBase = getDuration("LOCATOR_RETRY_BASE", cfg.Locator.RetryBase)
	cfg.Locator.RetryMax = getDuration("LOCATOR_RETRY_MAX", cfg.Locator.RetryMax)
	if names := os.Getenv("LOCATOR_PROVIDERS"); names != "" {
		cfg.Locator.Providers = selectProviders(cfg.Locator.Providers, names)
	}

	if cfg.Locator.MaxAttempts <= 0 {
		return nil, fmt.Errorf("locator max_attempts must be > 0")
	}
	if _, err := time.LoadLocation(cfg.Attendance.Timezone); err != nil {
		return nil, fmt.Errorf("invalid attendance timezone %q: %w", cfg.Attendance.Timezone, err)
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"

	// 本地开发默认开启 DB；连接失败时服务回退到内存存储
	cfg.DBEnabled = true
	cfg.Database = DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "attendance",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,
	}

	cfg.RedisEnabled = true
	cfg.Redis = RedisConfig{Addr: "localhost:6379"}

	cfg.MQTT = MQTTConfig{
		Broker:      "tcp://localhost:1883",
		ClientID:    "wisefido-attendance",
		TopicPrefix: "attendance",
		QoS:         1,
	}

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	cfg.Attendance = AttendanceConfig{
		Timezone:       "UTC",
		StatusTick:     time.Minute,
		StatusCacheTTL: 10 * time.Minute,
	}

	cfg.Locator = LocatorConfig{
		MaxAttempts:     3,
		HighAccuracy:    true,
		Timeout:         15 * time.Second,
		MaxAge:          0,
		ProviderTimeout: 10 * time.Second,
		RetryBase:       1500 * time.Millisecond,
		RetryMax:        3 * time.Second,
		Providers: []NetworkProviderConfig{
			{Name: "ipapi.co", URL: "https://ipapi.co/{ip}/json/", LatField: "latitude", LngField: "longitude"},
			{Name: "ip-api.com", URL: "http://ip-api.com/json/{ip}", LatField: "lat", LngField: "lon"},
			{Name: "ipwho.is", URL: "https://ipwho.is/{ip}", LatField: "latitude", LngField: "longitude"},
		},
	}
	return cfg
}

// selectProviders 按 LOCATOR_PROVIDERS（逗号分隔名称）筛选并重排
func selectProviders(all []NetworkProviderConfig, names string) []NetworkProviderConfig {
	byName := make(map[string]NetworkProviderConfig, len(all))
	for _, p := range all {
		byName[p.Name] = p
	}
	var out []NetworkProviderConfig
	for _, n := range strings.Split(names, ",") {
		if p, ok := byName[strings.TrimSpace(n)]; ok {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getInt(key string, def int) int {
	i, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return def
	}
	return i
}

func getBool(key string, def bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return def
	}
	return d
}

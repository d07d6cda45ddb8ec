package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.DBEnabled)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "attendance", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "attendance", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, time.Minute, cfg.Attendance.StatusTick)
	assert.Equal(t, time.UTC, cfg.Attendance.Location())

	assert.Equal(t, 3, cfg.Locator.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Locator.ProviderTimeout)
	require.Len(t, cfg.Locator.Providers, 3)
	assert.Equal(t, "ipapi.co", cfg.Locator.Providers[0].Name)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DB_ENABLED", "false")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("MQTT_ENABLED", "true")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ATTENDANCE_TIMEZONE", "America/La_Paz")
	t.Setenv("ATTENDANCE_STATUS_TICK", "30s")
	t.Setenv("LOCATOR_MAX_ATTEMPTS", "5")
	t.Setenv("LOCATOR_PROVIDERS", "ipwho.is, ipapi.co, unknown")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.False(t, cfg.DBEnabled)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "America/La_Paz", cfg.Attendance.Location().String())
	assert.Equal(t, 30*time.Second, cfg.Attendance.StatusTick)
	assert.Equal(t, 5, cfg.Locator.MaxAttempts)
	require.Len(t, cfg.Locator.Providers, 2)
	assert.Equal(t, "ipwho.is", cfg.Locator.Providers[0].Name)
	assert.Equal(t, "ipapi.co", cfg.Locator.Providers[1].Name)
}

func TestLoad_YAMLFileThenEnvOverride(t *testing.T) {
	os.Clearenv()
	path := filepath.Join(t.TempDir(), "attendance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":7070"
database:
  host: db.internal
locator:
  max_attempts: 4
  provider_timeout: 4s
  providers:
    - name: corp-geo
      url: https://geo.example.com/v1/{ip}
      lat_field: location.lat
      lng_field: location.lng
      accuracy_field: accuracy
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DB_HOST", "db.override")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "db.override", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 4, cfg.Locator.MaxAttempts)
	assert.Equal(t, 4*time.Second, cfg.Locator.ProviderTimeout)
	require.Len(t, cfg.Locator.Providers, 1)
	assert.Equal(t, "location.lat", cfg.Locator.Providers[0].LatField)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	os.Clearenv()
	t.Setenv("ATTENDANCE_TIMEZONE", "Mars/Olympus")
	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_GetDSN(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: 1, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=1 user=u password=p dbname=d sslmode=disable", c.GetDSN())
}

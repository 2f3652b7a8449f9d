package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
app:
  name: radar-test
database:
  driver: sqlite
  path: /tmp/radar.db
monitoring:
  window_policy: duration
  window_size: 20
  window_duration: 6h
  min_samples: 3
  trend_timeout: 2s
  thresholds:
    - asset_type: manufacturing
      metric_type: temperature
      operator: ">"
      bound: 75
      severity: critical
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "radar-test", cfg.App.Name)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "duration", cfg.Monitoring.WindowPolicy)
	assert.Equal(t, 6*time.Hour, cfg.Monitoring.WindowDuration)
	assert.Equal(t, 2*time.Second, cfg.Monitoring.TrendTimeout)
	require.Len(t, cfg.Monitoring.Thresholds, 1)
	assert.InDelta(t, 75.0, cfg.Monitoring.Thresholds[0].Bound, 1e-9)

	// 未设置的字段保留默认值
	assert.Equal(t, "8080", cfg.API.Port)
	assert.Equal(t, 3, cfg.Monitoring.MaintenanceLead)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Monitoring, cfg.Monitoring)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("NATS_ENABLED", "true")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("API_PORT", "9090")

	cfg, err := LoadConfig(writeConfig(t, "app:\n  name: x\n"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "redis://cache:6379/0", cfg.Cache.RedisURL)
	assert.Equal(t, "9090", cfg.API.Port)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "database:\n  driver: oracle\n"},
		{"bad policy", "monitoring:\n  window_policy: sliding\n"},
		{"min above window", "monitoring:\n  window_size: 3\n  min_samples: 10\n"},
		{"malformed yaml", "app: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("APP_ENV", "prod")
	assert.Equal(t, "configs/prod/app.yaml", GetDefaultConfigPath())

	t.Setenv("CONFIG_PATH", "/etc/radar.yaml")
	assert.Equal(t, "/etc/radar.yaml", GetDefaultConfigPath())
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dushixiang/kpimon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9090\"\n")
	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 3, cfg.Incident.DefaultStreak)
	assert.Equal(t, 10*time.Second, cfg.Probe.HTTPTimeout)
	assert.Equal(t, 30, cfg.Metrics.WindowDays)
	assert.False(t, cfg.Notify.Enabled)
	assert.Equal(t, 587, cfg.Notify.SMTPPort)
	assert.Contains(t, cfg.Notify.Subject, "{{title}}")

	tier, ok := cfg.Scheduler.Tier(models.Frequency15m)
	require.True(t, ok)
	assert.Equal(t, 15*time.Minute, tier.Interval)
	assert.Equal(t, 180*time.Second, tier.MisfireGrace)

	daily, ok := cfg.Scheduler.Tier(models.FrequencyDaily)
	require.True(t, ok)
	assert.Equal(t, "15:00", daily.At)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  dsn: "host=localhost user=kpimon dbname=kpimon"
scheduler:
  workers: 16
  tiers:
    1m:
      enabled: true
      interval: 30s
      misfire_grace: 20s
probe:
  retry_delay: 500ms
`)
	t.Setenv("KPIMON_INCIDENT_DEFAULT_STREAK", "5")

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 16, cfg.Scheduler.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Probe.RetryDelay)
	assert.Equal(t, 5, cfg.Incident.DefaultStreak)

	tier, ok := cfg.Scheduler.Tier(models.Frequency1m)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, tier.Interval)
}

func TestLoadInvalid(t *testing.T) {
	t.Run("未知数据库驱动", func(t *testing.T) {
		path := writeConfig(t, "database:\n  driver: oracle\n")
		_, _, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("每日执行时间格式错误", func(t *testing.T) {
		path := writeConfig(t, "scheduler:\n  tiers:\n    daily:\n      enabled: true\n      at: \"25h\"\n")
		_, _, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("启用通知但缺少收件人", func(t *testing.T) {
		path := writeConfig(t, "notify:\n  enabled: true\n  smtp_host: smtp.example.com\n  from: kpimon@example.com\n")
		_, _, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("收件人格式错误", func(t *testing.T) {
		path := writeConfig(t, "notify:\n  enabled: true\n  smtp_host: smtp.example.com\n  from: kpimon@example.com\n  to: [\"not-an-email\"]\n")
		_, _, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("指定的配置文件不存在", func(t *testing.T) {
		_, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

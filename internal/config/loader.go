package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "KPIMON"

// setDefaults 所有键都需要默认值，否则 AutomaticEnv 不会生效
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "kpimon.db")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.debug", false)
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.run_on_startup", true)
	v.SetDefault("scheduler.site_down_code", "site_down")
	v.SetDefault("scheduler.site_down_streak", 3)
	v.SetDefault("scheduler.pre_check", "http")
	v.SetDefault("scheduler.pre_check_timeout", 10*time.Second)
	v.SetDefault("scheduler.lock_ttl", 30*time.Minute)
	v.SetDefault("scheduler.tiers", map[string]any{
		"1m":    map[string]any{"enabled": true, "interval": "1m", "misfire_grace": "60s"},
		"5m":    map[string]any{"enabled": true, "interval": "5m", "misfire_grace": "120s"},
		"15m":   map[string]any{"enabled": true, "interval": "15m", "misfire_grace": "180s"},
		"daily": map[string]any{"enabled": true, "at": "15:00", "misfire_grace": "300s"},
	})

	v.SetDefault("probe.http_timeout", 10*time.Second)
	v.SetDefault("probe.retry_delay", 2*time.Second)
	v.SetDefault("probe.slow_threshold", 3*time.Second)
	v.SetDefault("probe.flapping_attempts", 3)
	v.SetDefault("probe.dns_timeout", 5*time.Second)
	v.SetDefault("probe.tls_timeout", 10*time.Second)
	v.SetDefault("probe.browser_timeout", 15*time.Second)
	v.SetDefault("probe.browser_bin", "")
	v.SetDefault("probe.page_load_slow", 5*time.Second)
	v.SetDefault("probe.heavy_page_mb", 5.0)
	v.SetDefault("probe.axe_url", "https://cdnjs.cloudflare.com/ajax/libs/axe-core/4.9.1/axe.min.js")
	v.SetDefault("probe.min_wcag_score", 80.0)

	v.SetDefault("incident.default_streak", 3)
	v.SetDefault("incident.assigned_to", "")

	v.SetDefault("metrics.window_days", 30)
	v.SetDefault("metrics.default_criticality", 30.0)
	v.SetDefault("metrics.weights_cache_ttl", 5*time.Minute)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.smtp_host", "")
	v.SetDefault("notify.smtp_port", 587)
	v.SetDefault("notify.username", "")
	v.SetDefault("notify.password", "")
	v.SetDefault("notify.from", "")
	v.SetDefault("notify.to", []string{})
	v.SetDefault("notify.subject", "[{{severity}}] {{title}} ({{status}})")
	v.SetDefault("notify.body", "资产: {{asset}} ({{url}})\n指标: {{indicator}}\n状态: {{status}}\n负责人: {{assignedTo}}\n时间: {{time}}\n\n{{description}}\n")
	v.SetDefault("notify.timeout", 30*time.Second)
}

// Load 加载配置：.env -> 配置文件 -> KPIMON_ 环境变量
// path 为空时在当前目录和 ./config 下查找 config.yaml，找不到则只使用默认值
func Load(path string) (*AppConfig, *viper.Viper, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate 校验配置
func Validate(cfg *AppConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	for name, tier := range cfg.Scheduler.Tiers {
		if !tier.Enabled {
			continue
		}
		if name == "daily" {
			if _, err := time.Parse("15:04", tier.At); err != nil {
				return fmt.Errorf("scheduler.tiers.%s.at: %w", name, err)
			}
			continue
		}
		if tier.Interval <= 0 {
			return fmt.Errorf("scheduler.tiers.%s.interval must be positive", name)
		}
	}
	return nil
}

// Watch 监听配置文件变化，重新解析成功后回调
func Watch(v *viper.Viper, logger *zap.Logger, onChange func(cfg *AppConfig)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("配置文件变更但解析失败，继续使用旧配置", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("配置文件已重新加载", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
}

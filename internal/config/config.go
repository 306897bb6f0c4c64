package config

import (
	"time"

	"github.com/dushixiang/kpimon/internal/models"
)

// AppConfig 应用配置
type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Incident  IncidentConfig  `mapstructure:"incident"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"` // 监听地址，如 :8080
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver        string        `mapstructure:"driver" validate:"oneof=sqlite mysql postgres"`
	DSN           string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns  int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns  int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	Debug         bool          `mapstructure:"debug"`          // 打印 SQL
	SlowThreshold time.Duration `mapstructure:"slow_threshold"` // 超过该耗时的 SQL 记为慢查询
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	File       string `mapstructure:"file"`        // 为空时只输出到标准输出
	MaxSize    int    `mapstructure:"max_size"`    // MB
	MaxBackups int    `mapstructure:"max_backups"` // 保留的旧日志文件数
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`
}

// TierConfig 单个频率档位的调度配置
type TierConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`      // 固定间隔档位使用
	At           string        `mapstructure:"at"`            // 每日档位使用，格式 HH:MM
	MisfireGrace time.Duration `mapstructure:"misfire_grace"` // 错过触发后允许补跑的时间
}

// SchedulerConfig 调度配置
type SchedulerConfig struct {
	Workers         int                   `mapstructure:"workers" validate:"gte=1"` // 全局探测并发上限
	Tiers           map[string]TierConfig `mapstructure:"tiers"`
	RunOnStartup    bool                  `mapstructure:"run_on_startup"` // 启动后立即执行一次最快档位
	SiteDownCode    string                `mapstructure:"site_down_code"` // "站点完全不可用" 指标编码
	SiteDownStreak  int                   `mapstructure:"site_down_streak" validate:"gte=1"`
	PreCheck        string                `mapstructure:"pre_check" validate:"oneof=http icmp none"`
	PreCheckTimeout time.Duration         `mapstructure:"pre_check_timeout"`
	LockTTL         time.Duration         `mapstructure:"lock_ttl"` // 运行令牌有效期，周期运行期间每 1/3 有效期续期一次
}

// Tier 获取档位配置
func (c SchedulerConfig) Tier(f models.Frequency) (TierConfig, bool) {
	t, ok := c.Tiers[string(f)]
	return t, ok
}

// ProbeConfig 探测配置
type ProbeConfig struct {
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	SlowThreshold    time.Duration `mapstructure:"slow_threshold"`
	FlappingAttempts int           `mapstructure:"flapping_attempts"`
	DNSTimeout       time.Duration `mapstructure:"dns_timeout"`
	TLSTimeout       time.Duration `mapstructure:"tls_timeout"`
	BrowserTimeout   time.Duration `mapstructure:"browser_timeout"`
	BrowserBin       string        `mapstructure:"browser_bin"`
	PageLoadSlow     time.Duration `mapstructure:"page_load_slow"`
	HeavyPageMB      float64       `mapstructure:"heavy_page_mb"`
	AxeURL           string        `mapstructure:"axe_url"`
	MinWCAGScore     float64       `mapstructure:"min_wcag_score"`
}

// IncidentConfig 事件配置
type IncidentConfig struct {
	DefaultStreak int    `mapstructure:"default_streak" validate:"gte=1"` // 连续多少次 miss 创建事件
	AssignedTo    string `mapstructure:"assigned_to"`
}

// MetricsConfig 指标聚合配置
type MetricsConfig struct {
	WindowDays         int           `mapstructure:"window_days" validate:"gte=1"`
	DefaultCriticality float64       `mapstructure:"default_criticality" validate:"gte=0,lte=100"`
	WeightsCacheTTL    time.Duration `mapstructure:"weights_cache_ttl"`
}

// Window 统计窗口
func (c MetricsConfig) Window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

// NotifyConfig 事件邮件通知配置，模板占位符使用 {{name}}
type NotifyConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	SMTPHost string        `mapstructure:"smtp_host" validate:"required_if=Enabled true"`
	SMTPPort int           `mapstructure:"smtp_port" validate:"gte=0,lte=65535"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from" validate:"required_if=Enabled true"`
	To       []string      `mapstructure:"to" validate:"required_if=Enabled true,dive,email"`
	Subject  string        `mapstructure:"subject"`
	Body     string        `mapstructure:"body"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

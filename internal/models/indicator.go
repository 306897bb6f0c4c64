package models

import (
	"strings"

	"gorm.io/gorm"
)

// Outcome 指标结果类型
type Outcome string

const (
	OutcomeFlag      Outcome = "Flag"
	OutcomeSeconds   Outcome = "Seconds"
	OutcomeMegabytes Outcome = "Megabytes"
	OutcomePercent   Outcome = "Percent"
)

// ParseOutcome 兼容旧数据中的 "Sec" / "MB" / "%" 写法
func ParseOutcome(s string) (Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flag":
		return OutcomeFlag, true
	case "seconds", "second", "sec", "s":
		return OutcomeSeconds, true
	case "megabytes", "megabyte", "mb":
		return OutcomeMegabytes, true
	case "percent", "percentage", "%":
		return OutcomePercent, true
	}
	return "", false
}

// Numeric 是否按数值比较
func (o Outcome) Numeric() bool {
	return o == OutcomeSeconds || o == OutcomeMegabytes || o == OutcomePercent
}

// Frequency 执行频率档位
type Frequency string

const (
	Frequency1m    Frequency = "1m"
	Frequency5m    Frequency = "5m"
	Frequency15m   Frequency = "15m"
	FrequencyDaily Frequency = "daily"
)

// Frequencies 按从快到慢排列
var Frequencies = []Frequency{Frequency1m, Frequency5m, Frequency15m, FrequencyDaily}

// ParseFrequency 兼容 "1 min" / "Daily" 等写法
func ParseFrequency(s string) (Frequency, bool) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	switch normalized {
	case "1m", "1min", "1minute":
		return Frequency1m, true
	case "5m", "5min", "5minutes":
		return Frequency5m, true
	case "15m", "15min", "15minutes":
		return Frequency15m, true
	case "daily", "1d", "day":
		return FrequencyDaily, true
	}
	return "", false
}

// Fastest 是否为最快档位（不做可达性预检）
func (f Frequency) Fastest() bool {
	return f == Frequencies[0]
}

// Severity 严重级别 P1..P4
type Severity string

const (
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

// 六个固定的指标分组
const (
	GroupAccessibility = "Accessibility & Inclusivity"
	GroupAvailability  = "Availability & Reliability"
	GroupNavigation    = "Navigation & Discoverability"
	GroupPerformance   = "Performance & Efficiency"
	GroupSecurity      = "Security, Trust & Privacy"
	GroupUserExp       = "User Experience & Journey Quality"
)

// Groups 固定分组顺序
var Groups = []string{
	GroupAccessibility,
	GroupAvailability,
	GroupNavigation,
	GroupPerformance,
	GroupSecurity,
	GroupUserExp,
}

// Indicator KPI 指标定义
type Indicator struct {
	ID           string         `gorm:"primaryKey" json:"id"`
	Code         string         `gorm:"index" json:"code"`                     // 业务编码，如 site_down
	Name         string         `json:"name"`                                  // 指标名称
	Kind         string         `gorm:"index" json:"kind"`                     // 探测类型: availability/dns/certificate/browser/accessibility
	Check        string         `gorm:"column:check_name" json:"check"`        // 探测子项，如 response_time
	Outcome      Outcome        `json:"outcome"`                               // 结果类型
	TargetHigh   string         `json:"targetHigh"`                            // 高影响资产目标值
	TargetMedium string         `json:"targetMedium"`                          // 中影响资产目标值
	TargetLow    string         `json:"targetLow"`                             // 低影响资产目标值
	Frequency    Frequency      `gorm:"index" json:"frequency"`                // 执行频率
	Severity     Severity       `json:"severity"`                              // 严重级别
	Group        string         `gorm:"column:kpi_group" json:"group"`         // 所属分组
	Weight       float64        `json:"weight"`                                // 组内权重
	StreakLength int            `json:"streakLength"`                          // 连续多少次触发事件，0 表示使用默认值
	Automatic    bool           `gorm:"index" json:"automatic"`                // 是否自动执行
	CreatedAt    int64          `json:"createdAt"`                             // 创建时间（毫秒）
	UpdatedAt    int64          `json:"updatedAt" gorm:"autoUpdateTime:milli"` // 更新时间（毫秒）
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Indicator) TableName() string {
	return "indicators"
}

// TargetFor 根据资产影响级别选择目标值
func (i Indicator) TargetFor(level ImpactLevel) string {
	switch level {
	case ImpactHigh:
		return i.TargetHigh
	case ImpactLow:
		return i.TargetLow
	default:
		return i.TargetMedium
	}
}

package models

import "gorm.io/datatypes"

// 权重分类
const (
	WeightCategoryCHM         = "CHM"
	WeightCategoryOCM         = "OCM"
	WeightCategoryDREI        = "DREI"
	WeightCategoryCriticality = "AssetCriticality"
)

// DREI 权重项
const (
	DREIOpenCritical = "OpenCritical"
	DREIOpenHigh     = "OpenHigh"
	DREIOpenMedium   = "OpenMedium"
	DREIOpenLow      = "OpenLow"
	DREISLABreach    = "SLABreach"
)

// DREIBuckets 严重级别到 DREI 权重项的映射
var DREIBuckets = []struct {
	Severity Severity
	Name     string
}{
	{SeverityP1, DREIOpenCritical},
	{SeverityP2, DREIOpenHigh},
	{SeverityP3, DREIOpenMedium},
	{SeverityP4, DREIOpenLow},
}

// MetricWeight 指标权重
type MetricWeight struct {
	ID       uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Category string  `gorm:"uniqueIndex:ux_weight_category_name;not null" json:"category"` // CHM/OCM/DREI/AssetCriticality
	Name     string  `gorm:"uniqueIndex:ux_weight_category_name;not null" json:"name"`     // 分组名或权重项
	Weight   float64 `json:"weight"`
}

func (MetricWeight) TableName() string {
	return "metric_weights"
}

const LookupIncidentCreationFrequency = "IncidentCreationFrequency"

// Lookup 通用字典
type Lookup struct {
	ID    uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Type  string `gorm:"uniqueIndex:ux_lookup_type_name;not null" json:"type"`
	Name  string `gorm:"uniqueIndex:ux_lookup_type_name;not null" json:"name"`
	Value string `json:"value"`
}

func (Lookup) TableName() string {
	return "lookups"
}

// GroupStat 分组统计
type GroupStat struct {
	Index      float64 `json:"index"`
	HasData    bool    `json:"hasData"`
	Indicators int     `json:"indicators"` // 有数据的指标数
	Hits       int64   `json:"hits"`
	Total      int64   `json:"total"`
}

// SeverityStat 某严重级别的事件统计
type SeverityStat struct {
	Open  int64 `json:"open"`
	Total int64 `json:"total"`
}

// MetricBreakdown 聚合明细，便于排查得分来源
type MetricBreakdown struct {
	Groups      map[string]GroupStat      `json:"groups"`
	Incidents   map[Severity]SeverityStat `json:"incidents"`
	Checks      int64                     `json:"checks"`
	Misses      int64                     `json:"misses"`
	Criticality float64                   `json:"criticality"`
	RawDREI     float64                   `json:"rawDrei"`
}

// AssetMetric 资产健康度聚合结果，每个资产一行
type AssetMetric struct {
	ID                 uint                                `gorm:"primaryKey;autoIncrement" json:"id"`
	AssetID            string                              `gorm:"uniqueIndex:ux_asset_metric_asset;not null" json:"assetId"`
	AccessibilityIndex float64                             `json:"accessibilityIndex"`
	AvailabilityIndex  float64                             `json:"availabilityIndex"`
	NavigationIndex    float64                             `json:"navigationIndex"`
	PerformanceIndex   float64                             `json:"performanceIndex"`
	SecurityIndex      float64                             `json:"securityIndex"`
	UserExpIndex       float64                             `json:"userExpIndex"`
	CHM                float64                             `gorm:"column:chm" json:"chm"`   // Citizen Happiness Metric
	OCM                float64                             `gorm:"column:ocm" json:"ocm"`   // Overall Compliance Metric
	DREI               float64                             `gorm:"column:drei" json:"drei"` // Digital Risk Exposure Index
	CurrentHealth      float64                             `json:"currentHealth"`
	PeriodStart        int64                               `json:"periodStart"`
	PeriodEnd          int64                               `json:"periodEnd"`
	CalculatedAt       int64                               `json:"calculatedAt"`
	Breakdown          datatypes.JSONType[MetricBreakdown] `json:"breakdown"`
}

func (AssetMetric) TableName() string {
	return "asset_metrics"
}

// SetGroupIndex 按分组名写入对应列
func (m *AssetMetric) SetGroupIndex(group string, v float64) {
	switch group {
	case GroupAccessibility:
		m.AccessibilityIndex = v
	case GroupAvailability:
		m.AvailabilityIndex = v
	case GroupNavigation:
		m.NavigationIndex = v
	case GroupPerformance:
		m.PerformanceIndex = v
	case GroupSecurity:
		m.SecurityIndex = v
	case GroupUserExp:
		m.UserExpIndex = v
	}
}

package models

import (
	"strings"

	"gorm.io/gorm"
)

// ImpactLevel 资产影响级别
type ImpactLevel string

const (
	ImpactHigh   ImpactLevel = "High"
	ImpactMedium ImpactLevel = "Medium"
	ImpactLow    ImpactLevel = "Low"
)

// ParseImpactLevel 前缀匹配（如 "HIGH - Citizen facing"），无法识别时按 Medium 处理
func ParseImpactLevel(s string) ImpactLevel {
	upper := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(upper, "HIGH"):
		return ImpactHigh
	case strings.HasPrefix(upper, "LOW"):
		return ImpactLow
	default:
		return ImpactMedium
	}
}

// Asset 被监控的站点资产
type Asset struct {
	ID          string         `gorm:"primaryKey" json:"id"`
	Name        string         `json:"name"`                                  // 资产名称
	URL         string         `json:"url"`                                   // 访问地址
	ImpactLevel string         `json:"impactLevel"`                           // 影响级别（原始值）
	Criticality string         `json:"criticality"`                           // 关键程度，对应 AssetCriticality 权重名
	CreatedAt   int64          `json:"createdAt"`                             // 创建时间（毫秒）
	UpdatedAt   int64          `json:"updatedAt" gorm:"autoUpdateTime:milli"` // 更新时间（毫秒）
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`                        // 软删除，删除后不再调度
}

func (Asset) TableName() string {
	return "assets"
}

// Impact 归一化后的影响级别
func (a Asset) Impact() ImpactLevel {
	return ParseImpactLevel(a.ImpactLevel)
}

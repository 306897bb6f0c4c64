package models

import (
	"fmt"

	"gorm.io/datatypes"
)

const (
	IncidentStatusOpen     = "Open"
	IncidentStatusResolved = "Resolved"

	IncidentTypeAuto   = "auto"
	IncidentTypeManual = "manual"

	SystemUser = "system"
)

// Incident 事件记录
// OpenKey 仅在自动事件处于 Open 时有值，唯一索引保证同一 (资产, 指标) 最多一个自动打开的事件
type Incident struct {
	ID          string   `gorm:"primaryKey" json:"id"`
	AssetID     string   `gorm:"index:idx_incident_asset_indicator;not null" json:"assetId"`
	IndicatorID string   `gorm:"index:idx_incident_asset_indicator;not null" json:"indicatorId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Type        string   `gorm:"index" json:"type"`   // auto/manual
	Severity    Severity `json:"severity"`            // 来自指标
	Status      string   `gorm:"index" json:"status"` // Open/Resolved/其他外部状态
	AssignedTo  string   `json:"assignedTo"`
	OpenKey     *string  `gorm:"uniqueIndex:ux_incident_open_key" json:"-"`
	CreatedBy   string   `json:"createdBy"`
	UpdatedBy   string   `json:"updatedBy"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
	ResolvedAt  int64    `json:"resolvedAt,omitempty"`
}

func (Incident) TableName() string {
	return "incidents"
}

// OpenKeyFor 生成唯一约束使用的键
func OpenKeyFor(assetID, indicatorID string) string {
	return fmt.Sprintf("%s:%s", assetID, indicatorID)
}

// IncidentSnapshot 审计记录中保存的事件快照
type IncidentSnapshot struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Status      string   `json:"status"`
	AssignedTo  string   `json:"assignedTo"`
}

// IncidentHistory 事件审计轨迹（只追加）
type IncidentHistory struct {
	ID          uint64                               `gorm:"primaryKey;autoIncrement" json:"id"`
	IncidentID  string                               `gorm:"index" json:"incidentId"`
	AssetID     string                               `json:"assetId"`
	IndicatorID string                               `json:"indicatorId"`
	Status      string                               `json:"status"`
	Snapshot    datatypes.JSONType[IncidentSnapshot] `json:"snapshot"`
	CreatedBy   string                               `json:"createdBy"`
	CreatedAt   int64                                `json:"createdAt"`
}

func (IncidentHistory) TableName() string {
	return "incident_histories"
}

// NewIncidentHistory 根据事件当前状态生成审计记录
func NewIncidentHistory(incident *Incident, by string, at int64) *IncidentHistory {
	return &IncidentHistory{
		IncidentID:  incident.ID,
		AssetID:     incident.AssetID,
		IndicatorID: incident.IndicatorID,
		Status:      incident.Status,
		Snapshot: datatypes.NewJSONType(IncidentSnapshot{
			Title:       incident.Title,
			Description: incident.Description,
			Type:        incident.Type,
			Severity:    incident.Severity,
			Status:      incident.Status,
			AssignedTo:  incident.AssignedTo,
		}),
		CreatedBy: by,
		CreatedAt: at,
	}
}

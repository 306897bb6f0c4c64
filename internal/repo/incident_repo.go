package repo

import (
	"context"
	"errors"

	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/dushixiang/kpimon/internal/models"
	"gorm.io/gorm"
)

// IncidentRepo 事件
type IncidentRepo struct {
	db *gorm.DB
}

func NewIncidentRepo(db *gorm.DB) *IncidentRepo {
	return &IncidentRepo{
		db: db,
	}
}

// FindOpen 查询 (资产, 指标) 当前打开的事件，自动和手动都算，不存在时返回 nil
func (r *IncidentRepo) FindOpen(ctx context.Context, assetID, indicatorID string) (*models.Incident, error) {
	var incident models.Incident
	err := r.db.WithContext(ctx).
		Where("asset_id = ? AND indicator_id = ? AND status = ?", assetID, indicatorID, models.IncidentStatusOpen).
		Order("created_at DESC").
		First(&incident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, kpierr.Store(err)
	}
	return &incident, nil
}

// FindOpenAuto 查询当前打开的自动事件
func (r *IncidentRepo) FindOpenAuto(ctx context.Context, assetID, indicatorID string) (*models.Incident, error) {
	var incident models.Incident
	err := r.db.WithContext(ctx).
		Where("open_key = ?", models.OpenKeyFor(assetID, indicatorID)).
		First(&incident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, kpierr.Store(err)
	}
	return &incident, nil
}

// FindById 根据 ID 查询
func (r *IncidentRepo) FindById(ctx context.Context, id string) (*models.Incident, error) {
	var incident models.Incident
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&incident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, kpierr.Store(err)
	}
	return &incident, nil
}

// FindByAsset 资产的全部事件，最新的在前
func (r *IncidentRepo) FindByAsset(ctx context.Context, assetID string) ([]models.Incident, error) {
	var items []models.Incident
	err := r.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("created_at DESC").
		Find(&items).Error
	return items, kpierr.Store(err)
}

// Create 创建事件，OpenKey 冲突时返回 StoreWriteConflict
func (r *IncidentRepo) Create(ctx context.Context, incident *models.Incident) error {
	return kpierr.Store(r.db.WithContext(ctx).Create(incident).Error)
}

// Resolve 关闭事件并清空 OpenKey，只有仍处于 Open 状态的事件会被更新
func (r *IncidentRepo) Resolve(ctx context.Context, incident *models.Incident, by string, now int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Incident{}).
		Where("id = ? AND status = ?", incident.ID, models.IncidentStatusOpen).
		Updates(map[string]any{
			"status":      models.IncidentStatusResolved,
			"open_key":    nil,
			"updated_by":  by,
			"updated_at":  now,
			"resolved_at": now,
		})
	if result.Error != nil {
		return false, kpierr.Store(result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	incident.Status = models.IncidentStatusResolved
	incident.OpenKey = nil
	incident.UpdatedBy = by
	incident.UpdatedAt = now
	incident.ResolvedAt = now
	return true, nil
}

// AppendHistory 写入事件审计记录
func (r *IncidentRepo) AppendHistory(ctx context.Context, history *models.IncidentHistory) error {
	return kpierr.Store(r.db.WithContext(ctx).Create(history).Error)
}

// FindHistory 事件的审计轨迹
func (r *IncidentRepo) FindHistory(ctx context.Context, incidentID string) ([]models.IncidentHistory, error) {
	var items []models.IncidentHistory
	err := r.db.WithContext(ctx).
		Where("incident_id = ?", incidentID).
		Order("id").
		Find(&items).Error
	return items, kpierr.Store(err)
}

// SeverityCount 按严重级别统计事件
type SeverityCount struct {
	Severity models.Severity
	Open     int64 `gorm:"column:open_count"`
	Total    int64
}

// CountBySeverity 资产所有事件按严重级别统计打开数与总数
func (r *IncidentRepo) CountBySeverity(ctx context.Context, assetID string) ([]SeverityCount, error) {
	var items []SeverityCount
	err := r.db.WithContext(ctx).
		Model(&models.Incident{}).
		Select("severity, COUNT(CASE WHEN status = ? THEN 1 END) AS open_count, COUNT(*) AS total", models.IncidentStatusOpen).
		Where("asset_id = ?", assetID).
		Group("severity").
		Scan(&items).Error
	if err != nil {
		return nil, kpierr.Store(err)
	}
	return items, nil
}

package repo

import (
	"context"
	"errors"

	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResultRepo 结果快照与历史
type ResultRepo struct {
	db *gorm.DB
}

func NewResultRepo(db *gorm.DB) *ResultRepo {
	return &ResultRepo{
		db: db,
	}
}

// UpsertSnapshot 写入 (资产, 指标) 的最新结果，首次写入时 CreatedAt 与 UpdatedAt 相同
func (r *ResultRepo) UpsertSnapshot(ctx context.Context, assetID, indicatorID string, v models.Verdict, now int64) (*models.KPIResult, error) {
	snapshot := &models.KPIResult{
		ID:          uuid.NewString(),
		AssetID:     assetID,
		IndicatorID: indicatorID,
		Status:      v.Status,
		Value:       v.Value,
		Result:      v.Result,
		Target:      v.Target,
		Details:     v.Details,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "asset_id"}, {Name: "indicator_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "value", "result", "target", "details", "updated_at"}),
		}).
		Create(snapshot).Error
	if err != nil {
		return nil, kpierr.Store(err)
	}

	// 冲突更新时主键仍是已有记录的，需要回读
	return r.FindSnapshot(ctx, assetID, indicatorID)
}

// FindSnapshot 查询快照，不存在时返回 nil
func (r *ResultRepo) FindSnapshot(ctx context.Context, assetID, indicatorID string) (*models.KPIResult, error) {
	var snapshot models.KPIResult
	err := r.db.WithContext(ctx).
		Where("asset_id = ? AND indicator_id = ?", assetID, indicatorID).
		First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, kpierr.Store(err)
	}
	return &snapshot, nil
}

// FindSnapshotsByAsset 资产下所有指标的最新结果
func (r *ResultRepo) FindSnapshotsByAsset(ctx context.Context, assetID string) ([]models.KPIResult, error) {
	items := make([]models.KPIResult, 0)
	err := r.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("indicator_id").
		Find(&items).Error
	return items, kpierr.Store(err)
}

// AppendHistory 追加历史记录，只插入不更新
func (r *ResultRepo) AppendHistory(ctx context.Context, snapshot *models.KPIResult, v models.Verdict, now int64) (*models.KPIResultHistory, error) {
	history := &models.KPIResultHistory{
		ResultID:    snapshot.ID,
		AssetID:     snapshot.AssetID,
		IndicatorID: snapshot.IndicatorID,
		Status:      v.Status,
		Value:       v.Value,
		Result:      v.Result,
		Target:      v.Target,
		Details:     v.Details,
		CreatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(history).Error; err != nil {
		return nil, kpierr.Store(err)
	}
	return history, nil
}

// LastNResults 最近 n 条 hit/miss 记录，按 Seq 倒序，skipped/error 不参与
func (r *ResultRepo) LastNResults(ctx context.Context, assetID, indicatorID string, n int) ([]models.KPIResultHistory, error) {
	var items []models.KPIResultHistory
	if n <= 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).
		Where("asset_id = ? AND indicator_id = ?", assetID, indicatorID).
		Where("status IN ?", []models.VerdictStatus{models.StatusHit, models.StatusMiss}).
		Order("seq DESC").
		Limit(n).
		Find(&items).Error
	if err != nil {
		return nil, kpierr.Store(err)
	}
	return items, nil
}

// IndicatorWindowStat 窗口内单个指标的命中统计
type IndicatorWindowStat struct {
	IndicatorID string
	Hits        int64
	Total       int64
}

// WindowStats 统计 [since, until] 内每个指标的 hit 数和 hit+miss 总数
func (r *ResultRepo) WindowStats(ctx context.Context, assetID string, since, until int64) ([]IndicatorWindowStat, error) {
	var items []IndicatorWindowStat
	err := r.db.WithContext(ctx).
		Model(&models.KPIResultHistory{}).
		Select("indicator_id, COUNT(CASE WHEN status = ? THEN 1 END) AS hits, COUNT(*) AS total", models.StatusHit).
		Where("asset_id = ? AND created_at >= ? AND created_at <= ?", assetID, since, until).
		Where("status IN ?", []models.VerdictStatus{models.StatusHit, models.StatusMiss}).
		Group("indicator_id").
		Scan(&items).Error
	if err != nil {
		return nil, kpierr.Store(err)
	}
	return items, nil
}

// CountHistory 历史记录数量，用于测试和状态展示
func (r *ResultRepo) CountHistory(ctx context.Context, assetID, indicatorID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.KPIResultHistory{}).
		Where("asset_id = ? AND indicator_id = ?", assetID, indicatorID).
		Count(&count).Error
	return count, kpierr.Store(err)
}

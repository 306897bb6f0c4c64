package repo

import (
	"context"
	"errors"

	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/dushixiang/kpimon/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AssetRepo struct {
	db *gorm.DB
}

func NewAssetRepo(db *gorm.DB) *AssetRepo {
	return &AssetRepo{
		db: db,
	}
}

// FindAll 所有未删除的资产
func (r *AssetRepo) FindAll(ctx context.Context) ([]models.Asset, error) {
	var items []models.Asset
	err := r.db.WithContext(ctx).Order("name").Find(&items).Error
	return items, kpierr.Store(err)
}

// FindById 未删除的资产，不存在时返回 nil
func (r *AssetRepo) FindById(ctx context.Context, id string) (*models.Asset, error) {
	var asset models.Asset
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, kpierr.Store(err)
	}
	return &asset, nil
}

// Save 按主键覆盖写入
func (r *AssetRepo) Save(ctx context.Context, asset *models.Asset) error {
	return kpierr.Store(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "url", "impact_level", "criticality", "updated_at", "deleted_at"}),
		}).
		Create(asset).Error)
}

// Delete 软删除，删除后不再调度
func (r *AssetRepo) Delete(ctx context.Context, id string) error {
	return kpierr.Store(r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Asset{}).Error)
}

type IndicatorRepo struct {
	db *gorm.DB
}

func NewIndicatorRepo(db *gorm.DB) *IndicatorRepo {
	return &IndicatorRepo{
		db: db,
	}
}

// FindAutomaticByFrequency 某个频率档位下自动执行的指标
func (r *IndicatorRepo) FindAutomaticByFrequency(ctx context.Context, frequency models.Frequency) ([]models.Indicator, error) {
	var items []models.Indicator
	err := r.db.WithContext(ctx).
		Where("frequency = ? AND automatic = ? AND kind <> ''", frequency, true).
		Order("code").
		Find(&items).Error
	return items, kpierr.Store(err)
}

// FindAll 所有未删除的指标
func (r *IndicatorRepo) FindAll(ctx context.Context) ([]models.Indicator, error) {
	var items []models.Indicator
	err := r.db.WithContext(ctx).Order("code").Find(&items).Error
	return items, kpierr.Store(err)
}

// FindById 未删除的指标，不存在时返回 nil
func (r *IndicatorRepo) FindById(ctx context.Context, id string) (*models.Indicator, error) {
	var indicator models.Indicator
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&indicator).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, kpierr.Store(err)
	}
	return &indicator, nil
}

// Save 按主键覆盖写入
func (r *IndicatorRepo) Save(ctx context.Context, indicator *models.Indicator) error {
	return kpierr.Store(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"code", "name", "kind", "check_name", "outcome", "target_high", "target_medium", "target_low",
				"frequency", "severity", "kpi_group", "weight", "streak_length", "automatic", "updated_at", "deleted_at",
			}),
		}).
		Create(indicator).Error)
}

type MetricWeightRepo struct {
	db *gorm.DB
}

func NewMetricWeightRepo(db *gorm.DB) *MetricWeightRepo {
	return &MetricWeightRepo{
		db: db,
	}
}

// FindAll 所有权重
func (r *MetricWeightRepo) FindAll(ctx context.Context) ([]models.MetricWeight, error) {
	var items []models.MetricWeight
	err := r.db.WithContext(ctx).Order("category, name").Find(&items).Error
	return items, kpierr.Store(err)
}

// Save 按 (分类, 名称) 覆盖写入
func (r *MetricWeightRepo) Save(ctx context.Context, weight *models.MetricWeight) error {
	return kpierr.Store(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "category"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"weight"}),
		}).
		Create(weight).Error)
}

type LookupRepo struct {
	db *gorm.DB
}

func NewLookupRepo(db *gorm.DB) *LookupRepo {
	return &LookupRepo{
		db: db,
	}
}

// FindByType 取某类型的第一条字典项，不存在时返回 nil
func (r *LookupRepo) FindByType(ctx context.Context, typ string) (*models.Lookup, error) {
	var lookup models.Lookup
	err := r.db.WithContext(ctx).Where("type = ?", typ).Order("id").First(&lookup).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, kpierr.Store(err)
	}
	return &lookup, nil
}

// Save 按 (类型, 名称) 覆盖写入
func (r *LookupRepo) Save(ctx context.Context, lookup *models.Lookup) error {
	return kpierr.Store(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "type"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(lookup).Error)
}

type AssetMetricRepo struct {
	db *gorm.DB
}

func NewAssetMetricRepo(db *gorm.DB) *AssetMetricRepo {
	return &AssetMetricRepo{
		db: db,
	}
}

// Save 每个资产一行，重复计算时覆盖
func (r *AssetMetricRepo) Save(ctx context.Context, metric *models.AssetMetric) error {
	return kpierr.Store(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "asset_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"accessibility_index", "availability_index", "navigation_index", "performance_index",
				"security_index", "user_exp_index", "chm", "ocm", "drei", "current_health",
				"period_start", "period_end", "calculated_at", "breakdown",
			}),
		}).
		Create(metric).Error)
}

// FindByAssetID 不存在时返回 nil
func (r *AssetMetricRepo) FindByAssetID(ctx context.Context, assetID string) (*models.AssetMetric, error) {
	var metric models.AssetMetric
	err := r.db.WithContext(ctx).Where("asset_id = ?", assetID).First(&metric).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, kpierr.Store(err)
	}
	return &metric, nil
}

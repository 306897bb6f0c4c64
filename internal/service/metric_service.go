package service

import (
	"context"
	"math"
	"time"

	"github.com/dushixiang/kpimon/internal/metric"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/dushixiang/kpimon/internal/repo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MetricService 资产健康度聚合
type MetricService struct {
	ResultRepo      *repo.ResultRepo
	IncidentRepo    *repo.IncidentRepo
	AssetMetricRepo *repo.AssetMetricRepo
	catalog         *CatalogService
	logger          *zap.Logger

	window             time.Duration
	defaultCriticality float64
}

func NewMetricService(logger *zap.Logger, db *gorm.DB, catalog *CatalogService, window time.Duration, defaultCriticality float64) *MetricService {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &MetricService{
		ResultRepo:         repo.NewResultRepo(db),
		IncidentRepo:       repo.NewIncidentRepo(db),
		AssetMetricRepo:    repo.NewAssetMetricRepo(db),
		catalog:            catalog,
		logger:             logger,
		window:             window,
		defaultCriticality: defaultCriticality,
	}
}

// Recalculate 以 windowEnd 为窗口终点重新计算资产的各项指数并覆盖写入
// 相同的输入得到相同的结果
func (s *MetricService) Recalculate(ctx context.Context, asset *models.Asset, windowEnd time.Time) (*models.AssetMetric, error) {
	until := windowEnd.UnixMilli()
	since := windowEnd.Add(-s.window).UnixMilli()

	indicators, err := s.catalog.Indicators(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Indicator, len(indicators))
	for _, indicator := range indicators {
		byID[indicator.ID] = indicator
	}

	stats, err := s.ResultRepo.WindowStats(ctx, asset.ID, since, until)
	if err != nil {
		return nil, err
	}
	rates := make([]metric.IndicatorRate, 0, len(stats))
	var checks, misses int64
	for _, stat := range stats {
		indicator, ok := byID[stat.IndicatorID]
		if !ok {
			// 指标已删除
			continue
		}
		checks += stat.Total
		misses += stat.Total - stat.Hits
		rates = append(rates, metric.IndicatorRate{
			IndicatorID: stat.IndicatorID,
			Group:       indicator.Group,
			Weight:      indicator.Weight,
			Hits:        stat.Hits,
			Total:       stat.Total,
		})
	}

	weights, err := s.catalog.Weights(ctx)
	if err != nil {
		return nil, err
	}

	severityCounts, err := s.IncidentRepo.CountBySeverity(ctx, asset.ID)
	if err != nil {
		return nil, err
	}
	incidents := make(map[models.Severity]models.SeverityStat, len(severityCounts))
	for _, c := range severityCounts {
		incidents[c.Severity] = models.SeverityStat{Open: c.Open, Total: c.Total}
	}

	level := asset.Criticality
	if level == "" {
		level = asset.ImpactLevel
	}
	criticality := metric.Criticality(level, weights.Category(models.WeightCategoryCriticality), s.defaultCriticality)

	groups := metric.GroupIndices(rates)
	chm := metric.Composite(groups, weights.Category(models.WeightCategoryCHM))
	ocm := metric.Composite(groups, weights.Category(models.WeightCategoryOCM))
	rawDREI, drei := metric.DREI(metric.DREIInput{
		Incidents:   incidents,
		Checks:      checks,
		Misses:      misses,
		Weights:     weights.Category(models.WeightCategoryDREI),
		Criticality: criticality,
	})
	health := metric.CurrentHealth(ocm, drei)

	result := &models.AssetMetric{
		AssetID:       asset.ID,
		CHM:           round2(chm),
		OCM:           round2(ocm),
		DREI:          round2(drei),
		CurrentHealth: round2(health),
		PeriodStart:   since,
		PeriodEnd:     until,
		CalculatedAt:  until,
		Breakdown: datatypes.NewJSONType(models.MetricBreakdown{
			Groups:      groups,
			Incidents:   incidents,
			Checks:      checks,
			Misses:      misses,
			Criticality: criticality,
			RawDREI:     rawDREI,
		}),
	}
	for group, stat := range groups {
		result.SetGroupIndex(group, round2(stat.Index))
	}

	if err := s.AssetMetricRepo.Save(ctx, result); err != nil {
		s.logger.Error("保存资产指标失败", zap.String("assetId", asset.ID), zap.Error(err))
		return nil, err
	}

	s.logger.Debug("资产指标已更新",
		zap.String("assetId", asset.ID),
		zap.Float64("chm", result.CHM),
		zap.Float64("ocm", result.OCM),
		zap.Float64("drei", result.DREI),
		zap.Float64("currentHealth", result.CurrentHealth))
	return result, nil
}

// FindByAssetID 查询已保存的资产指标
func (s *MetricService) FindByAssetID(ctx context.Context, assetID string) (*models.AssetMetric, error) {
	return s.AssetMetricRepo.FindByAssetID(ctx, assetID)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/dushixiang/kpimon/internal/repo"
	"github.com/go-orz/cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	weightsCacheKey = "weights"
	streakCacheKey  = "streak"
)

// Weights 分类 -> 名称 -> 权重
type Weights map[string]map[string]float64

// Category 某个分类下的权重，不存在时返回空 map
func (w Weights) Category(category string) map[string]float64 {
	if m, ok := w[category]; ok {
		return m
	}
	return map[string]float64{}
}

// CatalogService 资产、指标、权重和字典
type CatalogService struct {
	AssetRepo     *repo.AssetRepo
	IndicatorRepo *repo.IndicatorRepo
	WeightRepo    *repo.MetricWeightRepo
	LookupRepo    *repo.LookupRepo
	logger        *zap.Logger

	defaultStreak int
	ttl           time.Duration
	weightsCache  cache.Cache[string, Weights]
	streakCache   cache.Cache[string, int]
}

func NewCatalogService(logger *zap.Logger, db *gorm.DB, defaultStreak int, ttl time.Duration) *CatalogService {
	if defaultStreak <= 0 {
		defaultStreak = 3
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CatalogService{
		AssetRepo:     repo.NewAssetRepo(db),
		IndicatorRepo: repo.NewIndicatorRepo(db),
		WeightRepo:    repo.NewMetricWeightRepo(db),
		LookupRepo:    repo.NewLookupRepo(db),
		logger:        logger,
		defaultStreak: defaultStreak,
		ttl:           ttl,
		weightsCache:  cache.New[string, Weights](ttl),
		streakCache:   cache.New[string, int](ttl),
	}
}

// Assets 所有可调度的资产
func (s *CatalogService) Assets(ctx context.Context) ([]models.Asset, error) {
	return s.AssetRepo.FindAll(ctx)
}

// Asset 查询资产，不存在时返回 ErrAssetNotFound
func (s *CatalogService) Asset(ctx context.Context, id string) (*models.Asset, error) {
	asset, err := s.AssetRepo.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, kpierr.Wrap(kpierr.ErrAssetNotFound, &notFoundError{kind: "asset", id: id})
	}
	return asset, nil
}

// Indicator 查询指标，不存在时返回 ErrIndicatorNotFound
func (s *CatalogService) Indicator(ctx context.Context, id string) (*models.Indicator, error) {
	indicator, err := s.IndicatorRepo.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if indicator == nil {
		return nil, kpierr.Wrap(kpierr.ErrIndicatorNotFound, &notFoundError{kind: "indicator", id: id})
	}
	return indicator, nil
}

// DueIndicators 某个档位下需要自动执行的指标
func (s *CatalogService) DueIndicators(ctx context.Context, frequency models.Frequency) ([]models.Indicator, error) {
	return s.IndicatorRepo.FindAutomaticByFrequency(ctx, frequency)
}

// Indicators 所有指标
func (s *CatalogService) Indicators(ctx context.Context) ([]models.Indicator, error) {
	return s.IndicatorRepo.FindAll(ctx)
}

// Weights 所有权重，带缓存
func (s *CatalogService) Weights(ctx context.Context) (Weights, error) {
	if cached, ok := s.weightsCache.Get(weightsCacheKey); ok {
		return cached, nil
	}

	items, err := s.WeightRepo.FindAll(ctx)
	if err != nil {
		s.logger.Error("查询指标权重失败", zap.Error(err))
		return nil, err
	}
	weights := make(Weights)
	for _, item := range items {
		if weights[item.Category] == nil {
			weights[item.Category] = make(map[string]float64)
		}
		weights[item.Category][item.Name] = item.Weight
	}
	s.weightsCache.Set(weightsCacheKey, weights, s.ttl)
	return weights, nil
}

// StreakLength 触发事件需要的连续次数：指标自身配置 > 全局字典 > 默认值
func (s *CatalogService) StreakLength(ctx context.Context, indicator *models.Indicator) int {
	if indicator.StreakLength > 0 {
		return indicator.StreakLength
	}
	if cached, ok := s.streakCache.Get(streakCacheKey); ok {
		return cached
	}

	streak := s.defaultStreak
	lookup, err := s.LookupRepo.FindByType(ctx, models.LookupIncidentCreationFrequency)
	if err != nil {
		s.logger.Warn("查询事件触发次数失败，使用默认值", zap.Int("default", streak), zap.Error(err))
		return streak
	}
	if lookup != nil {
		if v, ok := parseStreak(lookup.Value, lookup.Name); ok {
			streak = v
		}
	}
	s.streakCache.Set(streakCacheKey, streak, s.ttl)
	return streak
}

// InvalidateCache 目录变更后清空缓存，其他进程导入的目录在缓存过期或调用 /api/catalog/reload 后生效
func (s *CatalogService) InvalidateCache() {
	s.weightsCache.Delete(weightsCacheKey)
	s.streakCache.Delete(streakCacheKey)
}

// parseStreak 优先取 Value，兼容把次数写在 Name 里的旧数据
func parseStreak(candidates ...string) (int, bool) {
	for _, c := range candidates {
		v, err := strconv.Atoi(strings.TrimSpace(c))
		if err == nil && v > 0 {
			return v, true
		}
	}
	return 0, false
}

type notFoundError struct {
	kind string
	id   string
}

func (e *notFoundError) Error() string {
	return e.kind + " " + e.id + " not found"
}

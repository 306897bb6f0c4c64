package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/kpimon/internal/models"
	"github.com/dushixiang/kpimon/internal/probe"
	"github.com/dushixiang/kpimon/internal/repo"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Catalog 资产和指标目录文件
type Catalog struct {
	Assets     []CatalogAsset                `yaml:"assets"`
	Indicators []CatalogIndicator            `yaml:"indicators"`
	Weights    map[string]map[string]float64 `yaml:"weights"` // 分类 -> 名称 -> 权重
	Lookups    []CatalogLookup               `yaml:"lookups"`
}

type CatalogAsset struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	ImpactLevel string `yaml:"impact"`
	Criticality string `yaml:"criticality"`
}

type CatalogIndicator struct {
	ID        string  `yaml:"id"`
	Code      string  `yaml:"code"`
	Name      string  `yaml:"name"`
	Kind      string  `yaml:"kind"`
	Check     string  `yaml:"check"`
	Outcome   string  `yaml:"outcome"`
	Targets   Targets `yaml:"targets"`
	Frequency string  `yaml:"frequency"`
	Severity  string  `yaml:"severity"`
	Group     string  `yaml:"group"`
	Weight    float64 `yaml:"weight"`
	Streak    int     `yaml:"streak"`
	Manual    bool    `yaml:"manual"`
}

type Targets struct {
	High   string `yaml:"high"`
	Medium string `yaml:"medium"`
	Low    string `yaml:"low"`
}

type CatalogLookup struct {
	Type  string `yaml:"type"`
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// ParseCatalog 解析并校验目录文件
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for _, item := range catalog.Indicators {
		if item.Code == "" {
			return nil, fmt.Errorf("indicator %q: code is required", item.Name)
		}
		if _, ok := probe.ParseKind(item.Kind); !ok {
			return nil, fmt.Errorf("indicator %s: unknown kind %q", item.Code, item.Kind)
		}
		if _, ok := models.ParseOutcome(item.Outcome); !ok {
			return nil, fmt.Errorf("indicator %s: unknown outcome %q", item.Code, item.Outcome)
		}
		if _, ok := models.ParseFrequency(item.Frequency); !ok {
			return nil, fmt.Errorf("indicator %s: unknown frequency %q", item.Code, item.Frequency)
		}
	}
	for _, item := range catalog.Assets {
		if item.URL == "" {
			return nil, fmt.Errorf("asset %q: url is required", item.Name)
		}
	}
	return &catalog, nil
}

// stableID 目录里没有指定 ID 时，根据业务键生成固定的 ID，重复导入不会产生新记录
func stableID(kind, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+":"+key)).String()
}

// Seed 在一个事务内导入目录
func Seed(ctx context.Context, logger *zap.Logger, db *gorm.DB, catalog *Catalog) error {
	now := time.Now().UnixMilli()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assetRepo := repo.NewAssetRepo(tx)
		for _, item := range catalog.Assets {
			id := item.ID
			if id == "" {
				id = stableID("asset", item.URL)
			}
			asset := &models.Asset{
				ID:          id,
				Name:        item.Name,
				URL:         item.URL,
				ImpactLevel: item.ImpactLevel,
				Criticality: item.Criticality,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := assetRepo.Save(ctx, asset); err != nil {
				return err
			}
		}

		indicatorRepo := repo.NewIndicatorRepo(tx)
		for _, item := range catalog.Indicators {
			id := item.ID
			if id == "" {
				id = stableID("indicator", item.Code)
			}
			outcome, _ := models.ParseOutcome(item.Outcome)
			frequency, _ := models.ParseFrequency(item.Frequency)
			indicator := &models.Indicator{
				ID:           id,
				Code:         item.Code,
				Name:         item.Name,
				Kind:         item.Kind,
				Check:        item.Check,
				Outcome:      outcome,
				TargetHigh:   item.Targets.High,
				TargetMedium: item.Targets.Medium,
				TargetLow:    item.Targets.Low,
				Frequency:    frequency,
				Severity:     models.Severity(item.Severity),
				Group:        item.Group,
				Weight:       item.Weight,
				StreakLength: item.Streak,
				Automatic:    !item.Manual,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := indicatorRepo.Save(ctx, indicator); err != nil {
				return err
			}
		}

		weightRepo := repo.NewMetricWeightRepo(tx)
		for category, weights := range catalog.Weights {
			for name, weight := range weights {
				if err := weightRepo.Save(ctx, &models.MetricWeight{Category: category, Name: name, Weight: weight}); err != nil {
					return err
				}
			}
		}

		lookupRepo := repo.NewLookupRepo(tx)
		for _, item := range catalog.Lookups {
			if err := lookupRepo.Save(ctx, &models.Lookup{Type: item.Type, Name: item.Name, Value: item.Value}); err != nil {
				return err
			}
		}

		logger.Info("目录导入完成",
			zap.Int("assets", len(catalog.Assets)),
			zap.Int("indicators", len(catalog.Indicators)),
			zap.Int("lookups", len(catalog.Lookups)))
		return nil
	})
}

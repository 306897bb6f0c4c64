package migrate

import (
	"context"
	"testing"

	"github.com/dushixiang/kpimon/internal/config"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/dushixiang/kpimon/internal/repo"
	"github.com/dushixiang/kpimon/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const catalogYAML = `
assets:
  - name: Portal
    url: https://portal.example
    impact: High
    criticality: High
indicators:
  - code: uptime
    name: Site Uptime
    kind: availability
    check: uptime
    outcome: Flag
    frequency: 1 min
    severity: P1
    group: Availability & Reliability
    weight: 2
  - code: wcag
    name: WCAG Score
    kind: accessibility
    check: wcag
    outcome: "%"
    targets:
      high: "95"
      low: "80"
    frequency: Daily
    severity: P3
    group: Accessibility & Inclusivity
    weight: 1
    manual: true
weights:
  CHM:
    Availability & Reliability: 2
    Accessibility & Inclusivity: 1
  AssetCriticality:
    High: 100
lookups:
  - type: IncidentCreationFrequency
    name: "3"
    value: "3"
`

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, Migrate(zap.NewNop(), db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestParseCatalog(t *testing.T) {
	catalog, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	assert.Len(t, catalog.Assets, 1)
	assert.Len(t, catalog.Indicators, 2)
	assert.Equal(t, "95", catalog.Indicators[1].Targets.High)
	assert.Equal(t, 100.0, catalog.Weights["AssetCriticality"]["High"])

	cases := map[string]string{
		"缺少 code":   "indicators:\n  - name: x\n    kind: dns\n    outcome: Flag\n    frequency: 5m\n",
		"未知探测类型":    "indicators:\n  - code: x\n    kind: ftp\n    outcome: Flag\n    frequency: 5m\n",
		"未知结果类型":    "indicators:\n  - code: x\n    kind: dns\n    outcome: Liters\n    frequency: 5m\n",
		"未知频率":      "indicators:\n  - code: x\n    kind: dns\n    outcome: Flag\n    frequency: hourly\n",
		"资产缺少 url":  "assets:\n  - name: Portal\n",
		"yaml 格式错误": "assets: [",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	catalog, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	require.NoError(t, Seed(ctx, zap.NewNop(), db, catalog))
	require.NoError(t, Seed(ctx, zap.NewNop(), db, catalog))

	assets, err := repo.NewAssetRepo(db).FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, stableID("asset", "https://portal.example"), assets[0].ID)

	indicators, err := repo.NewIndicatorRepo(db).FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, indicators, 2)

	due, err := repo.NewIndicatorRepo(db).FindAutomaticByFrequency(ctx, models.Frequency1m)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "uptime", due[0].Code)

	// 手动指标不参与调度
	daily, err := repo.NewIndicatorRepo(db).FindAutomaticByFrequency(ctx, models.FrequencyDaily)
	require.NoError(t, err)
	assert.Empty(t, daily)

	weights, err := repo.NewMetricWeightRepo(db).FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, weights, 3)

	lookup, err := repo.NewLookupRepo(db).FindByType(ctx, models.LookupIncidentCreationFrequency)
	require.NoError(t, err)
	require.NotNil(t, lookup)
	assert.Equal(t, "3", lookup.Value)
}

func TestMigrateNormalizesLegacyValues(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Indicator{
		ID:        "legacy",
		Code:      "legacy",
		Name:      "Legacy",
		Kind:      "dns",
		Outcome:   "Sec",
		Frequency: "15 min",
		Automatic: true,
	}).Error)

	require.NoError(t, Migrate(zap.NewNop(), db))

	indicator, err := repo.NewIndicatorRepo(db).FindById(context.Background(), "legacy")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSeconds, indicator.Outcome)
	assert.Equal(t, models.Frequency15m, indicator.Frequency)
}

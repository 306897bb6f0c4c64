package repo

import (
	"context"
	"testing"

	"github.com/dushixiang/kpimon/internal/config"
	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/dushixiang/kpimon/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Asset{},
		&models.Indicator{},
		&models.KPIResult{},
		&models.KPIResultHistory{},
		&models.Incident{},
		&models.IncidentHistory{},
	))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestLastNResultsIgnoresSkippedAndError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	results := NewResultRepo(db)

	statuses := []models.VerdictStatus{
		models.StatusMiss, models.StatusSkipped, models.StatusHit, models.StatusError, models.StatusMiss,
	}
	for i, status := range statuses {
		v := models.Verdict{Status: status}
		snapshot, err := results.UpsertSnapshot(ctx, "a1", "k1", v, int64(i+1))
		require.NoError(t, err)
		_, err = results.AppendHistory(ctx, snapshot, v, int64(i+1))
		require.NoError(t, err)
	}

	items, err := results.LastNResults(ctx, "a1", "k1", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.StatusMiss, items[0].Status)
	assert.Equal(t, models.StatusHit, items[1].Status)

	empty, err := results.LastNResults(ctx, "a1", "k1", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	count, err := results.CountHistory(ctx, "a1", "k1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	snapshot, err := results.FindSnapshot(ctx, "a1", "k1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, snapshot.CreatedAt)
	assert.EqualValues(t, 5, snapshot.UpdatedAt)
	assert.Equal(t, models.StatusMiss, snapshot.Status)
}

func TestWindowStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	results := NewResultRepo(db)

	write := func(indicatorID string, status models.VerdictStatus, at int64) {
		v := models.Verdict{Status: status}
		snapshot, err := results.UpsertSnapshot(ctx, "a1", indicatorID, v, at)
		require.NoError(t, err)
		_, err = results.AppendHistory(ctx, snapshot, v, at)
		require.NoError(t, err)
	}
	write("k1", models.StatusHit, 100)
	write("k1", models.StatusMiss, 200)
	write("k1", models.StatusSkipped, 300)
	write("k1", models.StatusHit, 50) // 窗口外
	write("k2", models.StatusHit, 150)

	stats, err := results.WindowStats(ctx, "a1", 100, 300)
	require.NoError(t, err)
	byID := map[string]IndicatorWindowStat{}
	for _, s := range stats {
		byID[s.IndicatorID] = s
	}
	assert.Equal(t, IndicatorWindowStat{IndicatorID: "k1", Hits: 1, Total: 2}, byID["k1"])
	assert.Equal(t, IndicatorWindowStat{IndicatorID: "k2", Hits: 1, Total: 1}, byID["k2"])
}

func TestIncidentOpenKey(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	incidents := NewIncidentRepo(db)

	key := models.OpenKeyFor("a1", "k1")
	first := &models.Incident{ID: "i1", AssetID: "a1", IndicatorID: "k1", Type: models.IncidentTypeAuto,
		Severity: models.SeverityP1, Status: models.IncidentStatusOpen, OpenKey: &key}
	require.NoError(t, incidents.Create(ctx, first))

	dup := &models.Incident{ID: "i2", AssetID: "a1", IndicatorID: "k1", Type: models.IncidentTypeAuto,
		Status: models.IncidentStatusOpen, OpenKey: &key}
	err := incidents.Create(ctx, dup)
	assert.ErrorIs(t, err, kpierr.ErrStoreWriteConflict)

	open, err := incidents.FindOpenAuto(ctx, "a1", "k1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "i1", open.ID)

	ok, err := incidents.Resolve(ctx, open, models.SystemUser, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	// 再次关闭不产生更新
	ok, err = incidents.Resolve(ctx, open, models.SystemUser, 11)
	require.NoError(t, err)
	assert.False(t, ok)

	// 唯一键释放后可以再次创建
	require.NoError(t, incidents.Create(ctx, dup))

	counts, err := incidents.CountBySeverity(ctx, "a1")
	require.NoError(t, err)
	var open1, total int64
	for _, c := range counts {
		open1 += c.Open
		total += c.Total
	}
	assert.EqualValues(t, 1, open1)
	assert.EqualValues(t, 2, total)
}

func TestAssetSoftDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	assets := NewAssetRepo(db)

	require.NoError(t, assets.Save(ctx, &models.Asset{ID: "a1", Name: "Portal", URL: "https://portal.example"}))
	require.NoError(t, assets.Save(ctx, &models.Asset{ID: "a2", Name: "Blog", URL: "https://blog.example"}))
	require.NoError(t, assets.Delete(ctx, "a2"))

	items, err := assets.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a1", items[0].ID)

	deleted, err := assets.FindById(ctx, "a2")
	require.NoError(t, err)
	assert.Nil(t, deleted)
}

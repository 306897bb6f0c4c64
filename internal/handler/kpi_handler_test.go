package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dushixiang/kpimon/internal/config"
	"github.com/dushixiang/kpimon/internal/migrate"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/dushixiang/kpimon/internal/probe"
	"github.com/dushixiang/kpimon/internal/repo"
	"github.com/dushixiang/kpimon/internal/service"
	"github.com/dushixiang/kpimon/internal/storage"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staticStatus struct{}

func (staticStatus) GetTaskStatus() map[string]interface{} {
	return map[string]interface{}{"totalTasks": 4}
}

func newTestServer(t *testing.T) (*echo.Echo, *KPIHandler, *gorm.DB, *service.MetricService) {
	t.Helper()
	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(zap.NewNop(), db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	ctx := context.Background()
	require.NoError(t, repo.NewAssetRepo(db).Save(ctx, &models.Asset{ID: "a1", Name: "Portal", URL: "https://portal.example", ImpactLevel: "Low"}))
	require.NoError(t, repo.NewIndicatorRepo(db).Save(ctx, &models.Indicator{
		ID: "k1", Code: "page_load", Name: "Page Load", Kind: string(probe.KindBrowser), Check: "page_load",
		Outcome: models.OutcomeSeconds, TargetLow: "5s", Frequency: models.Frequency15m, Severity: models.SeverityP3,
		Group: models.GroupPerformance, Weight: 1, Automatic: true,
	}))

	fake := probe.Func{K: probe.KindBrowser, F: func(ctx context.Context, target probe.Target) (probe.Result, error) {
		v := 3.2
		return probe.Result{Value: &v, Details: "loaded"}, nil
	}}

	logger := zap.NewNop()
	catalog := service.NewCatalogService(logger, db, 3, time.Minute)
	evaluation := service.NewEvaluationService(logger, db, probe.NewRegistry(fake), catalog, service.NewIncidentService(logger, ""))
	metrics := service.NewMetricService(logger, db, catalog, 30*24*time.Hour, 30)
	h := NewKPIHandler(logger, evaluation, catalog, metrics, staticStatus{}, time.Minute)

	e := echo.New()
	e.Validator = NewRequestValidator()
	h.Register(e)
	return e, h, db, metrics
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestManualCheck(t *testing.T) {
	e, h, db, _ := newTestServer(t)

	t.Run("同步执行返回结果", func(t *testing.T) {
		rec := doRequest(e, http.MethodPost, "/api/kpi/manual-check?wait=true", `{"kpiId":"k1","assetId":"a1"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Verdict  models.Verdict   `json:"verdict"`
			Snapshot models.KPIResult `json:"snapshot"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, models.StatusHit, body.Verdict.Status)
		assert.Equal(t, "3.2", body.Snapshot.Result)
		assert.Equal(t, "5s", body.Snapshot.Target)
	})

	t.Run("后台执行返回预计耗时", func(t *testing.T) {
		rec := doRequest(e, http.MethodPost, "/api/kpi/manual-check", `{"kpiId":"k1","assetId":"a1"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "15-20 seconds")

		h.Wait()
		count, err := repo.NewResultRepo(db).CountHistory(context.Background(), "a1", "k1")
		require.NoError(t, err)
		assert.EqualValues(t, 2, count)
	})

	t.Run("缺少参数", func(t *testing.T) {
		rec := doRequest(e, http.MethodPost, "/api/kpi/manual-check", `{"kpiId":"k1"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("资产不存在", func(t *testing.T) {
		rec := doRequest(e, http.MethodPost, "/api/kpi/manual-check", `{"kpiId":"k1","assetId":"nope"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("指标不存在", func(t *testing.T) {
		rec := doRequest(e, http.MethodPost, "/api/kpi/manual-check", `{"kpiId":"nope","assetId":"a1"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStatusAndMetrics(t *testing.T) {
	e, _, db, metrics := newTestServer(t)

	rec := doRequest(e, http.MethodGet, "/api/scheduler/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalTasks":4`)

	rec = doRequest(e, http.MethodGet, "/api/assets/a1/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	asset, err := repo.NewAssetRepo(db).FindById(context.Background(), "a1")
	require.NoError(t, err)
	_, err = metrics.Recalculate(context.Background(), asset, time.Now())
	require.NoError(t, err)

	rec = doRequest(e, http.MethodGet, "/api/assets/a1/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "a1", body["assetId"])
	assert.Contains(t, body, "breakdown")
}

func TestAssetResultsAndCatalogReload(t *testing.T) {
	e, _, _, _ := newTestServer(t)

	rec := doRequest(e, http.MethodGet, "/api/assets/a1/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = doRequest(e, http.MethodPost, "/api/kpi/manual-check?wait=true", `{"kpiId":"k1","assetId":"a1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodGet, "/api/assets/a1/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []models.KPIResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "k1", items[0].IndicatorID)
	assert.Equal(t, models.StatusHit, items[0].Status)

	rec = doRequest(e, http.MethodGet, "/api/assets/nope/results", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(e, http.MethodPost, "/api/catalog/reload", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/dushixiang/kpimon/internal/probe"
	"github.com/dushixiang/kpimon/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// 各探测类型的预计耗时
var estimatedTimes = map[probe.Kind]string{
	probe.KindAvailability:  "5-10 seconds",
	probe.KindDNS:           "5-10 seconds",
	probe.KindCertificate:   "10-15 seconds",
	probe.KindBrowser:       "15-20 seconds",
	probe.KindAccessibility: "20-30 seconds",
}

const defaultEstimatedTime = "10-30 seconds"

// StatusProvider 调度状态
type StatusProvider interface {
	GetTaskStatus() map[string]interface{}
}

// ManualCheckRequest 手动检测请求
type ManualCheckRequest struct {
	KPIID   string `json:"kpiId" validate:"required"`
	AssetID string `json:"assetId" validate:"required"`
}

// KPIHandler KPI 手动检测和状态查询
type KPIHandler struct {
	logger     *zap.Logger
	evaluation *service.EvaluationService
	catalog    *service.CatalogService
	metrics    *service.MetricService
	status     StatusProvider
	timeout    time.Duration

	background sync.WaitGroup
}

// NewKPIHandler 创建处理器
func NewKPIHandler(logger *zap.Logger, evaluation *service.EvaluationService, catalog *service.CatalogService, metrics *service.MetricService, status StatusProvider, timeout time.Duration) *KPIHandler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &KPIHandler{
		logger:     logger,
		evaluation: evaluation,
		catalog:    catalog,
		metrics:    metrics,
		status:     status,
		timeout:    timeout,
	}
}

// Register 注册路由
func (h *KPIHandler) Register(e *echo.Echo) {
	api := e.Group("/api")
	api.POST("/kpi/manual-check", h.ManualCheck)
	api.GET("/scheduler/status", h.SchedulerStatus)
	api.GET("/assets/:id/metrics", h.AssetMetrics)
	api.GET("/assets/:id/results", h.AssetResults)
	api.POST("/catalog/reload", h.ReloadCatalog)
}

// ManualCheck 手动执行一次 (资产, 指标) 检测
// POST /api/kpi/manual-check
func (h *KPIHandler) ManualCheck(c echo.Context) error {
	var req ManualCheckRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "kpiId 和 assetId 不能为空",
		})
	}

	ctx := c.Request().Context()
	if _, err := h.catalog.Asset(ctx, req.AssetID); err != nil {
		return h.lookupError(c, err)
	}
	indicator, err := h.catalog.Indicator(ctx, req.KPIID)
	if err != nil {
		return h.lookupError(c, err)
	}

	if c.QueryParam("wait") == "true" {
		result, err := h.run(ctx, req)
		if err != nil {
			return h.lookupError(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		if _, err := h.run(context.Background(), req); err != nil {
			h.logger.Error("后台手动检测失败",
				zap.String("assetId", req.AssetID),
				zap.String("indicatorId", req.KPIID),
				zap.Error(err))
		}
	}()

	estimated, ok := estimatedTimes[probe.Kind(indicator.Kind)]
	if !ok {
		estimated = defaultEstimatedTime
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message":       "检测已开始",
		"kpiId":         req.KPIID,
		"assetId":       req.AssetID,
		"status":        "started",
		"estimatedTime": estimated,
	})
}

func (h *KPIHandler) run(ctx context.Context, req ManualCheckRequest) (*service.UnitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.evaluation.EvaluateManual(ctx, req.AssetID, req.KPIID)
}

// Wait 等待后台检测结束
func (h *KPIHandler) Wait() {
	h.background.Wait()
}

// SchedulerStatus 调度任务状态
// GET /api/scheduler/status
func (h *KPIHandler) SchedulerStatus(c echo.Context) error {
	if h.status == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"totalTasks": 0})
	}
	return c.JSON(http.StatusOK, h.status.GetTaskStatus())
}

// AssetMetrics 资产健康度
// GET /api/assets/:id/metrics
func (h *KPIHandler) AssetMetrics(c echo.Context) error {
	assetID := c.Param("id")
	metric, err := h.metrics.FindByAssetID(c.Request().Context(), assetID)
	if err != nil {
		h.logger.Error("查询资产指标失败", zap.String("assetId", assetID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "查询资产指标失败",
		})
	}
	if metric == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "资产指标尚未计算",
		})
	}
	return c.JSON(http.StatusOK, metric)
}

// AssetResults 资产各指标的最新结果
// GET /api/assets/:id/results
func (h *KPIHandler) AssetResults(c echo.Context) error {
	items, err := h.evaluation.Snapshots(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.lookupError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

// ReloadCatalog 清空权重和连续次数缓存，导入目录后调用
// POST /api/catalog/reload
func (h *KPIHandler) ReloadCatalog(c echo.Context) error {
	h.catalog.InvalidateCache()
	h.logger.Info("目录缓存已清空")
	return c.JSON(http.StatusOK, map[string]string{"message": "缓存已清空"})
}

func (h *KPIHandler) lookupError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, kpierr.ErrAssetNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "资产不存在"})
	case errors.Is(err, kpierr.ErrIndicatorNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "指标不存在"})
	default:
		h.logger.Error("手动检测失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "检测失败"})
	}
}

// RequestValidator echo 请求校验
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

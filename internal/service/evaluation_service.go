package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/kpimon/internal/evaluator"
	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/dushixiang/kpimon/internal/notify"
	"github.com/dushixiang/kpimon/internal/probe"
	"github.com/dushixiang/kpimon/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Mode 评估来源
type Mode int

const (
	ModeScheduled Mode = iota
	ModeManual
)

// UnitResult 单个 (资产, 指标) 的评估结果
type UnitResult struct {
	AssetID     string                   `json:"assetId"`
	IndicatorID string                   `json:"indicatorId"`
	Verdict     models.Verdict           `json:"verdict"`
	Snapshot    *models.KPIResult        `json:"snapshot,omitempty"`
	History     *models.KPIResultHistory `json:"history,omitempty"`
	Transition  Transition               `json:"transition"`
	Incident    *models.Incident         `json:"incident,omitempty"`
	ProbeErr    error                    `json:"-"`
}

// EvaluationService 单元评估流水线：探测 -> 判定 -> 快照 -> 历史 -> 事件
type EvaluationService struct {
	logger    *zap.Logger
	db        *gorm.DB
	registry  *probe.Registry
	catalog   *CatalogService
	incidents *IncidentService
	locks     *keyedLock
	clock     func() time.Time
	notifier  notify.Notifier
	metrics   *MetricService
}

func NewEvaluationService(logger *zap.Logger, db *gorm.DB, registry *probe.Registry, catalog *CatalogService, incidents *IncidentService) *EvaluationService {
	return &EvaluationService{
		logger:    logger,
		db:        db,
		registry:  registry,
		catalog:   catalog,
		incidents: incidents,
		locks:     newKeyedLock(),
		clock:     time.Now,
	}
}

// SetClock 替换时钟，测试使用
func (s *EvaluationService) SetClock(clock func() time.Time) {
	s.clock = clock
}

// SetMetrics 手动检测完成后重新计算资产指标
func (s *EvaluationService) SetMetrics(metrics *MetricService) {
	s.metrics = metrics
}

// SetNotifier 事件打开和关闭时发送通知
func (s *EvaluationService) SetNotifier(notifier notify.Notifier) {
	s.notifier = notifier
}

// Evaluate 定时任务使用：探测失败时 Flag 指标记为 miss，其他类型记为 skipped
func (s *EvaluationService) Evaluate(ctx context.Context, asset *models.Asset, indicator *models.Indicator) (*UnitResult, error) {
	verdict, probeErr := s.Probe(ctx, asset, indicator, ModeScheduled)
	if probeErr != nil {
		s.logger.Warn("探测失败",
			zap.String("assetId", asset.ID),
			zap.String("indicatorId", indicator.ID),
			zap.String("kind", indicator.Kind),
			zap.String("status", string(verdict.Status)),
			zap.Error(probeErr))
	}
	result, err := s.Record(ctx, asset, indicator, verdict)
	if err != nil {
		return nil, err
	}
	result.ProbeErr = probeErr
	return result, nil
}

// EvaluateManual 手动触发单个 (资产, 指标) 的评估，失败时写入 error 快照
func (s *EvaluationService) EvaluateManual(ctx context.Context, assetID, indicatorID string) (*UnitResult, error) {
	asset, err := s.catalog.Asset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	indicator, err := s.catalog.Indicator(ctx, indicatorID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("手动执行指标检测",
		zap.String("assetId", asset.ID),
		zap.String("indicatorId", indicator.ID),
		zap.String("kind", indicator.Kind))

	verdict, probeErr := s.Probe(ctx, asset, indicator, ModeManual)
	result, err := s.Record(ctx, asset, indicator, verdict)
	if err != nil {
		s.recordFailure(ctx, asset, indicator, err)
		return nil, err
	}
	result.ProbeErr = probeErr

	if s.metrics != nil {
		if _, err := s.metrics.Recalculate(ctx, asset, s.clock()); err != nil {
			s.logger.Warn("手动检测后重新计算资产指标失败",
				zap.String("assetId", asset.ID),
				zap.Error(err))
		}
	}
	return result, nil
}

// Probe 执行探测并判定，错误时仍返回可写入的结论
func (s *EvaluationService) Probe(ctx context.Context, asset *models.Asset, indicator *models.Indicator, mode Mode) (verdict models.Verdict, err error) {
	target := indicator.TargetFor(asset.Impact())
	defer func() {
		if r := recover(); r != nil {
			err = kpierr.Wrap(kpierr.ErrProbeTransport, fmt.Errorf("probe panic: %v", r))
			verdict = failedVerdict(indicator, target, mode, err)
		}
	}()

	kind, ok := probe.ParseKind(indicator.Kind)
	if !ok {
		err = kpierr.Wrap(kpierr.ErrUnknownProbeKind, &probe.UnknownKindError{Kind: indicator.Kind})
		return failedVerdict(indicator, target, mode, err), err
	}
	result, err := s.registry.Execute(ctx, kind, probe.Target{
		AssetID: asset.ID,
		URL:     asset.URL,
		Check:   indicator.Check,
	})
	if err != nil {
		return failedVerdict(indicator, target, mode, err), err
	}
	return evaluator.Evaluate(result, *indicator, asset.Impact()), nil
}

// failedVerdict 探测失败时的结论
func failedVerdict(indicator *models.Indicator, target string, mode Mode, err error) models.Verdict {
	if mode == ModeManual {
		return models.Verdict{Status: models.StatusError, Target: target, Result: "Error", Details: err.Error()}
	}
	if indicator.Outcome == models.OutcomeFlag {
		return models.Verdict{
			Status:  models.StatusMiss,
			Target:  target,
			Result:  evaluator.Display(models.OutcomeFlag, true, nil),
			Details: err.Error(),
		}
	}
	return models.SkippedVerdict(target, err.Error())
}

// Record 按顺序写快照、追加历史、回读连续结果并驱动事件状态机
// 同一 (资产, 指标) 的写入在进程内串行，所有读写使用同一个连接
func (s *EvaluationService) Record(ctx context.Context, asset *models.Asset, indicator *models.Indicator, verdict models.Verdict) (*UnitResult, error) {
	// 连续次数需要在占用连接之前取得，单连接的数据库会被阻塞
	streak := s.catalog.StreakLength(ctx, indicator)

	unlock := s.locks.Lock(models.OpenKeyFor(asset.ID, indicator.ID))
	defer unlock()

	now := s.clock().UnixMilli()
	result := &UnitResult{
		AssetID:     asset.ID,
		IndicatorID: indicator.ID,
		Verdict:     verdict,
		Transition:  TransitionNone,
	}
	err := s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		// 快照和历史在同一个事务内写入，避免快照领先于历史
		err := conn.Transaction(func(tx *gorm.DB) error {
			results := repo.NewResultRepo(tx)
			snapshot, err := results.UpsertSnapshot(ctx, asset.ID, indicator.ID, verdict, now)
			if err != nil {
				return err
			}
			history, err := results.AppendHistory(ctx, snapshot, verdict, now)
			if err != nil {
				return err
			}
			result.Snapshot = snapshot
			result.History = history
			return nil
		})
		if err != nil {
			return err
		}

		transition, incident, err := s.incidents.Apply(ctx, conn, asset, indicator, verdict.Status, streak, now)
		if err != nil {
			return err
		}
		result.Transition = transition
		result.Incident = incident
		return nil
	})
	if err != nil {
		err = kpierr.Store(err)
		s.logger.Error("写入检测结果失败",
			zap.String("assetId", asset.ID),
			zap.String("indicatorId", indicator.ID),
			zap.Error(err))
		s.logger.Debug("写入检测结果失败的调用栈", zap.String("stack", kpierr.Stack(err)))
		return nil, err
	}

	s.logger.Debug("检测结果已写入",
		zap.String("assetId", asset.ID),
		zap.String("indicatorId", indicator.ID),
		zap.String("status", string(verdict.Status)),
		zap.String("result", verdict.Result),
		zap.String("transition", string(result.Transition)))

	s.notify(ctx, asset, indicator, result)
	return result, nil
}

// notify 连接释放后再发送，避免通知阻塞写入
func (s *EvaluationService) notify(ctx context.Context, asset *models.Asset, indicator *models.Indicator, result *UnitResult) {
	if s.notifier == nil || result.Incident == nil {
		return
	}
	if result.Transition != TransitionOpened && result.Transition != TransitionResolved {
		return
	}
	event := notify.Event{
		Status:    string(result.Transition),
		Asset:     asset,
		Indicator: indicator,
		Incident:  result.Incident,
		At:        s.clock(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("事件通知失败", zap.String("incidentId", result.Incident.ID), zap.Error(err))
	}
}

// recordFailure 尽力写入 error 快照，避免手动检测后快照停留在旧状态
func (s *EvaluationService) recordFailure(ctx context.Context, asset *models.Asset, indicator *models.Indicator, cause error) {
	verdict := models.Verdict{
		Status:  models.StatusError,
		Target:  indicator.TargetFor(asset.Impact()),
		Result:  "Error",
		Details: cause.Error(),
	}
	if _, err := repo.NewResultRepo(s.db).UpsertSnapshot(ctx, asset.ID, indicator.ID, verdict, s.clock().UnixMilli()); err != nil {
		s.logger.Error("写入 error 快照失败",
			zap.String("assetId", asset.ID),
			zap.String("indicatorId", indicator.ID),
			zap.Error(err))
	}
}

// Snapshots 资产下所有指标的最新结果
func (s *EvaluationService) Snapshots(ctx context.Context, assetID string) ([]models.KPIResult, error) {
	if _, err := s.catalog.Asset(ctx, assetID); err != nil {
		return nil, err
	}
	return repo.NewResultRepo(s.db).FindSnapshotsByAsset(ctx, assetID)
}

// RecentCounted 最近 n 条有效结果
func (s *EvaluationService) RecentCounted(ctx context.Context, assetID, indicatorID string, n int) ([]models.KPIResultHistory, error) {
	return repo.NewResultRepo(s.db).LastNResults(ctx, assetID, indicatorID, n)
}

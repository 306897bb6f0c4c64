package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/dushixiang/kpimon/internal/probe"
	"github.com/dushixiang/kpimon/internal/service"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const siteDownNameHint = "completely down"

// CycleSummary 一个调度周期的统计
type CycleSummary struct {
	Tier     string        `json:"tier"`
	Assets   int           `json:"assets"`
	Checks   int64         `json:"checks"`
	Hits     int64         `json:"hits"`
	Misses   int64         `json:"misses"`
	Skipped  int64         `json:"skipped"`
	Errors   int64         `json:"errors"`
	Duration time.Duration `json:"duration"`
}

type cycleCounters struct {
	checks, hits, misses, skipped, errors atomic.Int64
}

// DispatchOptions 可热更新的调度参数，下一个周期生效
type DispatchOptions struct {
	Workers         int
	SiteDownCode    string
	SiteDownStreak  int
	PreCheckTimeout time.Duration
}

// Dispatcher 按档位执行一个调度周期
type Dispatcher struct {
	logger       *zap.Logger
	catalog      *service.CatalogService
	evaluation   *service.EvaluationService
	metrics      *service.MetricService
	reachability probe.Reachability // 为空时不做预检

	mu    sync.RWMutex
	opts  DispatchOptions
	clock func() time.Time
}

func NewDispatcher(logger *zap.Logger, catalog *service.CatalogService, evaluation *service.EvaluationService, metrics *service.MetricService, reachability probe.Reachability, opts DispatchOptions) *Dispatcher {
	d := &Dispatcher{
		logger:       logger,
		catalog:      catalog,
		evaluation:   evaluation,
		metrics:      metrics,
		reachability: reachability,
		clock:        time.Now,
	}
	d.SetOptions(opts)
	return d
}

// SetOptions 更新调度参数
func (d *Dispatcher) SetOptions(opts DispatchOptions) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.SiteDownStreak <= 0 {
		opts.SiteDownStreak = 3
	}
	if opts.PreCheckTimeout <= 0 {
		opts.PreCheckTimeout = 10 * time.Second
	}
	d.mu.Lock()
	d.opts = opts
	d.mu.Unlock()
}

// Options 当前调度参数
func (d *Dispatcher) Options() DispatchOptions {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.opts
}

// RunCycle 执行一个档位的完整周期，单个资产或指标的失败不会中断其他资产
func (d *Dispatcher) RunCycle(ctx context.Context, tier models.Frequency) (*CycleSummary, error) {
	start := d.clock()
	opts := d.Options()

	assets, err := d.catalog.Assets(ctx)
	if err != nil {
		d.logger.Error("查询资产失败", zap.String("tier", string(tier)), zap.Error(err))
		return nil, err
	}
	indicators, err := d.catalog.DueIndicators(ctx, tier)
	if err != nil {
		d.logger.Error("查询指标失败", zap.String("tier", string(tier)), zap.Error(err))
		return nil, err
	}

	summary := &CycleSummary{Tier: string(tier), Assets: len(assets)}
	if len(assets) == 0 || len(indicators) == 0 {
		d.logger.Debug("没有需要执行的指标",
			zap.String("tier", string(tier)),
			zap.Int("assets", len(assets)),
			zap.Int("indicators", len(indicators)))
		summary.Duration = d.clock().Sub(start)
		return summary, nil
	}

	d.logger.Info("开始执行调度周期",
		zap.String("tier", string(tier)),
		zap.Int("assets", len(assets)),
		zap.Int("indicators", len(indicators)),
		zap.Int("workers", opts.Workers))

	// 所有资产共享同一个并发上限
	units := pool.New().WithMaxGoroutines(opts.Workers)
	counters := &cycleCounters{}

	var wg conc.WaitGroup
	for i := range assets {
		asset := &assets[i]
		wg.Go(func() {
			d.runAsset(ctx, units, tier, opts, asset, indicators, counters)
		})
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		d.logger.Error("资产调度异常", zap.String("tier", string(tier)), zap.Any("panic", recovered.Value))
	}
	units.Wait()

	summary.Checks = counters.checks.Load()
	summary.Hits = counters.hits.Load()
	summary.Misses = counters.misses.Load()
	summary.Skipped = counters.skipped.Load()
	summary.Errors = counters.errors.Load()
	summary.Duration = d.clock().Sub(start)

	d.logger.Info("调度周期执行完成",
		zap.String("tier", summary.Tier),
		zap.Int("assets", summary.Assets),
		zap.Int64("checks", summary.Checks),
		zap.Int64("hits", summary.Hits),
		zap.Int64("misses", summary.Misses),
		zap.Int64("skipped", summary.Skipped),
		zap.Int64("errors", summary.Errors),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// runAsset 执行单个资产的所有指标，全部完成后重新计算资产指标
func (d *Dispatcher) runAsset(ctx context.Context, units *pool.Pool, tier models.Frequency, opts DispatchOptions, asset *models.Asset, indicators []models.Indicator, counters *cycleCounters) {
	pending := make([]models.Indicator, len(indicators))
	copy(pending, indicators)

	if !tier.Fastest() && d.reachability != nil {
		var reachable bool
		var detail string
		runInPool(units, func() {
			pctx, cancel := context.WithTimeout(ctx, opts.PreCheckTimeout)
			defer cancel()
			reachable, detail = d.reachability.Reachable(pctx, probe.Target{AssetID: asset.ID, URL: asset.URL})
		})
		if !reachable {
			// 不可达时本周期的指标全部跳过，不写结果也不影响连续性
			counters.skipped.Add(int64(len(pending)))
			d.logger.Warn("资产预检不可达，跳过本周期",
				zap.String("tier", string(tier)),
				zap.String("assetId", asset.ID),
				zap.String("url", asset.URL),
				zap.String("detail", detail))
			return
		}
	}

	var storeDown atomic.Bool

	if tier.Fastest() {
		if idx := siteDownIndex(pending, opts.SiteDownCode); idx >= 0 {
			siteDown := pending[idx]
			pending = append(pending[:idx], pending[idx+1:]...)

			var result *service.UnitResult
			runInPool(units, func() {
				result = d.runUnit(ctx, asset, &siteDown, &storeDown, counters)
			})
			if result != nil && result.Verdict.Status == models.StatusMiss && d.siteDownStreak(ctx, asset, &siteDown, opts.SiteDownStreak) {
				counters.skipped.Add(int64(len(pending)))
				d.logger.Warn("站点连续不可用，跳过其余指标",
					zap.String("assetId", asset.ID),
					zap.String("indicatorId", siteDown.ID),
					zap.Int("skipped", len(pending)))
				pending = nil
			}
		}
	}

	var wg sync.WaitGroup
	for i := range pending {
		indicator := &pending[i]
		wg.Add(1)
		units.Go(func() {
			defer wg.Done()
			d.runUnit(ctx, asset, indicator, &storeDown, counters)
		})
	}
	wg.Wait()

	if storeDown.Load() {
		d.logger.Warn("存储不可用，跳过资产指标计算", zap.String("assetId", asset.ID))
		return
	}
	if _, err := d.metrics.Recalculate(ctx, asset, d.clock()); err != nil {
		d.logger.Error("计算资产指标失败", zap.String("assetId", asset.ID), zap.Error(err))
	}
}

// runUnit 执行一个 (资产, 指标) 单元
func (d *Dispatcher) runUnit(ctx context.Context, asset *models.Asset, indicator *models.Indicator, storeDown *atomic.Bool, counters *cycleCounters) (result *service.UnitResult) {
	defer func() {
		if r := recover(); r != nil {
			counters.errors.Add(1)
			d.logger.Error("指标执行异常",
				zap.String("assetId", asset.ID),
				zap.String("indicatorId", indicator.ID),
				zap.String("panic", fmt.Sprint(r)))
			result = nil
		}
	}()

	if storeDown.Load() {
		counters.skipped.Add(1)
		return nil
	}

	counters.checks.Add(1)
	result, err := d.evaluation.Evaluate(ctx, asset, indicator)
	if err != nil {
		counters.errors.Add(1)
		if errors.Is(err, kpierr.ErrStoreUnavailable) {
			storeDown.Store(true)
		}
		return nil
	}

	switch result.Verdict.Status {
	case models.StatusHit:
		counters.hits.Add(1)
	case models.StatusMiss:
		counters.misses.Add(1)
	case models.StatusSkipped:
		counters.skipped.Add(1)
	default:
		counters.errors.Add(1)
	}
	return result
}

// siteDownStreak 最近 n 条有效结果是否全部为 miss（包含刚写入的一条）
func (d *Dispatcher) siteDownStreak(ctx context.Context, asset *models.Asset, indicator *models.Indicator, n int) bool {
	items, err := d.evaluation.RecentCounted(ctx, asset.ID, indicator.ID, n)
	if err != nil {
		d.logger.Warn("查询站点可用性历史失败", zap.String("assetId", asset.ID), zap.Error(err))
		return false
	}
	if len(items) < n {
		return false
	}
	for _, item := range items {
		if item.Status != models.StatusMiss {
			return false
		}
	}
	return true
}

// siteDownIndex 找到 "站点完全不可用" 指标：优先按编码，其次按名称
func siteDownIndex(indicators []models.Indicator, code string) int {
	if code != "" {
		for i, indicator := range indicators {
			if indicator.Code == code {
				return i
			}
		}
	}
	for i, indicator := range indicators {
		if strings.Contains(strings.ToLower(indicator.Name), siteDownNameHint) {
			return i
		}
	}
	return -1
}

// runInPool 在池中执行并等待完成
func runInPool(p *pool.Pool, f func()) {
	done := make(chan struct{})
	p.Go(func() {
		defer close(done)
		f()
	})
	<-done
}

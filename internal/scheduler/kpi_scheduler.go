package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dushixiang/kpimon/internal/config"
	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CycleRunner 执行一个档位的周期
type CycleRunner interface {
	RunCycle(ctx context.Context, tier models.Frequency) (*CycleSummary, error)
}

// TierTask 档位调度任务
type TierTask struct {
	Tier         models.Frequency
	Spec         string        // cron 表达式
	EntryID      cron.EntryID  // cron 任务的 ID
	MisfireGrace time.Duration // 被合并的触发在此时间内可以补跑
	LastSummary  *CycleSummary
	LastError    string
}

// KPIScheduler 按频率档位触发调度周期
type KPIScheduler struct {
	mu      sync.RWMutex
	cron    *cron.Cron
	tasks   map[models.Frequency]*TierTask
	runner  CycleRunner
	lock    *RunLock
	lockTTL time.Duration
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewKPIScheduler 创建调度器
func NewKPIScheduler(runner CycleRunner, logger *zap.Logger) *KPIScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &KPIScheduler{
		cron:    cron.New(cron.WithSeconds()), // 支持秒级调度
		tasks:   make(map[models.Frequency]*TierTask),
		runner:  runner,
		lock:    NewRunLock(),
		lockTTL: time.Hour,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start 加载档位并启动 cron
func (s *KPIScheduler) Start(ctx context.Context, cfg config.SchedulerConfig) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if cfg.LockTTL > 0 {
		s.lockTTL = cfg.LockTTL
	}

	s.logger.Info("启动 KPI 调度器")

	if err := s.LoadTiers(cfg); err != nil {
		return err
	}
	s.cron.Start()

	if cfg.RunOnStartup {
		// 启动后立即执行一次最快档位
		fastest := models.Frequencies[0]
		s.running.Add(1)
		go func() {
			defer s.running.Done()
			s.trigger(fastest)
		}()
	}
	return nil
}

// Stop 停止触发新周期，并等待正在运行的周期结束
func (s *KPIScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running.Wait()

	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("KPI 调度器已停止")
}

// LoadTiers 按配置注册所有启用的档位
func (s *KPIScheduler) LoadTiers(cfg config.SchedulerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tier, task := range s.tasks {
		s.cron.Remove(task.EntryID)
		delete(s.tasks, tier)
	}

	for _, tier := range models.Frequencies {
		tc, ok := cfg.Tier(tier)
		if !ok || !tc.Enabled {
			continue
		}
		spec, err := TierSpec(tc)
		if err != nil {
			return fmt.Errorf("tier %s: %w", tier, err)
		}

		entryID, err := s.cron.AddFunc(spec, func() {
			s.trigger(tier)
		})
		if err != nil {
			return fmt.Errorf("添加 cron 任务失败: %w", err)
		}
		s.tasks[tier] = &TierTask{
			Tier:         tier,
			Spec:         spec,
			EntryID:      entryID,
			MisfireGrace: tc.MisfireGrace,
		}
		s.logger.Info("添加档位调度任务",
			zap.String("tier", string(tier)),
			zap.String("spec", spec))
	}
	return nil
}

// TierSpec 固定间隔使用 @every，每日档位使用带秒的 cron 表达式
func TierSpec(tc config.TierConfig) (string, error) {
	if tc.At != "" {
		at, err := time.Parse("15:04", tc.At)
		if err != nil {
			return "", fmt.Errorf("invalid daily time %q: %w", tc.At, err)
		}
		return fmt.Sprintf("0 %d %d * * *", at.Minute(), at.Hour()), nil
	}
	if tc.Interval <= 0 {
		return "", fmt.Errorf("interval must be positive")
	}
	return fmt.Sprintf("@every %s", tc.Interval), nil
}

// trigger 定时触发：上一个周期还在运行时合并本次触发，周期结束后在宽限期内补跑一次
func (s *KPIScheduler) trigger(tier models.Frequency) {
	for {
		token, ok := s.lock.TryAcquire(string(tier), s.lockTTL)
		if !ok {
			s.logger.Warn("上一个周期仍在运行，本次触发已合并", zap.String("tier", string(tier)))
			return
		}

		summary, err := s.runHeld(s.ctx, tier, token)
		s.record(tier, summary, err)

		missedAt, missed := s.lock.Release(token)
		if !missed {
			return
		}
		grace := s.misfireGrace(tier)
		if late := time.Since(missedAt); late > grace {
			s.logger.Warn("错过的触发已超过宽限期，不再补跑",
				zap.String("tier", string(tier)),
				zap.Duration("late", late),
				zap.Duration("grace", grace))
			return
		}
		s.logger.Info("补跑被合并的周期", zap.String("tier", string(tier)))
	}
}

// RunOnce 立即执行一次，档位正在运行时返回 ErrCycleAlreadyRunning
func (s *KPIScheduler) RunOnce(ctx context.Context, tier models.Frequency) (*CycleSummary, error) {
	token, ok := s.lock.TryAcquire(string(tier), s.lockTTL)
	if !ok {
		return nil, kpierr.Wrap(kpierr.ErrCycleAlreadyRunning, fmt.Errorf("tier %s", tier))
	}
	defer s.lock.Release(token)

	summary, err := s.runHeld(ctx, tier, token)
	s.record(tier, summary, err)
	return summary, err
}

// runHeld 执行周期，运行期间定期续期令牌，避免长周期的令牌过期后被另一个周期抢占
func (s *KPIScheduler) runHeld(ctx context.Context, tier models.Frequency, token *RunToken) (*CycleSummary, error) {
	if token.Takeover {
		s.logger.Warn("上一个周期的运行令牌已过期，已被新周期接管", zap.String("tier", string(tier)))
	}

	interval := s.lockTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if !s.lock.Refresh(token, s.lockTTL) {
					s.logger.Warn("运行令牌续期失败，令牌已被抢占", zap.String("tier", string(tier)))
					return
				}
			}
		}
	}()
	defer func() {
		close(done)
		<-stopped
	}()

	return s.runner.RunCycle(ctx, tier)
}

// RunAll 依次执行所有档位，用于测试模式
func (s *KPIScheduler) RunAll(ctx context.Context) ([]*CycleSummary, error) {
	var summaries []*CycleSummary
	for _, tier := range models.Frequencies {
		summary, err := s.RunOnce(ctx, tier)
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *KPIScheduler) record(tier models.Frequency, summary *CycleSummary, err error) {
	if err != nil {
		s.logger.Error("调度周期执行失败", zap.String("tier", string(tier)), zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[tier]
	if !ok {
		return
	}
	task.LastSummary = summary
	task.LastError = ""
	if err != nil {
		task.LastError = err.Error()
	}
}

func (s *KPIScheduler) misfireGrace(tier models.Frequency) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if task, ok := s.tasks[tier]; ok {
		return task.MisfireGrace
	}
	return 0
}

// GetTaskCount 获取任务数量
func (s *KPIScheduler) GetTaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// GetTaskStatus 获取任务状态
func (s *KPIScheduler) GetTaskStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entryMap := make(map[cron.EntryID]cron.Entry)
	for _, entry := range s.cron.Entries() {
		entryMap[entry.ID] = entry
	}

	tasks := make([]map[string]interface{}, 0, len(s.tasks))
	for _, tier := range models.Frequencies {
		task, ok := s.tasks[tier]
		if !ok {
			continue
		}
		taskInfo := map[string]interface{}{
			"tier":    string(task.Tier),
			"spec":    task.Spec,
			"running": s.lock.Running(string(task.Tier)),
		}
		// 从 cron entry 获取下次执行时间
		if entry, exists := entryMap[task.EntryID]; exists && !entry.Next.IsZero() {
			taskInfo["nextRunTime"] = entry.Next.Format(time.RFC3339)
		}
		if task.LastSummary != nil {
			taskInfo["lastSummary"] = task.LastSummary
		}
		if task.LastError != "" {
			taskInfo["lastError"] = task.LastError
		}
		tasks = append(tasks, taskInfo)
	}

	return map[string]interface{}{
		"totalTasks": len(s.tasks),
		"tasks":      tasks,
	}
}

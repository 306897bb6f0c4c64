package main

import (
	"github.com/dushixiang/kpimon/internal/config"
	"github.com/dushixiang/kpimon/internal/logger"
	"github.com/dushixiang/kpimon/internal/migrate"
	"github.com/dushixiang/kpimon/internal/notify"
	"github.com/dushixiang/kpimon/internal/probe"
	"github.com/dushixiang/kpimon/internal/scheduler"
	"github.com/dushixiang/kpimon/internal/service"
	"github.com/dushixiang/kpimon/internal/storage"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app 进程内共享的组件
type app struct {
	cfg    *config.AppConfig
	viper  *viper.Viper
	logger *zap.Logger
	db     *gorm.DB

	browser    *probe.Browser
	registry   *probe.Registry
	catalog    *service.CatalogService
	incidents  *service.IncidentService
	evaluation *service.EvaluationService
	metrics    *service.MetricService
	dispatcher *scheduler.Dispatcher
	scheduler  *scheduler.KPIScheduler
	notifier   *notify.Async
}

// newApp 加载配置、连接数据库、迁移表结构并组装服务
func newApp() (*app, error) {
	cfg, v, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Log)

	db, err := storage.Open(cfg.Database, log)
	if err != nil {
		log.Error("连接数据库失败", zap.Error(err))
		return nil, err
	}
	if err := migrate.Migrate(log, db); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, viper: v, logger: log, db: db}
	a.browser = probe.NewBrowser(log.Named("browser"), browserOptions(cfg.Probe))
	a.registry = probe.NewRegistry()
	a.registerProbes(cfg.Probe)

	a.catalog = service.NewCatalogService(log, db, cfg.Incident.DefaultStreak, cfg.Metrics.WeightsCacheTTL)
	a.incidents = service.NewIncidentService(log, cfg.Incident.AssignedTo)
	a.evaluation = service.NewEvaluationService(log, db, a.registry, a.catalog, a.incidents)
	if cfg.Notify.Enabled {
		email, err := notify.NewEmailNotifier(log.Named("notify"), cfg.Notify, nil)
		if err != nil {
			return nil, err
		}
		a.notifier = notify.NewAsync(log.Named("notify"), email, cfg.Notify.Timeout)
		a.evaluation.SetNotifier(a.notifier)
	}
	a.metrics = service.NewMetricService(log, db, a.catalog, cfg.Metrics.Window(), cfg.Metrics.DefaultCriticality)
	a.evaluation.SetMetrics(a.metrics)
	a.dispatcher = scheduler.NewDispatcher(log, a.catalog, a.evaluation, a.metrics, reachability(cfg.Scheduler), dispatchOptions(cfg.Scheduler))
	a.scheduler = scheduler.NewKPIScheduler(a.dispatcher, log)
	if err := a.scheduler.LoadTiers(cfg.Scheduler); err != nil {
		return nil, err
	}
	return a, nil
}

// registerProbes 按配置注册探测器，配置热更新时重新调用
func (a *app) registerProbes(cfg config.ProbeConfig) {
	a.registry.Register(probe.NewAvailabilityProbe(a.logger.Named("availability"), probe.AvailabilityOptions{
		Timeout:          cfg.HTTPTimeout,
		RetryDelay:       cfg.RetryDelay,
		SlowThreshold:    cfg.SlowThreshold,
		FlappingAttempts: cfg.FlappingAttempts,
	}))
	a.registry.Register(probe.NewDNSProbe(cfg.DNSTimeout))
	a.registry.Register(probe.NewCertificateProbe(cfg.TLSTimeout))
	a.registry.Register(probe.NewBrowserProbe(a.browser))
	a.registry.Register(probe.NewAccessibilityProbe(a.browser))
}

// watch 配置文件变更后更新并发数和探测超时，下一个周期生效
func (a *app) watch() {
	if a.viper.ConfigFileUsed() == "" {
		return
	}
	config.Watch(a.viper, a.logger, func(cfg *config.AppConfig) {
		a.dispatcher.SetOptions(dispatchOptions(cfg.Scheduler))
		a.registerProbes(cfg.Probe)
		a.catalog.InvalidateCache()
		a.logger.Info("调度参数已更新",
			zap.Int("workers", cfg.Scheduler.Workers),
			zap.Duration("httpTimeout", cfg.Probe.HTTPTimeout))
	})
}

func (a *app) close() {
	if a.notifier != nil {
		a.notifier.Wait()
	}
	if err := a.browser.Close(); err != nil {
		a.logger.Warn("关闭浏览器失败", zap.Error(err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

func browserOptions(cfg config.ProbeConfig) probe.BrowserOptions {
	return probe.BrowserOptions{
		Bin:            cfg.BrowserBin,
		Timeout:        cfg.BrowserTimeout,
		SlowThreshold:  cfg.PageLoadSlow,
		HeavyThreshold: cfg.HeavyPageMB,
		AxeURL:         cfg.AxeURL,
		MinWCAGScore:   cfg.MinWCAGScore,
	}
}

func dispatchOptions(cfg config.SchedulerConfig) scheduler.DispatchOptions {
	return scheduler.DispatchOptions{
		Workers:         cfg.Workers,
		SiteDownCode:    cfg.SiteDownCode,
		SiteDownStreak:  cfg.SiteDownStreak,
		PreCheckTimeout: cfg.PreCheckTimeout,
	}
}

func reachability(cfg config.SchedulerConfig) probe.Reachability {
	switch cfg.PreCheck {
	case "icmp":
		return probe.NewICMPReachability(3, cfg.PreCheckTimeout)
	case "none":
		return nil
	default:
		return probe.NewHTTPReachability(cfg.PreCheckTimeout)
	}
}

package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/kardianos/service"
	"go.uber.org/zap"
)

const ServiceName = "kpimon"

// RunFunc 前台运行的主逻辑，ctx 取消后返回
type RunFunc func(ctx context.Context) error

// program 实现 service.Interface
type program struct {
	run    RunFunc
	logger *zap.Logger
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// Start 服务管理器调用，不能阻塞
func (p *program) Start(s service.Service) error {
	p.logger.Info("kpimon 服务启动中...")

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done.Add(1)
	go func() {
		defer p.done.Done()
		if err := p.run(ctx); err != nil {
			p.logger.Error("kpimon 运行出错", zap.Error(err))
		}
	}()
	return nil
}

// Stop 取消运行并等待正在执行的周期结束
func (p *program) Stop(s service.Service) error {
	p.logger.Info("kpimon 服务停止中...")
	if p.cancel != nil {
		p.cancel()
	}
	p.done.Wait()
	p.logger.Info("kpimon 服务已停止")
	return nil
}

// Manager 系统服务管理器
type Manager struct {
	service service.Service
}

// NewManager 创建服务管理器，服务以 "serve --config <path>" 方式启动
func NewManager(logger *zap.Logger, configPath string, run RunFunc) (*Manager, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("获取可执行文件路径失败: %w", err)
	}

	args := []string{"service", "run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	svcConfig := &service.Config{
		Name:        ServiceName,
		DisplayName: "KPI Monitor",
		Description: "站点 KPI 监控引擎 - 定时检测资产指标并维护事件和健康度",
		Arguments:   args,
		Executable:  execPath,
		Option: service.KeyValue{
			// Linux systemd 配置
			"Restart":            "always",
			"RestartSec":         "10",
			"StartLimitInterval": "0",
			"KillMode":           "process",

			// Windows 配置
			"OnFailure":    "restart",
			"ResetPeriod":  86400,
			"RestartDelay": 10000,

			// 其他 Unix 系统 (upstart/launchd)
			"KeepAlive": true,
			"RunAtLoad": true,
		},
	}

	s, err := service.New(&program{run: run, logger: logger}, svcConfig)
	if err != nil {
		return nil, fmt.Errorf("创建服务失败: %w", err)
	}
	return &Manager{service: s}, nil
}

// Control 执行 install/uninstall/start/stop/restart
func (m *Manager) Control(action string) error {
	if action == "uninstall" {
		// 先停止服务
		_ = m.service.Stop()
	}
	return service.Control(m.service, action)
}

// Run 在服务管理器控制下运行，交互模式下直接前台运行
func (m *Manager) Run() error {
	return m.service.Run()
}

// Status 查看服务状态
func (m *Manager) Status() (string, error) {
	status, err := m.service.Status()
	if err != nil {
		return "", err
	}
	return StatusText(status), nil
}

// StatusText 状态描述
func StatusText(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "运行中 (Running)"
	case service.StatusStopped:
		return "已停止 (Stopped)"
	case service.StatusUnknown:
		return "未知 (Unknown)"
	default:
		return fmt.Sprintf("状态: %d", status)
	}
}

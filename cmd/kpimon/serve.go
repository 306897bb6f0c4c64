package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dushixiang/kpimon/internal/daemon"
	"github.com/dushixiang/kpimon/internal/handler"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动调度器和 HTTP 接口",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

// serve 运行调度器和 HTTP 服务，直到 ctx 取消
func serve(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.scheduler.Start(ctx, a.cfg.Scheduler); err != nil {
		return err
	}
	a.watch()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()
	e.Use(middleware.Recover())
	h := handler.NewKPIHandler(a.logger, a.evaluation, a.catalog, a.metrics, a.scheduler, 0)
	h.Register(e)

	go func() {
		a.logger.Info("HTTP 服务已启动", zap.String("addr", a.cfg.Server.Addr))
		if err := e.Start(a.cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP 服务异常退出", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	a.logger.Info("收到退出信号，正在停止")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
	}
	a.scheduler.Stop()
	h.Wait()
	return nil
}

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "以系统服务方式管理 kpimon",
	}

	for _, action := range []string{"install", "uninstall", "start", "stop", "restart"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: action + " 系统服务",
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := newServiceManager()
				if err != nil {
					return err
				}
				if err := mgr.Control(action); err != nil {
					return fmt.Errorf("%s 失败: %w", action, err)
				}
				fmt.Printf("%s 完成\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "查看系统服务状态",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newServiceManager()
			if err != nil {
				return err
			}
			status, err := mgr.Status()
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "由服务管理器调用",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newServiceManager()
			if err != nil {
				return err
			}
			return mgr.Run()
		},
	})
	return cmd
}

func newServiceManager() (*daemon.Manager, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	path := cfgFile
	if path != "" {
		// 服务管理器的工作目录不确定
		if path, err = filepath.Abs(path); err != nil {
			return nil, err
		}
	}
	return daemon.NewManager(logger, path, serve)
}

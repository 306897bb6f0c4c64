package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kpimon",
		Short: "站点 KPI 监控引擎",
		Long: `kpimon 按频率档位定时检测站点资产的 KPI 指标，
根据连续结果创建和关闭事件，并计算资产健康度。

示例:
  kpimon serve --config config.yaml
  kpimon run --tier 15m
  kpimon run --all
  kpimon check --asset <assetId> --indicator <kpiId>
  kpimon seed --file catalog.yaml`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径 (默认: ./config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newServiceCmd())
	return root
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dushixiang/kpimon/internal/models"
	"github.com/dushixiang/kpimon/internal/scheduler"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var tier string
	var all bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "立即执行一个档位的调度周期",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && tier == "" {
				return fmt.Errorf("either --tier or --all is required")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			var summaries []*scheduler.CycleSummary
			if all {
				summaries, err = a.scheduler.RunAll(ctx)
			} else {
				frequency, ok := models.ParseFrequency(tier)
				if !ok {
					return fmt.Errorf("unknown tier %q", tier)
				}
				var summary *scheduler.CycleSummary
				summary, err = a.scheduler.RunOnce(ctx, frequency)
				if summary != nil {
					summaries = append(summaries, summary)
				}
			}
			if printErr := printJSON(summaries); printErr != nil {
				return printErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "频率档位: 1m, 5m, 15m, daily")
	cmd.Flags().BoolVar(&all, "all", false, "依次执行所有档位（测试模式）")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var assetID, indicatorID string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "手动执行一次 (资产, 指标) 检测",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.evaluation.EvaluateManual(context.Background(), assetID, indicatorID)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&assetID, "asset", "", "资产 ID")
	cmd.Flags().StringVar(&indicatorID, "indicator", "", "指标 ID")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("indicator")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

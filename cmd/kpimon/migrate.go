package main

import (
	"context"
	"os"

	"github.com/dushixiang/kpimon/internal/migrate"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "创建或更新数据库表结构",
		RunE: func(cmd *cobra.Command, args []string) error {
			// newApp 内已经执行迁移
			a, err := newApp()
			if err != nil {
				return err
			}
			a.close()
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "从 YAML 目录文件导入资产、指标、权重和字典",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			catalog, err := migrate.ParseCatalog(data)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			return migrate.Seed(context.Background(), a.logger, a.db, catalog)
		},
	}
	cmd.Flags().StringVar(&file, "file", "catalog.yaml", "目录文件路径")
	return cmd
}

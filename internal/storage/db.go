package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/dushixiang/kpimon/internal/config"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 按配置打开数据库连接
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	level := logger.Warn
	if cfg.Debug {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		// 唯一键冲突统一转换为 gorm.ErrDuplicatedKey
		TranslateError: true,
		Logger:         NewGormLogger(log, level, cfg.SlowThreshold),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	maxOpen := cfg.MaxOpenConns
	if isSQLite(cfg) && (maxOpen == 0 || strings.Contains(cfg.DSN, ":memory:")) {
		// 内存库每个连接都是独立的数据库，文件库并发写会锁表
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if !isSQLite(cfg) {
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info("数据库连接成功", zap.String("driver", dialector.Name()))
	return db, nil
}

func isSQLite(cfg config.DatabaseConfig) bool {
	return cfg.Driver == "sqlite" || cfg.Driver == ""
}

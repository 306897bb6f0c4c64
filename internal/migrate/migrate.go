package migrate

import (
	v1_0_1 "github.com/dushixiang/kpimon/internal/migrate/v1_0_1"
	"github.com/dushixiang/kpimon/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models 所有需要建表的模型
func Models() []any {
	return []any{
		&models.Asset{},
		&models.Indicator{},
		&models.KPIResult{},
		&models.KPIResultHistory{},
		&models.Incident{},
		&models.IncidentHistory{},
		&models.AssetMetric{},
		&models.MetricWeight{},
		&models.Lookup{},
	}
}

// Migrate 建表并执行数据迁移
func Migrate(logger *zap.Logger, db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		logger.Error("数据库表结构迁移失败", zap.Error(err))
		return err
	}
	return v1_0_1.Migrate(logger, db)
}

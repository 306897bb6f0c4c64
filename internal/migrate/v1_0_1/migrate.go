package v1_0_1

import (
	"github.com/dushixiang/kpimon/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate 归一化旧数据中的频率和结果类型写法（"1 min" -> "1m"，"Sec" -> "Seconds"）
func Migrate(logger *zap.Logger, db *gorm.DB) error {
	logger.Info("开始执行 v1.0.1 版本数据迁移")

	if !db.Migrator().HasTable(&models.Indicator{}) {
		logger.Info("未检测到 indicators 表，跳过迁移")
		return nil
	}

	var indicators []models.Indicator
	if err := db.Unscoped().Find(&indicators).Error; err != nil {
		logger.Error("查询指标失败", zap.Error(err))
		return err
	}

	updated := 0
	for _, indicator := range indicators {
		changes := map[string]any{}
		if f, ok := models.ParseFrequency(string(indicator.Frequency)); ok && f != indicator.Frequency {
			changes["frequency"] = f
		}
		if o, ok := models.ParseOutcome(string(indicator.Outcome)); ok && o != indicator.Outcome {
			changes["outcome"] = o
		}
		if len(changes) == 0 {
			continue
		}
		if err := db.Unscoped().Model(&models.Indicator{}).
			Where("id = ?", indicator.ID).
			UpdateColumns(changes).Error; err != nil {
			logger.Error("更新指标失败",
				zap.String("id", indicator.ID),
				zap.String("code", indicator.Code),
				zap.Error(err))
			return err
		}
		updated++
		logger.Debug("已归一化指标",
			zap.String("id", indicator.ID),
			zap.Any("changes", changes))
	}

	logger.Info("v1.0.1 版本数据迁移完成", zap.Int("updated", updated))
	return nil
}

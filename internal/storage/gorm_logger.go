package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// zapLogger 把 gorm 日志写入 zap
type zapLogger struct {
	log           *zap.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger 创建 gorm 日志适配器，slowThreshold 为 0 时不记录慢查询
func NewGormLogger(log *zap.Logger, level logger.LogLevel, slowThreshold time.Duration) logger.Interface {
	return &zapLogger{
		log:           log.Named("gorm").WithOptions(zap.AddCallerSkip(3)),
		level:         level,
		slowThreshold: slowThreshold,
	}
}

func (l *zapLogger) LogMode(level logger.LogLevel) logger.Interface {
	n := *l
	n.level = level
	return &n
}

func (l *zapLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		l.log.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *zapLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		l.log.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *zapLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		l.log.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *zapLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && errors.Is(err, gorm.ErrRecordNotFound):
		// 查询不到记录由调用方处理
		if l.level >= logger.Info {
			sql, rows := fc()
			l.log.Debug("SQL 未查询到记录", zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
		}
	case err != nil && errors.Is(err, gorm.ErrDuplicatedKey):
		// 唯一键冲突是事件去重的正常路径
		if l.level >= logger.Warn {
			sql, _ := fc()
			l.log.Warn("SQL 唯一键冲突", zap.String("sql", sql), zap.Duration("elapsed", elapsed), zap.Error(err))
		}
	case err != nil:
		if l.level >= logger.Error {
			sql, rows := fc()
			l.log.Error("SQL 执行失败", zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed), zap.Error(err))
		}
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		if l.level >= logger.Warn {
			sql, rows := fc()
			l.log.Warn("SQL 慢查询", zap.String("sql", sql), zap.Int64("rows", rows),
				zap.Duration("elapsed", elapsed), zap.Duration("threshold", l.slowThreshold))
		}
	case l.level >= logger.Info:
		sql, rows := fc()
		l.log.Debug("SQL", zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	}
}

package database

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// ZapGormLogger 基于 zap 实现 gorm 的 logger.Interface
type ZapGormLogger struct {
	log   *zap.Logger
	level gormlog.LogLevel
}

func NewZapGormLogger(log *zap.Logger, level gormlog.LogLevel) *ZapGormLogger {
	return &ZapGormLogger{log: log, level: level}
}

func (l *ZapGormLogger) LogMode(level gormlog.LogLevel) gormlog.Interface {
	return &ZapGormLogger{log: l.log, level: level}
}

func (l *ZapGormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlog.Info {
		l.log.Sugar().Infof(msg, data...)
	}
}

func (l *ZapGormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlog.Warn {
		l.log.Sugar().Warnf(msg, data...)
	}
}

func (l *ZapGormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlog.Error {
		l.log.Sugar().Errorf(msg, data...)
	}
}

func (l *ZapGormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level == gormlog.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlog.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.Error("SQL执行失败", zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed), zap.Error(err))
	case elapsed > slowQueryThreshold && l.level >= gormlog.Warn:
		sql, rows := fc()
		l.log.Warn("慢SQL", zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	case l.level >= gormlog.Info:
		sql, rows := fc()
		l.log.Debug("执行SQL", zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	}
}

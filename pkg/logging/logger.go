// Package logging 提供统一的 logger 初始化（zap 作为后端，对外暴露 logr.Logger）。
package logging

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// NewLogger 创建 zap 支撑的 logr.Logger。
// LOG_LEVEL 为 "debug" 或 "trace" 时使用开发配置并输出 debug 级别日志，其余情况使用生产配置。
// 返回的 sync 函数应由调用方 defer。
func NewLogger() (logr.Logger, func(), error) {
	return NewLoggerWithLevel(os.Getenv("LOG_LEVEL"))
}

// NewLoggerWithLevel 与 NewLogger 相同，但级别由参数指定（配置文件中的 log_level）
func NewLoggerWithLevel(level string) (logr.Logger, func(), error) {
	zapLog, err := newZapLogger(level)
	if err != nil {
		return logr.Logger{}, nil, err
	}
	sync := func() { _ = zapLog.Sync() }
	return zapr.NewLogger(zapLog), sync, nil
}

func newZapLogger(level string) (*zap.Logger, error) {
	if level == "debug" || level == "trace" {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return cfg.Build()
	}
	return zap.NewProduction()
}

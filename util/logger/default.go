package logger

import "go.uber.org/zap"

var (
	defaultLogger = NewLogger("volprobe", zap.InfoLevel)
)

func SetupDefaultLogger(l *zap.SugaredLogger) {
	defaultLogger = l
}

// Default 返回包级默认日志.
func Default() *zap.SugaredLogger {
	return defaultLogger
}

func Debugf(template string, args ...interface{}) {
	defaultLogger.Debugf(template, args...)
}

func Warnf(template string, args ...interface{}) {
	defaultLogger.Warnf(template, args...)
}

package resources

import (
	"fmt"
	"runtime"

	"github.com/gauss-ops/gs-expansion/pkg/logger"
)

// LogLevel logs the formatted message at level ("debug", "info", "warn" or
// "error"). The process logger drops levels below the configured one.
func LogLevel(level, format string, args ...interface{}) {
	entry := logger.AddLogger()
	msg := fmt.Sprintf(format, args...)

	switch level {
	case "debug":
		entry.Debug(msg)
	case "warn":
		entry.Warn(msg)
	case "error":
		entry.WithField("caller", caller(2)).Error(msg)
	default:
		entry.Info(msg)
	}
}

// ReturnLogError builds an error from format and args, logs it with the
// caller that raised it and returns it. %w keeps the wrapped error.
func ReturnLogError(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	logger.AddLogger().WithField("caller", caller(2)).Error(err.Error())

	return err
}

func caller(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}

	return fmt.Sprintf("%s %s:%d", runtime.FuncForPC(pc).Name(), file, line)
}

package logger

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	once sync.Once
	le   *log.Entry
)

// AddLogger returns the process wide log entry.
// It starts from LOG_FORMAT and LOG_LEVEL; Configure changes both later.
func AddLogger() *log.Entry {
	once.Do(func() {
		logger := log.New()
		logger.SetReportCaller(true)
		logger.Out = os.Stdout
		logger.SetFormatter(formatter(os.Getenv("LOG_FORMAT")))
		logger.SetLevel(level(os.Getenv("LOG_LEVEL")))

		le = log.NewEntry(logger)
	})

	return le
}

// Configure switches the formatter ("json" or text) and the minimum level of
// the process logger. An empty level keeps the current one.
func Configure(format, lvl string) error {
	logger := AddLogger().Logger
	logger.SetFormatter(formatter(format))

	if lvl == "" {
		return nil
	}
	parsed, err := log.ParseLevel(lvl)
	if err != nil {
		return fmt.Errorf("log level %q: %w", lvl, err)
	}
	logger.SetLevel(parsed)

	return nil
}

// ForHost returns an entry tagged with the host a message refers to.
func ForHost(host string) *log.Entry {
	return AddLogger().WithField("host", host)
}

func level(lvl string) log.Level {
	parsed, err := log.ParseLevel(lvl)
	if err != nil {
		return log.InfoLevel
	}

	return parsed
}

func formatter(format string) log.Formatter {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return &log.JSONFormatter{
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				return f.Function, fmt.Sprintf("%s:%d", f.File, f.Line)
			},
		}
	}

	return &log.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
		CallerPrettyfier: func(_ *runtime.Frame) (string, string) {
			return "", ""
		},
		QuoteEmptyFields: true,
	}
}

package optimizely

import (
	"github.com/sirupsen/logrus"
)

// Log levels, aliased from logrus.
const (
	LogLevelPanic = logrus.PanicLevel
	LogLevelFatal = logrus.FatalLevel
	LogLevelError = logrus.ErrorLevel
	LogLevelWarn  = logrus.WarnLevel
	LogLevelInfo  = logrus.InfoLevel
	LogLevelDebug = logrus.DebugLevel
	LogLevelTrace = logrus.TraceLevel
)

type LogLevel = logrus.Level

// Logger defines the interface this library logs with.
type Logger interface {
	// GetLevel returns the current logging level.
	GetLevel() LogLevel

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// DefaultLogger creates the default logger with the specified log level
// (backed by logrus.New()).
func DefaultLogger(level LogLevel) Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	return logger
}

// leveledLogger wraps a Logger for efficiency reasons: it's a static type
// rather than an interface so the compiler can inline the level check
// and thus avoid the allocation for the arguments.
type leveledLogger struct {
	level LogLevel
	Logger
}

func newLeveledLogger(logger Logger, level LogLevel) *leveledLogger {
	if level == 0 {
		if logger != nil {
			level = logger.GetLevel()
		} else {
			level = LogLevelWarn
		}
	}
	if logger == nil {
		logger = DefaultLogger(level)
	}
	return &leveledLogger{
		level:  level,
		Logger: logger,
	}
}

func (log *leveledLogger) GetLevel() LogLevel {
	return log.level
}

func (log *leveledLogger) enabled(level LogLevel) bool {
	return level <= log.level
}

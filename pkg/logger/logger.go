package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *Logger
	globalLock   sync.Mutex
)

// Logger wraps zap.SugaredLogger
type Logger struct {
	*zap.SugaredLogger
}

// Init builds the process logger. debug switches to the colored console encoder.
func Init(level string, debug bool) error {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	l, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}

	globalLock.Lock()
	globalLogger = &Logger{SugaredLogger: l.Sugar()}
	globalLock.Unlock()
	return nil
}

// Get returns the process logger, falling back to a development logger before Init.
func Get() *Logger {
	globalLock.Lock()
	defer globalLock.Unlock()
	if globalLogger == nil {
		l, _ := zap.NewDevelopment()
		globalLogger = &Logger{SugaredLogger: l.Sugar()}
	}
	return globalLogger
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// With creates a child logger with additional fields
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...)}
}

// Named creates a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return l.With("component", component)
}

// Sync flushes any buffered log entries
func Sync() error {
	globalLock.Lock()
	defer globalLock.Unlock()
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

package brewometer

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger denotes the leveled, printf-style logging used throughout brewster.
// *zap.SugaredLogger satisfies it
type Logger interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
}

// NullLogger discards everything, it is the default of all components
type NullLogger struct{}

func (*NullLogger) Error(...interface{})          {}
func (*NullLogger) Errorf(string, ...interface{}) {}
func (*NullLogger) Warn(...interface{})           {}
func (*NullLogger) Warnf(string, ...interface{})  {}
func (*NullLogger) Info(...interface{})           {}
func (*NullLogger) Infof(string, ...interface{})  {}
func (*NullLogger) Debug(...interface{})          {}
func (*NullLogger) Debugf(string, ...interface{}) {}

// NewDefaultLogger builds the console logger of the brewster CLI. Caller
// information is only added in debug mode
func NewDefaultLogger(debug bool) (*zap.SugaredLogger, error) {

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true
	cfg.DisableCaller = !debug
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(TimeFormat + ":05")

	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate logger: %w", err)
	}

	return zapLogger.Sugar(), nil
}

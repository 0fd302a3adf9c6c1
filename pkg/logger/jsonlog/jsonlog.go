package jsonlog

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// JSONLogger implements LoggerInstance on top of a sugared zap logger. It is
// used when log output is collected by a log shipper.
type JSONLogger struct {
	sugar *zap.SugaredLogger
}

// JSONLoggerParams configures NewJSONLogger. Mode "prod" selects the
// production encoder, anything else the development one.
type JSONLoggerParams struct {
	Mode  string
	Debug bool
}

func NewJSONLogger(params JSONLoggerParams) (*JSONLogger, error) {
	var cfg zap.Config
	switch strings.ToLower(params.Mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Encoding = "json"
	}
	level := zapcore.InfoLevel
	if params.Debug {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	l, err := cfg.Build(zap.AddCallerSkip(4))
	if err != nil {
		return nil, err
	}
	return &JSONLogger{sugar: l.Sugar()}, nil
}

// NewJSONLoggerFromZap wraps an existing zap logger.
func NewJSONLoggerFromZap(l *zap.Logger) *JSONLogger {
	return &JSONLogger{sugar: l.Sugar()}
}

func (l *JSONLogger) Sync() error {
	return l.sugar.Sync()
}

func (l *JSONLogger) Log(message string, keyvals ...any) {
	l.sugar.Infow(message, keyvals...)
}

func (l *JSONLogger) Debug(message string, keyvals ...any) {
	l.sugar.Debugw(message, keyvals...)
}

func (l *JSONLogger) Info(message string, keyvals ...any) {
	l.sugar.Infow(message, keyvals...)
}

func (l *JSONLogger) Warn(message string, keyvals ...any) {
	l.sugar.Warnw(message, keyvals...)
}

func (l *JSONLogger) Error(message string, keyvals ...any) {
	l.sugar.Errorw(message, keyvals...)
}

func (l *JSONLogger) Fatal(message string, keyvals ...any) {
	l.sugar.Fatalw(message, keyvals...)
}

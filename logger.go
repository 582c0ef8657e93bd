package users

import (
	"go.uber.org/zap"
)

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to Logger. A nil logger falls back to
// the process wide zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.L()
	}
	return zapLogger{sugar: l.Sugar()}
}

// NewZapLoggerNamed returns a child logger scoped to name.
func NewZapLoggerNamed(l *zap.Logger, name string) Logger {
	if l == nil {
		l = zap.L()
	}
	return zapLogger{sugar: l.Named(name).Sugar()}
}

func (z zapLogger) Debug(msg string, args ...any) {
	z.sugar.Debugw(msg, args...)
}

func (z zapLogger) Info(msg string, args ...any) {
	z.sugar.Infow(msg, args...)
}

func (z zapLogger) Warn(msg string, args ...any) {
	z.sugar.Warnw(msg, args...)
}

func (z zapLogger) Error(msg string, args ...any) {
	z.sugar.Errorw(msg, args...)
}

func defLogger() Logger {
	return NewZapLogger(zap.NewNop())
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger()
	}
	return l
}

package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger = zap.SugaredLogger

// New returns a production logger. LOG_LEVEL (debug, info, warn, error)
// overrides the default info level.
func New() *Logger {
	cfg := zap.NewProductionConfig()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if lvl, err := zapcore.ParseLevel(v); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	l, err := cfg.Build()
	if err != nil {
		return Nop()
	}
	return l.Sugar()
}

func Nop() *Logger { return zap.NewNop().Sugar() }

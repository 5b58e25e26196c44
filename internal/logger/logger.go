package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	instance *zap.Logger
	once     sync.Once
)

type Config struct {
	Development bool
	Level       string
}

// New builds the process-wide logger once; later calls return the same instance.
func New(cfg Config) (*zap.Logger, error) {
	var err error
	once.Do(func() {
		zc := zap.NewProductionConfig()
		if cfg.Development {
			zc = zap.NewDevelopmentConfig()
		}
		if cfg.Level != "" {
			lvl, perr := zap.ParseAtomicLevel(cfg.Level)
			if perr != nil {
				err = perr
				return
			}
			zc.Level = lvl
		}
		var l *zap.Logger
		l, err = zc.Build()
		if err != nil {
			return
		}
		instance = l
	})
	if instance == nil && err == nil {
		return zap.NewNop(), nil
	}
	return instance, err
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

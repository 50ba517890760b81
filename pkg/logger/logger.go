package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.Mutex
	global *zap.Logger
)

// Init builds the process-wide zap logger and installs it as the zap
// global. env "prod"/"production" selects the JSON production preset,
// anything else the console development preset. Stdlib log output is
// redirected so third-party log.Printf calls land in the same stream.
// Calling Init again after the logger exists is a no-op.
func Init(env string) (*zap.SugaredLogger, error) {
	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		return global.Sugar(), nil
	}
	l, err := build(env)
	if err != nil {
		return nil, err
	}
	install(l)
	return l.Sugar(), nil
}

func build(env string) (*zap.Logger, error) {
	switch strings.ToLower(env) {
	case "prod", "production":
		return zap.NewProduction()
	default:
		return zap.NewDevelopment()
	}
}

func install(l *zap.Logger) {
	zap.ReplaceGlobals(l)
	_ = zap.RedirectStdLog(l)
	global = l
}

// Base returns the process logger, building one from the ENV variable
// on first use when Init was never called.
func Base() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		l, err := build(os.Getenv("ENV"))
		if err != nil {
			l = zap.NewNop()
		}
		install(l)
	}
	return global
}

// Sync flushes buffered entries. Safe to defer from main.
func Sync() {
	mu.Lock()
	l := global
	mu.Unlock()
	if l != nil {
		_ = l.Sync()
	}
}

// GORMWriter routes GORM's SQL log lines into zap.
type GORMWriter struct{}

// NewGORMWriter creates a writer for gorm's logger config.
func NewGORMWriter() GORMWriter { return GORMWriter{} }

// Printf implements gorm.io/gorm/logger.Writer.
func (GORMWriter) Printf(format string, v ...interface{}) {
	Base().Warn(strings.TrimRight(fmt.Sprintf(format, v...), "\r\n"))
}

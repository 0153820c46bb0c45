// Package log provides the module-scoped structured logger used across
// blocksim. Every package acquires its logger once, at package-init time,
// the same way the rest of this codebase's teacher lineage does.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ModuleLogger is a thin, structured logger scoped to one package. It wraps
// a zap.SugaredLogger so call sites can use the familiar key/value pair
// convention (logger.Infow("message", "key", value, ...)) instead of typed
// zap fields.
type ModuleLogger struct {
	sugar  *zap.SugaredLogger
	module string
}

var (
	mu     sync.Mutex
	base   *zap.Logger
	dynlvl = zap.NewAtomicLevelAt(zap.InfoLevel)
)

func root() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		return base
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stderr), dynlvl)
	base = zap.New(core)
	return base
}

// SetVerbosity adjusts the process-wide minimum log level. Accepted values
// mirror the teacher's --verbosity flag: 0=silent(fatal only), 1=error,
// 2=warn, 3=info, 4=debug, 5=debug (no finer level exists in zap).
func SetVerbosity(v int) {
	switch {
	case v <= 0:
		dynlvl.SetLevel(zap.FatalLevel)
	case v == 1:
		dynlvl.SetLevel(zap.ErrorLevel)
	case v == 2:
		dynlvl.SetLevel(zap.WarnLevel)
	case v == 3:
		dynlvl.SetLevel(zap.InfoLevel)
	default:
		dynlvl.SetLevel(zap.DebugLevel)
	}
}

// NewModuleLogger returns a logger tagged with the given module name.
// Call once per package, at var-init time: var logger = log.NewModuleLogger("ledger")
func NewModuleLogger(module string) *ModuleLogger {
	return &ModuleLogger{sugar: root().Sugar().With("module", module), module: module}
}

func (m *ModuleLogger) Debugw(msg string, kv ...interface{}) { m.sugar.Debugw(msg, kv...) }
func (m *ModuleLogger) Infow(msg string, kv ...interface{})  { m.sugar.Infow(msg, kv...) }
func (m *ModuleLogger) Warnw(msg string, kv ...interface{})  { m.sugar.Warnw(msg, kv...) }
func (m *ModuleLogger) Errorw(msg string, kv ...interface{}) { m.sugar.Errorw(msg, kv...) }

// Sync flushes any buffered log entries. Demos should defer it on exit.
func (m *ModuleLogger) Sync() error { return m.sugar.Sync() }

package sharc

// Package-level structured logger, lazily initialized on first use so
// callers never need to worry about ordering (spec AMBIENT STACK). Backed
// by zap instead of a hand-rolled rotating writer, but keeps the same
// shape: one global logger, component-tagged records, an env var pointing
// at an on-disk log directory.

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logInit sync.Once
	lg      *zap.Logger
)

func initLogger() {
	dir := logDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		dir = os.TempDir()
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(cfg)

	path := filepath.Join(dir, "sharc.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	var sink zapcore.WriteSyncer
	if err != nil {
		sink = zapcore.AddSync(os.Stderr)
	} else {
		sink = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(encoder, sink, zapcore.DebugLevel)
	lg = zap.New(core)
}

// logDir resolves SHARC_LOG_DIR, falling back to a platform default.
func logDir() string {
	if dir := os.Getenv("SHARC_LOG_DIR"); dir != "" {
		return dir
	}
	if os.PathSeparator == '\\' {
		programData := os.Getenv("ProgramData")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "sharc", "logs")
	}
	return "/var/log/sharc"
}

// logEvent writes a component-tagged structured record. Safe for
// concurrent use.
func logEvent(level, component, msg string, fields ...zap.Field) {
	logInit.Do(initLogger)
	fields = append(fields, zap.String("component", component))
	switch level {
	case "debug":
		lg.Debug(msg, fields...)
	case "warn":
		lg.Warn(msg, fields...)
	case "error":
		lg.Error(msg, fields...)
	default:
		lg.Info(msg, fields...)
	}
}

// Package observability owns the process-wide zap logger: a console core for
// the operator and an optional rotated JSON file for later inspection of runs.
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/webpilot/internal/config"
)

const defaultServiceName = "webpilot"

var (
	globalLogger atomic.Pointer[zap.Logger]
	level        = zap.NewAtomicLevelAt(zap.InfoLevel)
	once         sync.Once
)

var ansi = map[string]string{
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

const ansiReset = "\x1b[0m"

// Initialize builds the global logger. The console core writes to console;
// when cfg.LogFile is set a JSON core is teed into a lumberjack-rotated file.
// Later calls are ignored until ResetForTest.
func Initialize(cfg config.LoggerConfig, console zapcore.WriteSyncer) {
	once.Do(func() {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			lvl = zap.InfoLevel
		}
		level.SetLevel(lvl)

		opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			opts = append(opts, zap.AddCaller())
		}

		name := cfg.ServiceName
		if name == "" {
			name = defaultServiceName
		}
		logger := zap.New(zapcore.NewTee(newCores(cfg, console)...), opts...).Named(name)
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger initializes the global logger on a locked Stdout.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stdout))
}

func newCores(cfg config.LoggerConfig, console zapcore.WriteSyncer) []zapcore.Core {
	var enc zapcore.Encoder
	if cfg.Format == "console" {
		enc = consoleEncoder(cfg.Colors)
	} else {
		enc = jsonEncoder()
	}
	cores := []zapcore.Core{zapcore.NewCore(enc, console, level)}

	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(file), level))
	}
	return cores
}

func jsonEncoder() zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// consoleEncoder prints one line per entry with a wall-clock time and a
// colored level; component names end in a dot ("webpilot.agent.").
func consoleEncoder(colors config.ColorConfig) zapcore.Encoder {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	ec.EncodeLevel = colorLevelEncoder(levelColors(colors))
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	ec.StacktraceKey = ""
	return zapcore.NewConsoleEncoder(ec)
}

func levelColors(c config.ColorConfig) map[zapcore.Level]string {
	return map[zapcore.Level]string{
		zapcore.DebugLevel:  ansi[c.Debug],
		zapcore.InfoLevel:   ansi[c.Info],
		zapcore.WarnLevel:   ansi[c.Warn],
		zapcore.ErrorLevel:  ansi[c.Error],
		zapcore.DPanicLevel: ansi[c.DPanic],
		zapcore.PanicLevel:  ansi[c.Panic],
		zapcore.FatalLevel:  ansi[c.Fatal],
	}
}

func colorLevelEncoder(colors map[zapcore.Level]string) zapcore.LevelEncoder {
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		label := l.CapitalString()
		if c := colors[l]; c != "" {
			label = c + label + ansiReset
		}
		enc.AppendString(label)
	}
}

// SetLevel changes the minimum level of every core at runtime.
func SetLevel(l zapcore.Level) { level.SetLevel(l) }

// Level reports the current minimum level.
func Level() zapcore.Level { return level.Level() }

// GetLogger returns the global logger, or a development fallback when called
// before Initialize.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// ForTask returns the global logger tagged with the task being run, so that
// browser, oracle and journal entries of one run can be grouped.
func ForTask(task string) *zap.Logger {
	return GetLogger().With(zap.String("task", truncate(task, 120)))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// ResetForTest clears the global logger and restores the default level.
// Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	level.SetLevel(zap.InfoLevel)
	once = sync.Once{}
}

// Errors from syncing a terminal or pipe rather than a file.
var ignoredSyncErrors = []string{
	"sync /dev/stdout",
	"sync /dev/stderr",
	"invalid argument",
	"operation not supported",
	"inappropriate ioctl",
}

// Sync flushes buffered entries. Call before exiting.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	err := logger.Sync()
	if err == nil {
		return
	}
	for _, s := range ignoredSyncErrors {
		if strings.Contains(err.Error(), s) {
			return
		}
	}
	fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
}

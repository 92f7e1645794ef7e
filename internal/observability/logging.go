// Package observability provides the process-wide loggers.
//
// Two profiles exist: a console profile for interactive CLI use and a
// structured JSON profile for service mode. Both are zap loggers; the
// CLI profile drops timestamps and level prefixes on Info so normal
// command output stays readable.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLILogger is the logger used by CLI commands. It is initialized to a
// console logger at info level; InitCLILogger reconfigures it.
var CLILogger = newConsoleLogger(zapcore.InfoLevel)

// InitCLILogger reconfigures the package logger for the given verbosity.
// With structured=true, output is JSON lines on stderr instead of the
// console profile.
func InitCLILogger(level string, structured bool) {
	lvl := parseLevel(level)
	if structured {
		CLILogger = newStructuredLogger(lvl, "")
		return
	}
	CLILogger = newConsoleLogger(lvl)
}

// NewServiceLogger builds a structured JSON logger for long-running
// service mode. When logFile is non-empty, output is rotated on disk
// instead of written to stderr.
func NewServiceLogger(level string, logFile string) *zap.Logger {
	return newStructuredLogger(parseLevel(level), logFile)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newConsoleLogger(lvl zapcore.Level) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		lvl,
	)
	return zap.New(core)
}

func newStructuredLogger(lvl zapcore.Level, logFile string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer
	if strings.TrimSpace(logFile) != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, lvl)
	return zap.New(core, zap.AddCaller())
}

// ExitWithCode logs a fatal condition and terminates the process with
// the given exit code. Intended for CLI commands where a cobra error
// return cannot carry the code.
func ExitWithCode(logger *zap.Logger, code int, msg string, fields ...zap.Field) {
	if logger != nil {
		logger.Error(msg, fields...)
		_ = logger.Sync()
	}
	os.Exit(code)
}

// Package logging builds the structured loggers used across the suite.
//
// Logs are a constant message with key and value pairs. The levels in
// order of increasing verbosity are error, info, debug and trace; debug
// maps to logr V(1) and trace to V(2).
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Level names accepted by ParseLevel.
const (
	LevelError = "error"
	LevelInfo  = "info"
	LevelDebug = "debug"
	LevelTrace = "trace"
)

// Format names accepted by New.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case LevelError:
		return zapcore.ErrorLevel, nil
	case "", LevelInfo:
		return zapcore.InfoLevel, nil
	case LevelDebug:
		return zapcore.Level(-1), nil
	case LevelTrace:
		return zapcore.Level(-2), nil
	default:
		return 0, fmt.Errorf("invalid log level %q, valid choices are error, info, debug and trace", level)
	}
}

// New returns a logger writing to stderr and a flush function.
func New(level, format string) (logr.Logger, func(), error) {
	return NewWriter(os.Stderr, level, format)
}

// NewWriter returns a logger writing to w and a flush function.
func NewWriter(w io.Writer, level, format string) (logr.Logger, func(), error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return logr.Logger{}, nil, err
	}

	config := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "timestamp",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(time.RFC3339Nano),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	var enc zapcore.Encoder
	switch strings.ToLower(format) {
	case "", FormatJSON:
		enc = zapcore.NewJSONEncoder(config)
	case FormatConsole:
		config.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
		config.ConsoleSeparator = "  "
		enc = zapcore.NewConsoleEncoder(config)
	default:
		return logr.Logger{}, nil, fmt.Errorf("invalid log format %q, valid choices are json and console", format)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), lvl)
	log := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.DPanicLevel))
	return zapr.NewLogger(log), func() { _ = log.Sync() }, nil
}

// ForTest returns a logger that writes every level through t.Log.
func ForTest(t testing.TB) logr.Logger {
	return zapr.NewLogger(zaptest.NewLogger(t, zaptest.Level(zapcore.Level(-2))))
}

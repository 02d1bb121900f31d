// Package logging builds the process logger.
//
// Standard output carries MCP JSON-RPC traffic, so human-readable logs go to
// standard error. An optional file receives JSON lines and is rotated.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a sugared zap logger with the closer for its rotating file.
type Logger struct {
	*zap.SugaredLogger
	file io.Closer
}

// New creates a Logger writing to stderr at level and, when file is set, to
// a rotating JSON log file as well.
func New(level, file string) (*Logger, error) {
	return newLogger(level, file, os.Stderr)
}

func newLogger(level, file string, console zapcore.WriteSyncer) (*Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", level)
		}
		lvl = parsed
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(console), lvl),
	}

	l := &Logger{}
	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100,
			MaxBackups: 3,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			lvl,
		))
		l.file = rotator
	}

	l.SugaredLogger = zap.New(zapcore.NewTee(cores...)).Sugar().Named("plan-symbols")
	return l, nil
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	// Sync on a terminal stderr reports ENOTTY/EINVAL; that is not a failure.
	_ = l.Sync()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

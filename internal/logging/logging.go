// Package logging builds the logr.Logger used by every component of the daemon.
package logging

import (
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// Level is the highest logr V-level that is written.
	Level int
	// Development selects the console encoder, otherwise JSON is written.
	Development bool
	// File, when set, receives a copy of the log, rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Output defaults to os.Stderr.
	Output io.Writer
}

func New(opts Options) logr.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	if opts.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if opts.Development {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}
	syncers := []zapcore.WriteSyncer{zapcore.AddSync(output)}
	if opts.File != "" {
		syncers = append(syncers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}))
	}

	// logr V(n) maps to zap level -n
	level := zap.NewAtomicLevelAt(zapcore.Level(-opts.Level))
	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), level)

	zapOpts := []zap.Option{zap.AddCaller()}
	if opts.Development {
		zapOpts = append(zapOpts, zap.Development())
	}
	return zapr.NewLogger(zap.New(core, zapOpts...))
}

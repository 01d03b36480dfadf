// Package log wraps go.uber.org/zap behind a small interface: components
// take a Logger at construction and never reach for a package-global logger,
// while the process entrypoint wires one concrete zap-backed instance with
// lumberjack-rotated file output.
package log

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field is a structured log attribute.
type Field = zap.Field

func String(key, val string) Field        { return zap.String(key, val) }
func Int(key string, val int) Field       { return zap.Int(key, val) }
func Uint64(key string, val uint64) Field { return zap.Uint64(key, val) }
func Err(err error) Field                 { return zap.Error(err) }
func Any(key string, val any) Field       { return zap.Any(key, val) }
func Duration(key string, d interface{ String() string }) Field {
	return zap.String(key, d.String())
}

// Logger is the structured logging contract every Theater component depends
// on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
	Sync() error
}

type zapLogger struct{ z *zap.Logger }

func (l *zapLogger) Debug(msg string, f ...Field) { l.z.Debug(msg, f...) }
func (l *zapLogger) Info(msg string, f ...Field)  { l.z.Info(msg, f...) }
func (l *zapLogger) Warn(msg string, f ...Field)  { l.z.Warn(msg, f...) }
func (l *zapLogger) Error(msg string, f ...Field) { l.z.Error(msg, f...) }
func (l *zapLogger) Fatal(msg string, f ...Field) { l.z.Fatal(msg, f...) }
func (l *zapLogger) With(f ...Field) Logger       { return &zapLogger{z: l.z.With(f...)} }
func (l *zapLogger) Sync() error                  { return l.z.Sync() }

// Options configures New. OutputPath may be "stdout", "stderr", or a file
// path, in which case output is rotated through lumberjack.
type Options struct {
	Level      string // debug|info|warn|error, default info
	OutputPath string // default stdout
	Console    bool   // also emit to stdout when OutputPath is a file
	MaxSizeMB  int    // lumberjack MaxSize, default 100
	MaxBackups int    // default 5
	MaxAgeDays int    // default 28
	Compress   bool
}

func (o Options) withDefaults() Options {
	if o.Level == "" {
		o.Level = "info"
	}
	if o.OutputPath == "" {
		o.OutputPath = "stdout"
	}
	if o.MaxSizeMB == 0 {
		o.MaxSizeMB = 100
	}
	if o.MaxBackups == 0 {
		o.MaxBackups = 5
	}
	if o.MaxAgeDays == 0 {
		o.MaxAgeDays = 28
	}
	return o
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a Logger from Options.
func New(opts Options) (Logger, error) {
	opts = opts.withDefaults()
	level := zap.NewAtomicLevelAt(parseLevel(opts.Level))
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	switch opts.OutputPath {
	case "stdout", "stderr":
		w := os.Stdout
		if opts.OutputPath == "stderr" {
			w = os.Stderr
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level))
	default:
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.OutputPath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fileWriter, level))
		if opts.Console {
			cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), level))
		}
	}

	z := zap.New(zapcore.NewTee(cores...))
	return &zapLogger{z: z}, nil
}

// Must is New but panics on error, for process-entrypoint convenience.
func Must(opts Options) Logger {
	l, err := New(opts)
	if err != nil {
		panic(fmt.Sprintf("log: %v", err))
	}
	return l
}

// Nop returns a Logger that discards everything, used as a safe default for
// components constructed without an explicit logger (tests, early startup).
func Nop() Logger { return &zapLogger{z: zap.NewNop()} }

// Package trace provides the build logger. Each Logger carries a chain of
// stage frames; deriving a logger appends a frame, and every record it
// writes includes the rendered chain in its "callstack" field. A single
// record therefore tells which stage, repository and script produced it.
package trace

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RootStage is the first frame of every chain built by New.
const RootStage = "dependentBuild"

// CallstackKey is the field holding the rendered chain.
const CallstackKey = "callstack"

// TraceLevel sits below zap's debug level.
const TraceLevel = zapcore.DebugLevel - 1

// Formats accepted by Options.Format.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures New.
type Options struct {
	Level  zapcore.Level
	Format string    // console (default) or json
	Writer io.Writer // defaults to os.Stderr
	// NoColor disables ANSI level colors in the console format.
	NoColor bool
}

// Logger is a zap logger bound to a frame chain. The zero value discards
// everything.
type Logger struct {
	z     *zap.Logger
	chain *Chain
}

// New builds the process logger with a chain rooted at RootStage.
func New(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	var enc zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = consoleLevelEncoder
		if opts.NoColor {
			cfg.EncodeLevel = plainLevelEncoder
		}
		cfg.CallerKey = zapcore.OmitKey
		cfg.NameKey = zapcore.OmitKey
		enc = zapcore.NewConsoleEncoder(cfg)
	case FormatJSON:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = jsonLevelEncoder
		cfg.CallerKey = zapcore.OmitKey
		enc = zapcore.NewJSONEncoder(cfg)
	default:
		return Logger{}, fmt.Errorf("unknown log format %q (expected console or json)", opts.Format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), opts.Level)
	return NewWithCore(core), nil
}

// NewWithCore wraps an existing zap core, e.g. an observer in tests.
func NewWithCore(core zapcore.Core) Logger {
	z := zap.New(core, zap.WithFatalHook(continueHook{}))
	return Logger{z: z, chain: Root(RootStage)}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return Logger{z: zap.NewNop(), chain: Root(RootStage)}
}

// Derive returns a child logger with stage appended to the chain.
func (l Logger) Derive(stage string) Logger {
	return Logger{z: l.z, chain: l.chain.Push(Stage(stage))}
}

// DeriveIndex returns a child logger with the index-th iteration of
// stage appended to the chain.
func (l Logger) DeriveIndex(stage string, index int) Logger {
	return Logger{z: l.z, chain: l.chain.Push(Indexed(stage, index))}
}

// With returns a logger that adds fields to every record.
func (l Logger) With(fields ...zap.Field) Logger {
	if l.z == nil {
		return l
	}
	return Logger{z: l.z.With(fields...), chain: l.chain}
}

// Chain returns the logger's frame chain.
func (l Logger) Chain() *Chain {
	return l.chain
}

// Log writes a record at level.
func (l Logger) Log(level zapcore.Level, msg string, fields ...zap.Field) {
	if l.z == nil {
		return
	}
	ce := l.z.Check(level, msg)
	if ce == nil {
		return
	}
	fields = append(fields[:len(fields):len(fields)], zap.String(CallstackKey, l.chain.String()))
	ce.Write(fields...)
}

func (l Logger) Trace(msg string, fields ...zap.Field) { l.Log(TraceLevel, msg, fields...) }
func (l Logger) Debug(msg string, fields ...zap.Field) { l.Log(zapcore.DebugLevel, msg, fields...) }
func (l Logger) Info(msg string, fields ...zap.Field)  { l.Log(zapcore.InfoLevel, msg, fields...) }
func (l Logger) Warn(msg string, fields ...zap.Field)  { l.Log(zapcore.WarnLevel, msg, fields...) }
func (l Logger) Error(msg string, fields ...zap.Field) { l.Log(zapcore.ErrorLevel, msg, fields...) }

// Fatal writes a record at fatal severity. It does not exit; the caller
// decides the exit status.
func (l Logger) Fatal(msg string, fields ...zap.Field) { l.Log(zapcore.FatalLevel, msg, fields...) }

// Sync flushes buffered records.
func (l Logger) Sync() error {
	if l.z == nil {
		return nil
	}
	return l.z.Sync()
}

// ParseLevel parses trace, debug, info, warn (or warning), error and fatal.
// The empty string means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TraceLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (expected trace, debug, info, warn, error, or fatal)", s)
	}
}

// continueHook lets Fatal records through without terminating the process.
type continueHook struct{}

func (continueHook) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {}

func consoleLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("\x1b[90mTRACE\x1b[0m")
		return
	}
	zapcore.CapitalColorLevelEncoder(l, enc)
}

func jsonLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

func plainLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}

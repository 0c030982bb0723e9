package logger

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"

	// zap levels are int8, so -n must stay representable.
	maxVerbosity = 127
)

type Logger struct {
	logr.Logger
	atomicLevel zap.AtomicLevel
	flush       func()
}

// New returns a logger writing human readable lines to stderr at info level.
func New(name string) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	atomicLevel := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), atomicLevel)
	zapLogger := zap.New(core)

	return &Logger{
		Logger:      zapr.NewLogger(zapLogger).WithName(name),
		atomicLevel: atomicLevel,
		flush: func() {
			_ = zapLogger.Sync()
		},
	}
}

func (l *Logger) SetLevel(level zapcore.Level) {
	l.atomicLevel.SetLevel(level)
}

func (l *Logger) Flush() {
	l.flush()
}

// AddLevelFlag registers -v/--verbosity on fs.
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	fs.VarP(&levelFlag{set: l.SetLevel, value: "info"}, verbosityFlagName, verbosityFlagShortName,
		"Logging verbosity level (e.g. -v=debug). One of 'debug', 'info', 'error', or a positive integer for increasing debug verbosity.")
}

type levelFlag struct {
	set   func(zapcore.Level)
	value string
}

func (f *levelFlag) String() string {
	return f.value
}

func (f *levelFlag) Type() string {
	return "level"
}

func (f *levelFlag) Set(s string) error {
	level, err := ParseLevel(s)
	if err != nil {
		return err
	}
	f.value = s
	f.set(level)
	return nil
}

// ParseLevel accepts zap level names or a logr verbosity number.
// Verbosity n maps to zap level -n, so -v=1 enables log.V(1).
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}

	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || n > maxVerbosity {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return zapcore.Level(-int8(n)), nil
}

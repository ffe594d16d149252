package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for file output
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// ZapConfig defines Zap-specific configuration
type ZapConfig struct {
	Level      string `yaml:"level,omitempty"`       // "debug", "info", "warn", "error"
	Format     string `yaml:"format,omitempty"`      // "json", "console"
	Output     string `yaml:"output,omitempty"`      // "stdout", "stderr", or a file path
	Caller     bool   `yaml:"caller,omitempty"`      // Include caller information
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"` // File output only, rotation follows lumberjack
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// DefaultZapConfig returns the configuration used by the CLI when nothing is set
func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// ZapLogger adapts a zap sugared logger to the Logger interface
type ZapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger builds a zap backend from configuration
func NewZapLogger(config ZapConfig) (*ZapLogger, error) {
	zapLogger, err := createZapLogger(config)
	if err != nil {
		return nil, err
	}
	return &ZapLogger{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
	}, nil
}

// NewZapLoggerFrom wraps an existing zap logger
func NewZapLoggerFrom(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{
		logger: logger,
		sugar:  logger.Sugar(),
	}
}

func (z *ZapLogger) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case LogLevelDebug:
		z.sugar.Debugf(format, args...)
	case LogLevelWarn:
		z.sugar.Warnf(format, args...)
	case LogLevelError:
		z.sugar.Errorf(format, args...)
	default:
		z.sugar.Infof(format, args...)
	}
}

func (z *ZapLogger) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *ZapLogger) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapLogger) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapLogger) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

// Named returns a child logger scoped to a component name
func (z *ZapLogger) Named(name string) *ZapLogger {
	return NewZapLoggerFrom(z.logger.Named(name))
}

// prefixLoggerFrames is the number of stack frames NewLogger's wrapper adds
// between the caller and the LogFuncs it forwards to.
const prefixLoggerFrames = 2

// WithCallerSkip returns a logger that reports callers skip frames further
// up the stack.
func (z *ZapLogger) WithCallerSkip(skip int) *ZapLogger {
	return NewZapLoggerFrom(z.logger.WithOptions(zap.AddCallerSkip(skip)))
}

// PrefixLogFuncs returns LogFuncs for NewLogger. Caller reporting skips the
// prefix logger so it still points at the code that logged.
func (z *ZapLogger) PrefixLogFuncs() LogFuncs {
	inner := z.WithCallerSkip(prefixLoggerFrames)
	return LogFuncs{
		Debugf: inner.Debugf,
		Infof:  inner.Infof,
		Warnf:  inner.Warnf,
		Errorf: inner.Errorf,
	}
}

// Sync flushes any buffered log entries
func (z *ZapLogger) Sync() error {
	return z.logger.Sync()
}

func createZapLogger(config ZapConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if config.Level != "" {
		parsed, err := getLevelFromString(config.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format: %s", config.Format)
	}

	var writeSyncer zapcore.WriteSyncer
	switch config.Output {
	case "stderr", "":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stderr))
	case "stdout":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stdout))
	default:
		writeSyncer = zapcore.AddSync(&lj.Logger{
			Filename:   config.Output,
			MaxSize:    valOr(config.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(config.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(config.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   config.Compress,
		})
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	opts := []zap.Option{}
	if config.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	return zap.New(core, opts...), nil
}

// zapcore.ParseLevel is not available in zap v1.20.0
func getLevelFromString(levelStr string) (zapcore.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("invalid log level: %s", levelStr)
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

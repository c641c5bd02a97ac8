package utils

import (
	"os"
	"strings"

	"github.com/linkdata/deadlock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig selects the level and the optional rotating log file.
type LogConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	File       string `yaml:"file"`  // stdout is always included
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Logger is the levelled printf-style logger used across the recorder.
type Logger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
	file  *lumberjack.Logger
}

var (
	loggerMu     deadlock.RWMutex
	globalLogger *Logger
)

func parseLevel(s string) zapcore.Level {
	lvl := zapcore.InfoLevel
	if s != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
			return zapcore.InfoLevel
		}
	}
	return lvl
}

// InitLogger builds the global logger. Calling it again replaces the
// previous logger and closes its file.
func InitLogger(cfg LogConfig) *Logger {
	l := newLogger(cfg)

	loggerMu.Lock()
	prev := globalLogger
	globalLogger = l
	loggerMu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return l
}

func newLogger(cfg LogConfig) *Logger {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level),
	}

	var lj *lumberjack.Logger
	if cfg.File != "" {
		lj = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(lj), level))
	}

	base := zap.New(zapcore.NewTee(cores...))
	return &Logger{base: base, sugar: base.Sugar(), file: lj}
}

// SetLogger installs an existing zap logger, e.g. zap.NewNop() in tests.
func SetLogger(z *zap.Logger) {
	loggerMu.Lock()
	globalLogger = &Logger{base: z, sugar: z.Sugar()}
	loggerMu.Unlock()
}

// L returns the global logger, initialising a stdout-only info logger on first use.
func L() *Logger {
	loggerMu.RLock()
	l := globalLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if globalLogger == nil {
		globalLogger = newLogger(LogConfig{})
	}
	return globalLogger
}

// Close flushes buffered entries and closes the log file, if any.
func (l *Logger) Close() {
	_ = l.base.Sync()
	if l.file != nil {
		_ = l.file.Close()
	}
}

func (l *Logger) Debug(f string, a ...any) { l.sugar.Debugf(f, a...) }
func (l *Logger) Info(f string, a ...any)  { l.sugar.Infof(f, a...) }
func (l *Logger) Warn(f string, a ...any)  { l.sugar.Warnf(f, a...) }
func (l *Logger) Error(f string, a ...any) { l.sugar.Errorf(f, a...) }

func (l *Logger) Infow(msg string, kv ...any) { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, err error, kv ...any) {
	if err != nil {
		kv = append([]any{"error", err}, kv...)
	}
	l.sugar.Warnw(msg, kv...)
}
func (l *Logger) Errorw(msg string, err error, kv ...any) {
	l.sugar.Errorw(msg, append([]any{"error", err}, kv...)...)
}

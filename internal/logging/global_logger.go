// Package logging wraps logrus with the process-wide setup used by claude-relay:
// formatter, level parsing and optional rotating file output.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias so callers only import this package.
type Fields = log.Fields

const (
	defaultLogDir     = "logs"
	defaultLogFile    = "claude-relay.log"
	defaultMaxSizeMB  = 20
	defaultMaxBackups = 5
	defaultMaxAgeDays = 14
)

var (
	setupOnce  sync.Once
	outputMu   sync.Mutex
	fileWriter *lumberjack.Logger
)

// SetupBaseLogger installs the text formatter and default level. Safe to call
// more than once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			PadLevelText:    true,
		})
		log.SetLevel(log.InfoLevel)
	})
}

// SetLogLevel maps a user-facing level name onto a logrus level.
// Unknown names fall back to info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// ConfigureLogOutput switches between stdout and a rotating file under dir.
// An empty dir uses ./logs.
func ConfigureLogOutput(toFile bool, dir string) error {
	outputMu.Lock()
	defer outputMu.Unlock()

	if !toFile {
		if fileWriter != nil {
			_ = fileWriter.Close()
			fileWriter = nil
		}
		log.SetOutput(os.Stdout)
		return nil
	}

	if dir == "" {
		dir = defaultLogDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if fileWriter != nil {
		_ = fileWriter.Close()
	}
	fileWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, defaultLogFile),
		MaxSize:    defaultMaxSizeMB,
		MaxBackups: defaultMaxBackups,
		MaxAge:     defaultMaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	return nil
}

func Debug(args ...any)                 { log.Debug(args...) }
func Debugf(format string, args ...any) { log.Debugf(format, args...) }
func Info(args ...any)                  { log.Info(args...) }
func Infof(format string, args ...any)  { log.Infof(format, args...) }
func Warn(args ...any)                  { log.Warn(args...) }
func Warnf(format string, args ...any)  { log.Warnf(format, args...) }
func Error(args ...any)                 { log.Error(args...) }
func Errorf(format string, args ...any) { log.Errorf(format, args...) }
func Fatalf(format string, args ...any) { log.Fatalf(format, args...) }

func WithField(key string, value any) *log.Entry { return log.WithField(key, value) }
func WithFields(fields Fields) *log.Entry        { return log.WithFields(fields) }
func WithError(err error) *log.Entry             { return log.WithError(err) }

// IsDebug reports whether debug logging is enabled, for guarding expensive dumps.
func IsDebug() bool {
	return log.IsLevelEnabled(log.DebugLevel)
}

// TranslationField tags warnings raised while translating between wire
// formats; metrics counts entries carrying it.
const TranslationField = "translation"

// TranslationWarnf logs a lossy or ambiguous translation of the given kind.
func TranslationWarnf(kind, format string, args ...any) {
	log.WithField(TranslationField, kind).Warnf(format, args...)
}

// AddHook registers a hook on the standard logger.
func AddHook(h log.Hook) { log.AddHook(h) }

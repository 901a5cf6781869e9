package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logMu  sync.RWMutex
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// InitLogger configures the global logger to write to stdout and, when file is
// set, to a size-rotated log file.
func InitLogger(file string, maxSizeMB, maxBackups, maxAgeDays int, compress bool, level string) {
	var out io.Writer = os.Stdout
	if file != "" {
		if dir := filepath.Dir(file); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				fmt.Fprintf(os.Stderr, "create log dir %s: %v\n", dir, err)
			}
		}
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   compress,
		})
	}

	logMu.Lock()
	logger = zerolog.New(out).With().Timestamp().Logger().Level(parseLevel(level))
	logMu.Unlock()
}

// SetLogLevel changes the level of the global logger. Unknown levels fall back to info.
func SetLogLevel(level string) {
	logMu.Lock()
	logger = logger.Level(parseLevel(level))
	logMu.Unlock()
}

// SetLoggerForTest swaps the global logger.
func SetLoggerForTest(l zerolog.Logger) {
	logMu.Lock()
	logger = l
	logMu.Unlock()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Debug logs msg with alternating key/value pairs.
func Debug(msg string, kv ...interface{}) {
	logMu.RLock()
	defer logMu.RUnlock()
	logger.Debug().Fields(fields(kv)).Msg(msg)
}

// Info logs msg with alternating key/value pairs.
func Info(msg string, kv ...interface{}) {
	logMu.RLock()
	defer logMu.RUnlock()
	logger.Info().Fields(fields(kv)).Msg(msg)
}

// Warn logs msg with alternating key/value pairs.
func Warn(msg string, kv ...interface{}) {
	logMu.RLock()
	defer logMu.RUnlock()
	logger.Warn().Fields(fields(kv)).Msg(msg)
}

// Error logs msg with alternating key/value pairs.
func Error(msg string, kv ...interface{}) {
	logMu.RLock()
	defer logMu.RUnlock()
	logger.Error().Fields(fields(kv)).Msg(msg)
}

// fields turns key/value pairs into a map. A dangling key is kept with a nil value.
func fields(kv []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 < len(kv) {
			v := kv[i+1]
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			m[key] = v
		} else {
			m[key] = nil
		}
	}
	return m
}

// LeveledLogger adapts the global logger to retryablehttp's LeveledLogger.
type LeveledLogger struct{}

func (LeveledLogger) Error(msg string, kv ...interface{}) { Error(msg, kv...) }
func (LeveledLogger) Info(msg string, kv ...interface{})  { Debug(msg, kv...) }
func (LeveledLogger) Debug(msg string, kv ...interface{}) { Debug(msg, kv...) }
func (LeveledLogger) Warn(msg string, kv ...interface{})  { Warn(msg, kv...) }

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu      sync.RWMutex
	log     = newLogger(os.Stderr, zerolog.InfoLevel)
	logFile *os.File
)

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ParseLevel maps LOG_LEVEL values to zerolog levels, info when empty.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// InitLogger logs to the console on stderr, keeping stdout for command
// output. When filename is not empty JSON lines are appended to that file
// as well.
func InitLogger(filename string, level zerolog.Level) error {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	var w io.Writer = console

	mu.Lock()
	defer mu.Unlock()
	if filename != "" {
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		w = zerolog.MultiLevelWriter(console, zerolog.SyncWriter(f))
	}
	log = newLogger(w, level)
	return nil
}

// SetOutput replaces the logger. Tests use it to capture output.
func SetOutput(w io.Writer, level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	log = newLogger(w, level)
}

func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// L returns the current logger for structured events.
func L() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

func Debugf(format string, v ...interface{}) {
	L().Debug().Msgf(format, v...)
}

func Info(msg string) {
	L().Info().Msg(msg)
}

func Infof(format string, v ...interface{}) {
	L().Info().Msgf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	L().Warn().Msgf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	L().Error().Msgf(format, v...)
}

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu   sync.Mutex
	log  = logrus.New()
	file *os.File
)

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
}

// InitLog redirects log output to the given file path, creating parent
// directories as needed. Stderr output is kept when path is empty.
func InitLog(path string) error {
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %q: %w", path, err)
	}

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		_ = file.Close()
	}
	file = f
	log.SetOutput(f)

	return nil
}

// FlushLog syncs and closes the log file, if any.
func FlushLog() {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		_ = file.Sync()
		_ = file.Close()
		file = nil
		log.SetOutput(os.Stderr)
	}
}

// SetLevel changes the logging level. Accepted values: debug, info,
// warning, error. Unknown values fall back to info.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warning", "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
}

func Debug(format string, args ...any) {
	log.Debugf(format, args...)
}

func Info(format string, args ...any) {
	log.Infof(format, args...)
}

func Warn(format string, args ...any) {
	log.Warnf(format, args...)
}

func Error(format string, args ...any) {
	log.Errorf(format, args...)
}

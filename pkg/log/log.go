// Package log provides the application-wide leveled logger.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
)

// Level is a log severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu      sync.Mutex
	level   = LevelInfo
	out     io.Writer = os.Stderr
	logFile *os.File
)

// Init opens a log file under the XDG state directory and mirrors output
// there. Logging works without Init; it just writes to stderr only.
func Init(appName string) error {
	dir := filepath.Join(xdg.StateHome, appName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, appName+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	logFile = f
	out = io.MultiWriter(os.Stderr, f)
	return nil
}

// Close closes the log file if one was opened by Init.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
		out = os.Stderr
	}
}

// SetLevel sets the minimum severity that gets written.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// ParseLevel converts a config string ("debug", "info", "warn", "error")
// to a Level. Unknown strings map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetOutput redirects log output (used by tests).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func logf(l Level, tag, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}
	fmt.Fprintf(out, "%s %s %s\n",
		time.Now().Format("2006-01-02 15:04:05"),
		tag,
		fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...interface{}) { logf(LevelDebug, "DEBUG", format, args...) }
func Infof(format string, args ...interface{})  { logf(LevelInfo, "INFO ", format, args...) }
func Warnf(format string, args ...interface{})  { logf(LevelWarn, "WARN ", format, args...) }
func Errorf(format string, args ...interface{}) { logf(LevelError, "ERROR", format, args...) }

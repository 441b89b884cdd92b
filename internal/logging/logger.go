// Package logging provides the shared debug logger used across the
// orchestrator's internal packages.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes timestamped debug lines to a file. A nil *Logger, or one
// with no backing file, is a no-op; every method tolerates a nil receiver.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// New creates a logger writing to path. If path is empty, returns a no-op
// logger. Creates parent directories if needed.
func New(path string) (*Logger, error) {
	if path == "" {
		return &Logger{}, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &Logger{file: f}
	l.Log("=== log started at %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// NewForProject creates a logger under the project's .conduct/logs directory.
// Returns a no-op logger if the directory cannot be created.
func NewForProject(projectRoot string) *Logger {
	path := filepath.Join(projectRoot, ".conduct", "logs", "orchestrator-debug.log")
	l, err := New(path)
	if err != nil {
		return &Logger{}
	}
	return l
}

// Nop returns a no-op logger, useful in tests or when logging is disabled.
func Nop() *Logger {
	return &Logger{}
}

// Log writes a timestamped message. No-op if l is nil or unbacked.
func (l *Logger) Log(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format("15:04:05.000"), msg)
	l.file.Sync()
}

// Close closes the backing file. Safe to call on a nil or unbacked logger.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// pkg is the package-level default logger used by packages that don't carry
// their own logger reference (mirrors the teacher's orchestrator/logger.go
// package-level indirection so deeply-nested helpers can still log without
// threading a *Logger through every call).
var (
	pkgMu  sync.RWMutex
	pkgLog *Logger
)

// SetDefault installs the package-level default logger.
func SetDefault(l *Logger) {
	pkgMu.Lock()
	defer pkgMu.Unlock()
	pkgLog = l
}

// Default logs through the package-level default logger, a no-op until
// SetDefault has been called.
func Default(format string, args ...interface{}) {
	pkgMu.RLock()
	l := pkgLog
	pkgMu.RUnlock()
	l.Log(format, args...)
}

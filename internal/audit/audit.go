// Package audit records every door launch to an append-only log file.
package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log appends one line per door launch.
type Log struct {
	mu  sync.Mutex
	out io.WriteCloser
	now func() time.Time
}

// Open prepares the audit log at path, creating its directory.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	// Rotated segments are never pruned: no MaxBackups and no MaxAge.
	return &Log{
		out: &lumberjack.Logger{
			Filename: path,
			MaxSize:  50,
		},
		now: time.Now,
	}, nil
}

// Record appends a launch line for user running the door code.
func (l *Log) Record(user, title, code string) error {
	if title == "" {
		title = "Unknown"
	}
	line := fmt.Sprintf("%s | User: %s | Title: %s | Code: %s\n",
		l.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"), user, title, code)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.out, line)
	return err
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

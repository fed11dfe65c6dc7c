// Package logging provides debug logging and log file setup for the door server.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DebugEnabled controls whether Debug() produces output.
// Set via --debug flag or "debug": true in config.json.
var DebugEnabled bool

// Debug logs a message only when DebugEnabled is true.
func Debug(format string, args ...any) {
	if DebugEnabled {
		log.Printf("DEBUG: "+format, args...)
	}
}

// SetupFile sends the standard logger to a rotating log file, and to stderr
// as well when echo is set. The returned closer closes the file; callers
// defer it from main.
func SetupFile(path string, maxSizeMB, maxBackups int, echo bool) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   false,
	}
	if echo {
		log.SetOutput(io.MultiWriter(os.Stderr, lj))
	} else {
		log.SetOutput(lj)
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	return lj, nil
}

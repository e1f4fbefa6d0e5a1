package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes structured logs to a file and to the console
type Logger struct {
	zerolog.Logger
	file *os.File
}

// NewLogger creates a logger appending to logPath. console also mirrors the
// output to stderr in human-readable form.
func NewLogger(logPath, level string, console bool) (*Logger, error) {
	// Ensure directory exists
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var out io.Writer = file
	if console {
		out = zerolog.MultiLevelWriter(file, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}

	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(out).Level(ParseLogLevel(level)).With().Timestamp().Logger()

	return &Logger{Logger: logger, file: file}, nil
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// ParseLogLevel maps a config string to a zerolog level, defaulting to info.
func ParseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetLogPath returns the log file for today inside dir
func GetLogPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("deskchat-%s.log", time.Now().Format("2006-01-02")))
}

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

type LogLevel string

const (
	// LogLevelDebug is used for debug messages
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is used for informational messages
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn is used for warning messages
	LogLevelWarn LogLevel = "warn"
	// LogLevelError is used for error messages
	LogLevelError LogLevel = "error"
)

// Settings controls where log records are written
type Settings struct {
	Level   LogLevel
	Dir     string
	Name    string
	Console bool // also write to stdout (journald picks this up on the edge box)
	MaxAge  int  // days of log files to keep, 0 keeps everything
}

// dailyRotatingWriter is a writer that creates a new log file each day
type dailyRotatingWriter struct {
	logDir      string
	filename    string
	currentFile *os.File
	currentDate string
	maxAge      int
	now         func() time.Time
	mu          sync.Mutex
}

func newDailyRotatingWriter(logDir, filename string, maxAge int) *dailyRotatingWriter {
	return &dailyRotatingWriter{
		logDir:   logDir,
		filename: filename,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Write implements the io.Writer interface
func (w *dailyRotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// local date, operators read these files on the device
	currentDate := w.now().Format("2006-01-02")

	if w.currentFile == nil || w.currentDate != currentDate {
		if err := w.rotate(currentDate); err != nil {
			return 0, err
		}
	}

	return w.currentFile.Write(p)
}

// rotate closes the current file and opens a new one for the given date
func (w *dailyRotatingWriter) rotate(date string) error {
	if w.currentFile != nil {
		w.currentFile.Close()
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("%s-%s.log", w.filename, date))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	w.currentFile = file
	w.currentDate = date
	w.prune()
	return nil
}

// prune removes log files whose date is more than maxAge days old.
// Dates are compared as strings, which works for the YYYY-MM-DD layout.
func (w *dailyRotatingWriter) prune() {
	if w.maxAge <= 0 {
		return
	}
	cutoff := w.now().AddDate(0, 0, -w.maxAge).Format("2006-01-02")

	matches, err := filepath.Glob(filepath.Join(w.logDir, w.filename+"-*.log"))
	if err != nil {
		return
	}
	for _, match := range matches {
		date := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(match), w.filename+"-"), ".log")
		if len(date) == len("2006-01-02") && date < cutoff {
			os.Remove(match)
		}
	}
}

// Close closes the current file
func (w *dailyRotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		return err
	}
	return nil
}

// ParseLevel maps a configured level name to a slog level, defaulting to info
func ParseLevel(logLevel LogLevel) slog.Level {
	switch logLevel {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CreateLogger creates a JSON logger that writes to daily rotating log files.
// The returned closer releases the current log file and is never nil.
func CreateLogger(settings Settings) (Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: ParseLevel(settings.Level)}

	if err := os.MkdirAll(settings.Dir, 0755); err != nil {
		// Fallback to console logging if we can't create the log directory
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), io.NopCloser(nil)
	}

	rotatingWriter := newDailyRotatingWriter(settings.Dir, settings.Name, settings.MaxAge)

	var out io.Writer = rotatingWriter
	if settings.Console {
		out = io.MultiWriter(rotatingWriter, os.Stdout)
	}

	return slog.New(slog.NewJSONHandler(out, opts)), rotatingWriter
}

// nopLogger is a no-operation logger that implements the Logger interface.
type nopLogger struct{}

// NopLogger is a singleton Logger that performs no operations.
var NopLogger Logger = &nopLogger{}

func (l *nopLogger) Info(msg string, args ...any)  {}
func (l *nopLogger) Warn(msg string, args ...any)  {}
func (l *nopLogger) Error(msg string, args ...any) {}
func (l *nopLogger) Debug(msg string, args ...any) {}

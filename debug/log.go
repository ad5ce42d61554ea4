package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

var (
	file    *os.File
	logger  *charmlog.Logger
	mu      sync.Mutex
	enabled bool
)

// Enable starts debug logging to ~/.config/go-midisurface/debug.log
func Enable() error {
	homeDir, _ := os.UserHomeDir()
	return EnableFile(filepath.Join(homeDir, ".config", "go-midisurface", "debug.log"))
}

// EnableFile starts debug logging to path, truncating it
func EnableFile(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		return nil
	}

	// Ensure directory exists
	os.MkdirAll(filepath.Dir(path), 0755)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	file = f
	start(f)
	return nil
}

// EnableTo starts debug logging to an arbitrary writer (stderr, a test buffer)
func EnableTo(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	closeFile()
	start(w)
}

// caller holds mu
func start(w io.Writer) {
	logger = charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
		Level:           charmlog.DebugLevel,
	})
	enabled = true
	logger.Info("=== Debug logging started ===", "cat", "debug")
}

// Disable stops debug logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	closeFile()
	logger = nil
	enabled = false
}

func closeFile() {
	if file != nil {
		file.Close()
		file = nil
	}
}

// Log writes a debug message under a category
func Log(category, format string, args ...any) {
	write(charmlog.DebugLevel, category, format, args...)
}

// Warn records a non-fatal problem: a clamped value, an ignored call, a failed send
func Warn(category, format string, args ...any) {
	write(charmlog.WarnLevel, category, format, args...)
}

// Error records a failure at an I/O boundary
func Error(category, format string, args ...any) {
	write(charmlog.ErrorLevel, category, format, args...)
}

func write(level charmlog.Level, category, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()

	if !enabled || logger == nil {
		return
	}

	logger.Log(level, fmt.Sprintf(format, args...), "cat", category)
	if file != nil {
		file.Sync() // flush immediately so we see logs even on crash
	}
}

// LogEvery logs only every N calls (use for high-frequency events)
var counters = make(map[string]int)

func LogEvery(n int, category, format string, args ...any) {
	mu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	mu.Unlock()

	if count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}

// Package logsink is the supervisor's append-only log stream: it
// accepts structured (level, message, fields, timestamp) records and
// rotates the active file once it exceeds a size threshold, renaming
// it log.<unix_seconds> exactly as the C source's log_message() did
// (spec §6, §7). It is deliberately outside the core's scope (spec §1
// names the log sink as an external collaborator) but still ships as
// a real component so the core has something to log through.
package logsink

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultMaxSize is the rotation threshold in bytes (1 MiB, matching
// the original MAX_LOG_SIZE).
const DefaultMaxSize = 1024 * 1024

// Sink wraps a *zap.Logger over a size-rotating file sink. Every
// failed write is retried exactly once and then dropped — spec §7:
// "logging must never take down the supervisor."
type Sink struct {
	*zap.SugaredLogger
	writer  *rotatingWriter
	dropped int64
}

// Open creates or appends to path, rotating it first if it is already
// over maxSize bytes. maxSize <= 0 selects DefaultMaxSize.
func Open(path string, maxSize int64) (*Sink, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	w := &rotatingWriter{path: path, maxSize: maxSize}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("logsink: %w", err)
	}
	if err := w.open(); err != nil {
		return nil, fmt.Errorf("logsink: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, zap.InfoLevel)

	s := &Sink{writer: w}
	s.SugaredLogger = zap.New(core).Sugar()
	return s, nil
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	_ = s.SugaredLogger.Sync()
	return s.writer.close()
}

// Dropped returns how many records were lost to write failures that
// survived one retry.
func (s *Sink) Dropped() int64 {
	return s.writer.dropped()
}

// rotatingWriter is a zapcore.WriteSyncer that rotates its backing
// file once it crosses maxSize, and swallows write errors after one
// retry instead of propagating them.
type rotatingWriter struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	file    *os.File
	size    int64
	dropCnt int64
}

func (w *rotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *rotatingWriter) rotateIfNeeded() error {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < w.maxSize {
		return nil
	}
	rotated := fmt.Sprintf("%s.%d", w.path, time.Now().Unix())
	return os.Rename(w.path, rotated)
}

// Write implements io.Writer / zapcore.WriteSyncer. On failure it
// retries exactly once; a second failure increments the drop counter
// and reports success so zap never treats logging as fatal.
func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) >= w.maxSize {
		if err := w.rotateLocked(); err != nil {
			w.dropCnt++
			return len(p), nil
		}
	}

	n, err := w.file.Write(p)
	if err != nil {
		// Retry once.
		n, err = w.file.Write(p)
		if err != nil {
			w.dropCnt++
			return len(p), nil
		}
	}
	w.size += int64(n)
	return n, nil
}

func (w *rotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *rotatingWriter) rotateLocked() error {
	if w.file != nil {
		w.file.Close()
	}
	rotated := fmt.Sprintf("%s.%d", w.path, time.Now().Unix())
	if err := os.Rename(w.path, rotated); err != nil {
		return err
	}
	if err := w.open(); err != nil {
		return err
	}
	w.size = 0
	return nil
}

func (w *rotatingWriter) dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropCnt
}

func (w *rotatingWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

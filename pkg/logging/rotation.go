package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig controls size-based rotation of a file sink.
type RotationConfig struct {
	// Filename is set by AddOutputFile; callers need not populate it.
	Filename string
	// MaxSize is the rotation threshold in mebibytes. Zero means 100.
	MaxSize int
	// MaxBackups is the number of rotated files to keep. Zero keeps all.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
}

// rotatingWriter is an io.Writer that rotates its file when it exceeds the
// configured size. Rotated files are renamed with a timestamp suffix.
type rotatingWriter struct {
	mu      sync.Mutex
	cfg     RotationConfig
	file    *os.File
	size    int64
	maxSize int64
}

func newRotatingWriter(cfg *RotationConfig) (*rotatingWriter, error) {
	w := &rotatingWriter{cfg: *cfg}
	w.maxSize = int64(cfg.MaxSize) * 1024 * 1024
	if w.maxSize <= 0 {
		w.maxSize = 100 * 1024 * 1024
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) open() error {
	f, err := os.OpenFile(w.cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current log file.
func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *rotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file for rotation: %w", err)
	}

	backup := fmt.Sprintf("%s.%s", w.cfg.Filename, time.Now().Format("20060102-150405.000"))
	if err := os.Rename(w.cfg.Filename, backup); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if w.cfg.Compress {
		if err := compressFile(backup); err == nil {
			os.Remove(backup)
		}
	}

	if err := w.cleanup(); err != nil {
		return err
	}
	return w.open()
}

// cleanup removes the oldest backups beyond MaxBackups.
func (w *rotatingWriter) cleanup() error {
	if w.cfg.MaxBackups <= 0 {
		return nil
	}
	matches, err := filepath.Glob(w.cfg.Filename + ".*")
	if err != nil {
		return err
	}
	// Timestamp suffixes sort chronologically.
	sort.Strings(matches)
	for len(matches) > w.cfg.MaxBackups {
		os.Remove(matches[0])
		matches = matches[1:]
	}
	return nil
}

func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// backupsFor lists rotated backups for a log file, oldest first.
func backupsFor(filename string) []string {
	matches, _ := filepath.Glob(filename + ".*")
	var out []string
	for _, m := range matches {
		if strings.HasPrefix(m, filename+".") {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

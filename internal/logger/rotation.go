package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const backupTimeLayout = "20060102-150405"

// RotationConfig configures a RotatingWriter.
type RotationConfig struct {
	Filename string

	// MaxSizeMB is the size at which the file is rotated. Zero or less never
	// rotates by size.
	MaxSizeMB int

	// MaxAgeDays removes backups older than this many days. Zero or less keeps
	// every backup.
	MaxAgeDays int

	// Compress gzips backups in the background.
	Compress bool
}

// RotatingWriter is an io.WriteCloser that moves the log file aside as
// <name>.<timestamp> once it grows past the size limit. It is safe for
// concurrent use.
type RotatingWriter struct {
	cfg      RotationConfig
	maxBytes int64
	now      func() time.Time

	mu   sync.Mutex
	file *os.File
	size int64

	background sync.WaitGroup
}

// NewRotatingWriter opens cfg.Filename for appending and removes expired backups.
func NewRotatingWriter(cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log file name is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		cfg:      cfg,
		maxBytes: int64(cfg.MaxSizeMB) * 1024 * 1024,
		now:      time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.removeExpired()
	return w, nil
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push a non-empty file past
// the size limit. A single write larger than the limit is never split.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.maxBytes > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Rotate moves the current file aside and starts a new one.
func (w *RotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return os.ErrClosed
	}
	return w.rotateLocked()
}

func (w *RotatingWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.file = nil

	backup := w.backupName()
	if err := os.Rename(w.cfg.Filename, backup); err != nil {
		if reopenErr := w.open(); reopenErr != nil {
			return reopenErr
		}
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}

	w.background.Add(1)
	go func() {
		defer w.background.Done()
		if w.cfg.Compress {
			if err := compressFile(backup); err != nil {
				fmt.Fprintf(os.Stderr, "logger: failed to compress %s: %v\n", backup, err)
			}
		}
		w.removeExpired()
	}()
	return nil
}

// backupName returns a free <name>.<timestamp>[.<n>] path.
func (w *RotatingWriter) backupName() string {
	base := w.cfg.Filename + "." + w.now().Format(backupTimeLayout)
	name := base
	for i := 1; ; i++ {
		_, err := os.Stat(name)
		_, gzErr := os.Stat(name + ".gz")
		if os.IsNotExist(err) && os.IsNotExist(gzErr) {
			return name
		}
		name = base + "." + strconv.Itoa(i)
	}
}

// Close closes the file and waits for pending compression.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()

	w.background.Wait()
	return err
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

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// removeExpired deletes backups, compressed or not, older than MaxAgeDays.
func (w *RotatingWriter) removeExpired() {
	if w.cfg.MaxAgeDays <= 0 {
		return
	}

	prefix := filepath.Base(w.cfg.Filename) + "."
	entries, err := os.ReadDir(filepath.Dir(w.cfg.Filename))
	if err != nil {
		return
	}

	cutoff := w.now().AddDate(0, 0, -w.cfg.MaxAgeDays)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		os.Remove(filepath.Join(filepath.Dir(w.cfg.Filename), entry.Name()))
	}
}

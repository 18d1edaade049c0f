package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFileName = "scribe.pid"

// PIDFilePath returns the PID file location inside dataDir.
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, pidFileName)
}

// ReadPID reads the process id stored in pidFile.
func ReadPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

// ProcessRunning reports whether the process recorded in pidFile is alive.
func ProcessRunning(pidFile string) bool {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 probes for existence.
	return process.Signal(syscall.Signal(0)) == nil
}

// pidLock marks a data directory as owned by this process.
type pidLock struct {
	path string
	held bool
}

func newPIDLock(dataDir string) *pidLock {
	return &pidLock{path: PIDFilePath(dataDir)}
}

// acquire creates the data directory and records os.Getpid(). A file left
// by a dead process, or by this one, is replaced.
func (l *pidLock) acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	self := os.Getpid()
	if owner, err := ReadPID(l.path); err == nil && owner != self && ProcessRunning(l.path) {
		return fmt.Errorf("daemon is already running with PID %d", owner)
	}

	if err := os.WriteFile(l.path, []byte(strconv.Itoa(self)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	l.held = true
	return nil
}

// release removes the PID file if this lock wrote it.
func (l *pidLock) release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

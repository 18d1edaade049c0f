package cli

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/harun/scribe/internal/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand_NotRunning(t *testing.T) {
	path := writeConfig(t, t.TempDir())

	_, err := executeRoot(t, "--config", path, "stop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon is not running")
}

func TestSignalDaemon_StaleFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "scribe.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0644))

	_, err := signalDaemon(pidFile, syscall.SIGTERM)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestStopCommand_TerminatesProcess(t *testing.T) {
	sleeper := exec.Command("sleep", "30")
	if err := sleeper.Start(); err != nil {
		t.Skipf("sleep not available: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		_ = sleeper.Wait()
		close(exited)
	}()

	dir := t.TempDir()
	path := writeConfig(t, dir)
	pidFile := daemon.PIDFilePath(dir)
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(sleeper.Process.Pid)), 0644))

	out, err := executeRoot(t, "--config", path, "stop", "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "Daemon stopped successfully")

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	_, statErr := os.Stat(pidFile)
	assert.True(t, os.IsNotExist(statErr))
}

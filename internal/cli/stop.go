package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/harun/scribe/internal/daemon"
	"github.com/spf13/cobra"
)

const stopPollInterval = 100 * time.Millisecond

func newStopCmd(opts *globalOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the Scribe daemon service",
		Long: `Stop the Scribe daemon service gracefully.
Sends SIGTERM and waits for the daemon to exit. A daemon still running after
--timeout is killed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pidFile, err := opts.pidFile()
			if err != nil {
				return err
			}

			pid, err := signalDaemon(pidFile, syscall.SIGTERM)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if waitForExit(pidFile, timeout) {
				_ = os.Remove(pidFile)
				fmt.Fprintln(out, "Daemon stopped successfully")
				return nil
			}

			fmt.Fprintf(out, "Daemon (PID %d) still running after %s, sending SIGKILL\n", pid, timeout)
			if _, err := signalDaemon(pidFile, syscall.SIGKILL); err != nil {
				return err
			}
			_ = os.Remove(pidFile)
			fmt.Fprintln(out, "Daemon killed")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the daemon to exit")
	return cmd
}

// signalDaemon sends sig to the process recorded in pidFile.
func signalDaemon(pidFile string, sig syscall.Signal) (int, error) {
	if !daemon.ProcessRunning(pidFile) {
		return 0, fmt.Errorf("daemon is not running (PID file: %s)", pidFile)
	}

	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return 0, fmt.Errorf("failed to send %s to %d: %w", sig, pid, err)
	}
	return pid, nil
}

// waitForExit polls until the daemon is gone or timeout passes.
func waitForExit(pidFile string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !daemon.ProcessRunning(pidFile) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(stopPollInterval)
	}
}

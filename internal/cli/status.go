package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/harun/scribe/internal/config"
	"github.com/harun/scribe/internal/daemon"
	"github.com/spf13/cobra"
)

const healthTimeout = 2 * time.Second

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show whether the Scribe daemon is running, its PID and uptime, and
whether its gateway answers health checks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return printStatus(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

func printStatus(ctx context.Context, out io.Writer, cfg *config.Config) error {
	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if !daemon.ProcessRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)

	// The PID file is written once at start, so its mtime is the start time.
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", time.Since(info.ModTime()).Round(time.Second))
	}

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	if err := checkHealth(ctx, "http://"+addr+"/healthz"); err != nil {
		fmt.Fprintf(out, "Gateway: %s unreachable (%v)\n", addr, err)
	} else {
		fmt.Fprintf(out, "Gateway: %s healthy\n", addr)
	}
	return nil
}

func checkHealth(ctx context.Context, url string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

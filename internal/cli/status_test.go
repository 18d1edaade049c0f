package cli

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/harun/scribe/internal/config"
	"github.com/harun/scribe/internal/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig saves a valid config whose data dir is dir and returns its path.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Gateway.SharedSecret = "secret"

	path := filepath.Join(dir, "scribe.json")
	require.NoError(t, config.NewLoader(path).Save(cfg))
	return path
}

func TestStatusCommand_Stopped(t *testing.T) {
	path := writeConfig(t, t.TempDir())

	out, err := executeRoot(t, "--config", path, "status")
	require.NoError(t, err)
	assert.Equal(t, "Status: stopped\n", out)
}

func TestPrintStatus_Running(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	host, port, err := net.SplitHostPort(gateway.Listener.Addr().String())
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Gateway.Host = host
	cfg.Gateway.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	// This test process stands in for the daemon.
	require.NoError(t, os.WriteFile(daemon.PIDFilePath(dir), []byte(strconv.Itoa(os.Getpid())), 0644))

	var out bytes.Buffer
	require.NoError(t, printStatus(context.Background(), &out, cfg))

	assert.Contains(t, out.String(), "Status: running")
	assert.Contains(t, out.String(), "PID: "+strconv.Itoa(os.Getpid()))
	assert.Contains(t, out.String(), "Uptime: ")
	assert.Contains(t, out.String(), "Gateway: "+gateway.Listener.Addr().String()+" healthy")

	gateway.Close()
	out.Reset()
	require.NoError(t, printStatus(context.Background(), &out, cfg))
	assert.Contains(t, out.String(), "unreachable")
}

func TestCheckHealth(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	err := checkHealth(context.Background(), failing.URL+"/healthz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

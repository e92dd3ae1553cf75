package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paranoid-AF/kernlet"
	"github.com/Paranoid-AF/kernlet/kernel"
)

func testConfig(t *testing.T) *kernlet.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("KERNLET_CONFIG_DIR", dir)
	t.Setenv("KERNLET_PORT", "")
	t.Setenv("KERNLET_HOST", "")
	t.Setenv("KERNLET_PORT_FILE", "")
	t.Setenv("KERNLET_PACKAGES_FILE", "")

	cfg := kernlet.DefaultConfig()
	cfg.Bridge.Port = 0
	cfg.Bridge.PortFile = filepath.Join(dir, "socket.txt")
	cfg.Bridge.PackagesFile = filepath.Join(dir, "packages.txt")
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Completion.GoRoot = t.TempDir()
	cfg.Loop.FrameIntervalMS = 1
	return cfg
}

// startDaemon runs a daemon until the returned stop func or test cleanup.
func startDaemon(t *testing.T, cfg *kernlet.Config) (*daemon, func() error) {
	t.Helper()
	d, err := newDaemon(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-done:
			case <-time.After(10 * time.Second):
				runErr = errors.New("daemon did not stop")
			}
			d.close()
		})
		return runErr
	}
	t.Cleanup(func() { stop() })
	return d, stop
}

func TestDaemonServesKernelSession(t *testing.T) {
	cfg := testConfig(t)
	_, _ = startDaemon(t, cfg)

	client, err := kernel.Dial(cfg)
	require.NoError(t, err)
	s := kernel.NewSession(client)
	ctx := context.Background()

	res, err := s.Execute(ctx, "x := 1", false)
	require.NoError(t, err)
	assert.Empty(t, res.Stream)

	res, err = s.Execute(ctx, "x", false)
	require.NoError(t, err)
	assert.Equal(t, []kernel.Stream{{Name: "stdout", Text: "1\n"}}, res.Stream)

	res, err = s.Execute(ctx, "1/0", false)
	require.NoError(t, err)
	require.Len(t, res.Stream, 1)
	assert.Contains(t, res.Stream[0].Text, "ZeroDivisionError")

	comp, err := s.Complete(ctx, "pri", 3)
	require.NoError(t, err)
	assert.Contains(t, comp.Matches, "print")
	assert.Equal(t, 0, comp.CursorStart)

	insp, err := s.Inspect(ctx, "x + 1", 0)
	require.NoError(t, err)
	assert.True(t, insp.Found)
	assert.Contains(t, insp.Data["text/plain"], "x := 1")
}

func TestDaemonHostExports(t *testing.T) {
	cfg := testConfig(t)
	_, _ = startDaemon(t, cfg)

	client, err := kernel.Dial(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	reply, err := client.Execute(ctx, "start := host.Frame()")
	require.NoError(t, err)
	require.True(t, reply.OK(), "%+v", reply)

	reply, err = client.Execute(ctx, "host.After(3)")
	require.NoError(t, err)
	require.True(t, reply.OK(), "%+v", reply)

	reply, err = client.Execute(ctx, "host.Frame() >= start+3")
	require.NoError(t, err)
	assert.Equal(t, "true\n", reply.Output)

	reply, err = client.Execute(ctx, "%history 2")
	require.NoError(t, err)
	assert.Contains(t, reply.Output, "host.After(3)")
}

func TestDaemonShutdownRemovesPortFile(t *testing.T) {
	cfg := testConfig(t)
	d, stop := startDaemon(t, cfg)

	port, err := kernel.ReadPortFile(cfg.Bridge.PortFile)
	require.NoError(t, err)
	assert.Equal(t, d.bridge.Port(), port)

	require.NoError(t, stop())

	_, err = os.Stat(cfg.Bridge.PortFile)
	assert.True(t, os.IsNotExist(err), "port file left behind")
	_, err = net.Dial("tcp", d.bridge.Addr().String())
	assert.Error(t, err)
}

func TestDaemonMetrics(t *testing.T) {
	cfg := testConfig(t)
	d, _ := startDaemon(t, cfg)

	client, err := kernel.Dial(cfg)
	require.NoError(t, err)
	_, err = client.Execute(context.Background(), "y := 2")
	require.NoError(t, err)

	ts := httptest.NewServer(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	defer ts.Close()
	scrape := func() string {
		resp, err := http.Get(ts.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	const served = `kernlet_requests_total{kind="execute",status="ok"} 1`
	require.Eventually(t, func() bool {
		return strings.Contains(scrape(), served)
	}, 5*time.Second, 20*time.Millisecond)

	text := scrape()
	assert.Contains(t, text, "kernlet_loop_frames_total")
	assert.Contains(t, text, "kernlet_connections_active")
}

func TestDaemonMergesPackagesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Completion.SearchPaths = []string{"/srv/a"}
	require.NoError(t, os.WriteFile(cfg.Bridge.PackagesFile, []byte("/srv/b\n/srv/a\n"), 0o600))
	_, _ = startDaemon(t, cfg)

	paths, err := kernel.ReadPackagesFile(cfg.Bridge.PackagesFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/a", "/srv/b"}, paths)
}

func TestNormalize(t *testing.T) {
	cfg := kernlet.DefaultConfig()
	cfg.Bridge.Mode = "threads"
	cfg.Bridge.Framing = "lines"
	normalize(cfg)
	assert.Equal(t, kernlet.ModeLoop, cfg.Bridge.Mode)
	assert.Equal(t, kernlet.FramingLength, cfg.Bridge.Framing)

	cfg.Bridge.Mode = kernlet.ModeWorker
	cfg.Bridge.Framing = kernlet.FramingRaw
	normalize(cfg)
	assert.Equal(t, kernlet.ModeWorker, cfg.Bridge.Mode)
	assert.Equal(t, kernlet.FramingRaw, cfg.Bridge.Framing)
}

func TestHostExportNames(t *testing.T) {
	names := make([]string, 0)
	for name := range hostExports(nil, time.Now()) {
		names = append(names, name)
	}
	assert.ElementsMatch(t, []string{"Frame", "After", "OnFrame", "Pending", "Uptime", "Version"}, names)
	assert.True(t, strings.HasPrefix(hostExports(nil, time.Now())["Version"].(func() string)(), Version))
}

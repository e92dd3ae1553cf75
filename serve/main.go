// Command kernletd is the kernlet host daemon.
// It owns a live interpreter and serves execute, completion and introspection
// requests from notebook kernels on a loopback TCP port.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Paranoid-AF/kernlet"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "log every request and response")
	configPath := flag.String("config", kernlet.ConfigPath(), "path to config.toml")
	port := flag.Int("port", -1, "bridge port (0 picks a free port; overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Println("kernletd", Version)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := kernlet.LoadConfigFile(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	for _, w := range kernlet.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}
	if *port >= 0 {
		cfg.Bridge.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg)
	if err != nil {
		slog.Error("failed to start bridge", "error", err)
		os.Exit(1)
	}
	defer d.close()

	slog.Info("ready", "addr", d.bridge.Addr().String(), "mode", cfg.Bridge.Mode, "port_file", kernlet.ResolvePortFile(cfg))
	if err := d.run(ctx); err != nil {
		slog.Error("server error", "error", err)
		d.close()
		os.Exit(1)
	}
	slog.Info("shutting down")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Paranoid-AF/kernlet"
	"github.com/Paranoid-AF/kernlet/bridge"
	"github.com/Paranoid-AF/kernlet/complete"
	"github.com/Paranoid-AF/kernlet/evaluate"
	"github.com/Paranoid-AF/kernlet/history"
	"github.com/Paranoid-AF/kernlet/kernel"
	"github.com/Paranoid-AF/kernlet/loop"
	"github.com/Paranoid-AF/kernlet/scope"
)

// daemon wires the host loop, the shared scope and the bridge together.
type daemon struct {
	cfg      *kernlet.Config
	loop     *loop.Loop
	scope    *scope.Scope
	eval     *evaluate.Evaluator
	engine   *complete.Engine
	history  *history.Store
	bridge   *bridge.Server
	registry *prometheus.Registry
	metrics  *http.Server

	closeOnce sync.Once
}

func newDaemon(cfg *kernlet.Config) (*daemon, error) {
	normalize(cfg)
	d := &daemon{cfg: cfg}
	d.loop = loop.New(loop.WithFrameInterval(kernlet.FrameInterval(cfg)))

	searchPaths := append([]string(nil), cfg.Completion.SearchPaths...)
	if extra, err := kernel.ReadPackagesFile(kernlet.ResolvePackagesFile(cfg)); err == nil {
		searchPaths = mergePaths(searchPaths, extra)
	}
	var goPath string
	if len(searchPaths) > 0 {
		goPath = searchPaths[0]
	}

	s, err := scope.New(scope.Options{
		GoPath:  goPath,
		Exports: hostExports(d.loop, time.Now()),
		Preload: []string{"fmt"},
		Stdout:  os.Stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("create scope: %w", err)
	}
	d.scope = s

	opts := []evaluate.Option{evaluate.WithLoop(d.loop)}
	if path := kernlet.ResolveHistoryPath(cfg); path != "" {
		store, err := history.Open(path)
		if err != nil {
			slog.Warn("history disabled", "path", path, "error", err)
		} else {
			d.history = store
			opts = append(opts, evaluate.WithHistory(store))
			slog.Debug("history enabled", "path", path, "session", store.Session())
		}
	}
	d.eval = evaluate.New(s, opts...)

	d.engine = complete.New(s, complete.Options{
		GoRoot:      kernlet.ResolveGoRoot(cfg),
		SearchPaths: searchPaths,
		CacheTTL:    kernlet.CacheTTL(cfg),
		MaxMatches:  cfg.Completion.MaxMatches,
		Fuzzy:       kernlet.FuzzyEnabled(cfg),
	})

	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "kernlet_loop_pending_tasks",
			Help: "Tasks queued on the host loop.",
		}, func() float64 { return float64(d.loop.Pending()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "kernlet_loop_frames_total",
			Help: "Frames ticked by the host loop.",
		}, func() float64 { return float64(d.loop.Frame()) }),
	)

	bcfg := bridge.ConfigFrom(cfg)
	bcfg.SearchPaths = searchPaths
	srv, err := bridge.New(bcfg, bridge.NewDispatcher(d.loop, d.eval, d.engine), bridge.WithRegistry(d.registry))
	if err != nil {
		d.close()
		return nil, err
	}
	d.bridge = srv

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
		d.metrics = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return d, nil
}

// run serves until ctx is done or a component fails.
func (d *daemon) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return d.bridge.Serve(ctx)
	})
	if d.metrics != nil {
		g.Go(func() error {
			slog.Info("metrics listening", "addr", d.metrics.Addr)
			if err := d.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return d.metrics.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// close releases everything newDaemon acquired. It is safe to call twice.
func (d *daemon) close() {
	d.closeOnce.Do(func() {
		if d.bridge != nil {
			d.bridge.Close()
		}
		if d.engine != nil {
			d.engine.Close()
		}
		if d.history != nil {
			if err := d.history.Close(); err != nil {
				slog.Warn("failed to close history", "error", err)
			}
		}
	})
}

// normalize replaces unknown modes and framings with the defaults that
// ValidateConfig announced.
func normalize(cfg *kernlet.Config) {
	switch cfg.Bridge.Mode {
	case kernlet.ModeLoop, kernlet.ModeWorker:
	default:
		cfg.Bridge.Mode = kernlet.ModeLoop
	}
	switch cfg.Bridge.Framing {
	case kernlet.FramingLength, kernlet.FramingRaw:
	default:
		cfg.Bridge.Framing = kernlet.FramingLength
	}
}

func mergePaths(paths, extra []string) []string {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		seen[p] = true
	}
	for _, p := range extra {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	return paths
}

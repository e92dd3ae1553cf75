// Package bridge accepts kernel connections on a loopback TCP port and hands
// each decoded request to a Handler. Every connection carries exactly one
// request and one reply.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Paranoid-AF/kernlet"
	"github.com/Paranoid-AF/kernlet/router"
	"github.com/Paranoid-AF/kernlet/wire"
)

const readChunk = 4096

// Config describes where and how the bridge listens.
type Config struct {
	Host          string
	Port          int
	Mode          string
	Framing       string
	MaxFrameBytes uint32
	PortFile      string
	PackagesFile  string
	SearchPaths   []string
}

// ConfigFrom builds a bridge Config from the kernlet configuration.
func ConfigFrom(cfg *kernlet.Config) Config {
	return Config{
		Host:          kernlet.ResolveHost(cfg),
		Port:          kernlet.ResolvePort(cfg),
		Mode:          cfg.Bridge.Mode,
		Framing:       cfg.Bridge.Framing,
		MaxFrameBytes: cfg.Bridge.MaxFrameBytes,
		PortFile:      kernlet.ResolvePortFile(cfg),
		PackagesFile:  kernlet.ResolvePackagesFile(cfg),
		SearchPaths:   cfg.Completion.SearchPaths,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry registers the server's metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// Server is the bridge listener.
type Server struct {
	cfg      Config
	handler  Handler
	framing  wire.Framing
	listener net.Listener
	registry *prometheus.Registry
	metrics  *metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]string
	wg    sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New binds the listener and registers the port. A stale port file is
// removed before binding; on bind failure no port file is written.
func New(cfg Config, h Handler, opts ...Option) (*Server, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = kernlet.ModeLoop
	case kernlet.ModeLoop, kernlet.ModeWorker:
	default:
		return nil, fmt.Errorf("unknown bridge mode %q", cfg.Mode)
	}
	framing, err := wire.ForName(cfg.Framing, cfg.MaxFrameBytes)
	if err != nil {
		return nil, err
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	if cfg.PortFile != "" {
		if err := os.Remove(cfg.PortFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale port file: %w", err)
		}
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		handler:  h,
		framing:  framing,
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = newMetrics(s.registry)

	if err := s.register(); err != nil {
		cancel()
		listener.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) register() error {
	if s.cfg.PortFile != "" {
		if err := writeFile(s.cfg.PortFile, strconv.Itoa(s.Port())+"\n"); err != nil {
			return fmt.Errorf("write port file: %w", err)
		}
	}
	if s.cfg.PackagesFile != "" {
		var b strings.Builder
		for _, p := range s.cfg.SearchPaths {
			b.WriteString(p)
			b.WriteByte('\n')
		}
		if err := writeFile(s.cfg.PackagesFile, b.String()); err != nil {
			return fmt.Errorf("write packages file: %w", err)
		}
	}
	return nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Registry returns the registry holding the bridge metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Serve accepts connections until ctx is done or Close is called. It returns
// nil after an orderly shutdown.
func (s *Server) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		if s.cfg.Mode == kernlet.ModeWorker {
			s.handleConn(conn)
			continue
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting, closes open connections, waits for their
// goroutines and removes the port and packages files. It is idempotent.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.listener.Close()
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		for _, path := range []string{s.cfg.PortFile, s.cfg.PackagesFile} {
			if path == "" {
				continue
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				slog.Warn("cannot remove bridge file", "path", path, "error", err)
			}
		}
		slog.Debug("bridge closed", "port", s.Port())
	})
	if errors.Is(s.closeErr, net.ErrClosed) {
		return nil
	}
	return s.closeErr
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = uuid.NewString()
	s.wg.Add(1)
	s.metrics.connections.Inc()
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.metrics.connections.Dec()
	s.wg.Done()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	s.mu.Lock()
	id := s.conns[conn]
	s.mu.Unlock()
	log := slog.With("conn", id)

	raw, err := s.readRequest(conn)
	if err != nil {
		s.fault(log, faultReason(err), err)
		return
	}
	log.Debug("request", "data", string(raw))

	req, err := router.Classify(string(raw))
	if err != nil {
		s.fault(log, faultMalformed, err)
		return
	}

	start := time.Now()
	kind := req.Kind().String()
	reply, status, err := s.dispatch(s.ctx, req)
	if err != nil {
		s.metrics.requests.WithLabelValues(kind, "failed").Inc()
		log.Warn("request not served", "kind", kind, "error", err)
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		log.Error("failed to marshal response", "error", err)
		return
	}
	log.Debug("response", "data", string(data))

	if err := s.framing.WriteMessage(conn, data); err != nil {
		s.fault(log, faultWrite, err)
		return
	}
	s.metrics.requests.WithLabelValues(kind, status).Inc()
	s.metrics.duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (s *Server) dispatch(ctx context.Context, req router.Request) (any, string, error) {
	switch r := req.(type) {
	case router.Execute:
		reply, err := s.handler.Execute(ctx, r.Code)
		if err != nil {
			return nil, "", err
		}
		return reply, string(reply.Status), nil
	case router.Complete:
		reply, err := s.handler.Complete(ctx, r.Code, r.Cursor)
		if err != nil {
			return nil, "", err
		}
		if reply.Matches == nil {
			reply.Matches = []string{}
		}
		return reply, string(kernlet.StatusOK), nil
	case router.Introspect:
		reply, err := s.handler.Introspect(ctx, r.Code, r.Line, r.Column)
		if err != nil {
			return nil, "", err
		}
		return reply, string(kernlet.StatusOK), nil
	}
	return nil, "", fmt.Errorf("unhandled request kind %v", req.Kind())
}

// readRequest reads one message. In loop mode length-prefixed frames are
// assembled incrementally as bytes arrive.
func (s *Server) readRequest(conn net.Conn) ([]byte, error) {
	if _, ok := s.framing.(wire.LengthPrefixed); !ok || s.cfg.Mode == kernlet.ModeWorker {
		return s.framing.ReadMessage(conn)
	}

	buf := wire.NewBuffer(s.cfg.MaxFrameBytes)
	chunk := make([]byte, readChunk)
	for {
		msg, err := buf.Next()
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, wire.ErrNeedMoreData) {
			return nil, err
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Feed(chunk[:n])
			continue
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil, wire.ErrClosed
		}
		return nil, fmt.Errorf("read: %w", err)
	}
}

func (s *Server) fault(log *slog.Logger, reason string, err error) {
	s.metrics.faults.WithLabelValues(reason).Inc()
	if s.ctx.Err() != nil {
		log.Debug("connection closed during shutdown", "error", err)
		return
	}
	log.Warn("protocol fault, closing connection", "reason", reason, "error", err)
}

func faultReason(err error) string {
	switch {
	case errors.Is(err, wire.ErrClosed):
		return faultDisconnect
	case errors.Is(err, wire.ErrFrameTooLarge):
		return faultTooLarge
	}
	return faultRead
}

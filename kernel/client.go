// Package kernel is the notebook side of the bridge: it finds a running
// host through its port file and sends one request per connection.
package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Paranoid-AF/kernlet"
	"github.com/Paranoid-AF/kernlet/router"
	"github.com/Paranoid-AF/kernlet/wire"
)

const defaultTimeout = 5 * time.Minute

// ReadPortFile returns the port registered by a running bridge.
func ReadPortFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse port file %s: %w", path, err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port file %s: port %d out of range", path, port)
	}
	return port, nil
}

// ReadPackagesFile returns the non-empty lines of the packages file.
func ReadPackagesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var paths []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		p := strings.TrimSpace(scanner.Text())
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	return paths, scanner.Err()
}

// Client sends requests to a bridge.
type Client struct {
	addr    string
	framing wire.Framing
	timeout time.Duration
	dialer  net.Dialer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithFraming selects the wire framing; the default is length-prefixed.
func WithFraming(f wire.Framing) ClientOption {
	return func(c *Client) { c.framing = f }
}

// WithTimeout bounds each request when the context has no deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// NewClient returns a client for the bridge at addr.
func NewClient(addr string, opts ...ClientOption) *Client {
	c := &Client{addr: addr, framing: wire.LengthPrefixed{}, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial returns a client for the bridge registered in the configured port file.
func Dial(cfg *kernlet.Config, opts ...ClientOption) (*Client, error) {
	port, err := ReadPortFile(kernlet.ResolvePortFile(cfg))
	if err != nil {
		return nil, fmt.Errorf("bridge not running: %w", err)
	}
	framing, err := wire.ForName(cfg.Bridge.Framing, cfg.Bridge.MaxFrameBytes)
	if err != nil {
		return nil, err
	}
	host := kernlet.ResolveHost(cfg)
	return NewClient(net.JoinHostPort(host, strconv.Itoa(port)), append([]ClientOption{WithFraming(framing)}, opts...)...), nil
}

// Addr returns the bridge address.
func (c *Client) Addr() string {
	return c.addr
}

// Execute runs code in the host.
func (c *Client) Execute(ctx context.Context, code string) (*kernlet.ExecuteReply, error) {
	var reply kernlet.ExecuteReply
	if err := c.roundTrip(ctx, router.Format(router.Execute{Code: code}), &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Complete asks for completions of code up to cursor.
func (c *Client) Complete(ctx context.Context, code string, cursor int) (kernlet.CompleteReply, error) {
	var reply kernlet.CompleteReply
	err := c.roundTrip(ctx, router.Format(router.Complete{Code: code, Cursor: cursor}), &reply)
	return reply, err
}

// Introspect asks for documentation at line (1-based) and column (0-based).
func (c *Client) Introspect(ctx context.Context, code string, line, column int) (kernlet.IntrospectReply, error) {
	var reply kernlet.IntrospectReply
	err := c.roundTrip(ctx, router.Format(router.Introspect{Code: code, Line: line, Column: column}), &reply)
	return reply, err
}

func (c *Client) roundTrip(ctx context.Context, msg string, v any) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := c.framing.WriteMessage(conn, []byte(msg)); err != nil {
		return err
	}

	var data []byte
	if _, raw := c.framing.(wire.Unframed); raw {
		data, err = io.ReadAll(conn)
		if err == nil && len(data) == 0 {
			err = wire.ErrClosed
		}
	} else {
		data, err = c.framing.ReadMessage(conn)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// Command kernlet is the console client for a running kernletd.
// It reads the bridge port from the port file and sends cells, completion
// and introspection requests the same way a notebook kernel does.
//
// Usage:
//
//	kernlet repl                   # interactive, Tab completes, trailing ? inspects
//	kernlet exec -c 'x := 1'       # run one cell
//	kernlet exec cell.go           # run a file (or - for stdin)
//	kernlet complete 'fmt.Pri'     # list completions
//	kernlet inspect 'fmt.Println'  # show documentation
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paranoid-AF/kernlet"
	"github.com/Paranoid-AF/kernlet/kernel"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const (
	prompt         = ">>> "
	continuePrompt = "... "
)

// errSilent marks failures that were already reported to the user.
var errSilent = errors.New("silent")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

type options struct {
	configPath string
	addr       string
	timeout    time.Duration
	verbose    bool
}

func (o *options) client() (*kernel.Client, error) {
	if o.addr != "" {
		return kernel.NewClient(o.addr, kernel.WithTimeout(o.timeout)), nil
	}
	cfg, err := kernlet.LoadConfigFile(o.configPath)
	if err != nil {
		return nil, err
	}
	return kernel.Dial(cfg, kernel.WithTimeout(o.timeout))
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "kernlet",
		Short:         "Talk to a running kernlet host",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", kernlet.ConfigPath(), "path to config.toml")
	root.PersistentFlags().StringVar(&opts.addr, "addr", "", "bridge host:port (skips the port file)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "per-request timeout")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newReplCmd(opts),
		newExecCmd(opts),
		newCompleteCmd(opts),
		newInspectCmd(opts),
	)
	return root
}

func newExecCmd(opts *options) *cobra.Command {
	var (
		code   string
		asTOML bool
	)
	cmd := &cobra.Command{
		Use:   "exec [file]",
		Short: "Execute a cell from -c, a file, or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("code") {
				src, err := readSource(cmd.InOrStdin(), args)
				if err != nil {
					return err
				}
				code = src
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			reply, err := c.Execute(cmd.Context(), code)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asTOML {
				writeExecute(out, code, reply)
			} else {
				renderExecute(out, reply, isTerminalWriter(out))
			}
			if !reply.OK() {
				return errSilent
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&code, "code", "c", "", "cell source")
	cmd.Flags().BoolVar(&asTOML, "toml", false, "print the reply as TOML")
	return cmd
}

func readSource(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(args[0])
	return string(data), err
}

func newCompleteCmd(opts *options) *cobra.Command {
	var (
		cursor int
		asTOML bool
	)
	cmd := &cobra.Command{
		Use:   "complete CODE",
		Short: "List completions at the cursor (default: end of CODE)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			if !cmd.Flags().Changed("cursor") {
				cursor = len(code)
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			reply, err := c.Complete(cmd.Context(), code, cursor)
			if err != nil {
				return err
			}
			if asTOML {
				writeComplete(cmd.OutOrStdout(), code, cursor, reply)
				return nil
			}
			for _, m := range reply.Matches {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&cursor, "cursor", 0, "byte offset of the cursor")
	cmd.Flags().BoolVar(&asTOML, "toml", false, "print the reply as TOML")
	return cmd
}

func newInspectCmd(opts *options) *cobra.Command {
	var (
		cursor int
		asTOML bool
	)
	cmd := &cobra.Command{
		Use:   "inspect CODE",
		Short: "Show documentation for the identifier at the cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			if !cmd.Flags().Changed("cursor") {
				cursor = len(code)
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			line, column := kernel.LineColumn(code, cursor)
			reply, err := c.Introspect(cmd.Context(), code, line, column)
			if err != nil {
				return err
			}
			if asTOML {
				writeInspect(cmd.OutOrStdout(), code, line, column, reply)
				return nil
			}
			if !reply.Found {
				fmt.Fprintln(cmd.ErrOrStderr(), "no documentation found")
				return errSilent
			}
			io.WriteString(cmd.OutOrStdout(), reply.Data)
			return nil
		},
	}
	cmd.Flags().IntVar(&cursor, "cursor", 0, "byte offset of the cursor")
	cmd.Flags().BoolVar(&asTOML, "toml", false, "print the reply as TOML")
	return cmd
}

func newReplCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			return runRepl(cmd.Context(), c)
		},
	}
}

func runRepl(ctx context.Context, c *kernel.Client) error {
	complete := func(text string, cursor int) ([]string, int) {
		reply, err := c.Complete(ctx, text, cursor)
		if err != nil {
			slog.Debug("completion failed", "error", err)
			return nil, 0
		}
		return reply.Matches, reply.Delta
	}
	editor, err := NewEditor(complete)
	if err != nil {
		return err
	}
	defer editor.Close()

	tty := &crlfWriter{w: editor.Tty()}
	fmt.Fprintf(tty, "kernlet %s connected to %s\n", Version, c.Addr())
	fmt.Fprintf(tty, "Tab completes, a trailing ? shows docs, :quit exits\n\n")

	// TOML log goes to stdout only when it is redirected.
	var log io.Writer
	if !isTerminal(os.Stdout) {
		log = os.Stdout
	}

	r := &repl{editor: editor, tty: tty, log: log, client: c}
	return r.loop(ctx)
}

type repl struct {
	editor *Editor
	tty    io.Writer
	log    io.Writer
	client *kernel.Client
}

func (r *repl) loop(ctx context.Context) error {
	for {
		cell, err := r.readCell()
		if err == io.EOF || err == ErrInterrupt {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		trimmed := strings.TrimSpace(cell)
		switch {
		case trimmed == "":
			continue
		case trimmed == ":quit" || trimmed == ":q":
			return nil
		case strings.HasSuffix(trimmed, "?") && !strings.Contains(trimmed, "\n"):
			r.inspect(ctx, strings.TrimSuffix(trimmed, "?"))
		default:
			r.execute(ctx, cell)
		}
	}
}

// readCell reads lines until braces and parentheses balance.
func (r *repl) readCell() (string, error) {
	var lines []string
	p := prompt
	for {
		text, _, err := r.editor.ReadLine(p)
		if err != nil {
			return "", err
		}
		lines = append(lines, text)
		cell := strings.Join(lines, "\n")
		if depth(cell) <= 0 {
			return cell, nil
		}
		p = continuePrompt
	}
}

// depth counts unclosed brackets outside string and rune literals.
func depth(code string) int {
	n := 0
	var quote rune
	escaped := false
	for _, r := range code {
		switch {
		case escaped:
			escaped = false
		case quote != 0:
			if r == '\\' && quote != '`' {
				escaped = true
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'' || r == '`':
			quote = r
		case r == '{' || r == '(' || r == '[':
			n++
		case r == '}' || r == ')' || r == ']':
			n--
		}
	}
	return n
}

func (r *repl) execute(ctx context.Context, code string) {
	reply, err := r.client.Execute(ctx, code)
	if err != nil {
		fmt.Fprintf(r.tty, "\x1b[0;31mbridge error: %v\x1b[0m\n", err)
		return
	}
	renderExecute(r.tty, reply, true)
	if r.log != nil {
		writeExecute(r.log, code, reply)
	}
}

func (r *repl) inspect(ctx context.Context, code string) {
	line, column := kernel.LineColumn(code, len(code))
	reply, err := r.client.Introspect(ctx, code, line, column)
	if err != nil {
		fmt.Fprintf(r.tty, "\x1b[0;31mbridge error: %v\x1b[0m\n", err)
		return
	}
	if !reply.Found {
		fmt.Fprintf(r.tty, "(no documentation)\n")
	} else {
		io.WriteString(r.tty, reply.Data)
	}
	if r.log != nil {
		writeInspect(r.log, code, line, column, reply)
	}
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isTerminal(f)
}

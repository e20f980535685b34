package main

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/httptask/engine"
	"github.com/adamwoolhether/httptask/progress"
	"github.com/adamwoolhether/httptask/storage"
	"github.com/adamwoolhether/httptask/task"
)

// globalFlags configure the engine and the per-task transfer settings for
// every subcommand.
type globalFlags struct {
	connectTimeout time.Duration
	lowSpeedLimit  int64
	lowSpeedTime   time.Duration
	ipv4           bool
	ipv6           bool
	verbose        bool
	debug          bool
	rps            int
	burst          int
	saveDir        string
}

type fetchFlags struct {
	output   string
	method   string
	headers  []string
	data     string
	sha256   string
	progress bool
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	var f fetchFlags

	defaults := task.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "httptask [flags] URL",
		Short:         "Fetch a URL into memory or a file",
		Version:       engine.Version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, &g, &f, args[0])
		},
	}

	pf := cmd.PersistentFlags()
	pf.DurationVar(&g.connectTimeout, "connect-timeout", defaults.ConnectTimeout, "maximum time to establish a connection")
	pf.Int64Var(&g.lowSpeedLimit, "low-speed-limit", defaults.LowSpeedLimit, "abort transfers slower than this many bytes per second")
	pf.DurationVar(&g.lowSpeedTime, "low-speed-time", defaults.LowSpeedTime, "how long a transfer may stay below --low-speed-limit")
	pf.BoolVarP(&g.ipv4, "ipv4", "4", false, "resolve names to IPv4 addresses only")
	pf.BoolVarP(&g.ipv6, "ipv6", "6", false, "resolve names to IPv6 addresses only")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log every request, not just failures")
	pf.BoolVar(&g.debug, "debug", false, "log dns, connect and tls events")
	pf.IntVar(&g.rps, "rps", 0, "throttle to this many requests per second (0 disables)")
	pf.IntVar(&g.burst, "burst", 1, "throttle burst size")
	pf.StringVar(&g.saveDir, "save-dir", ".", "root directory for relative output paths")
	cmd.MarkFlagsMutuallyExclusive("ipv4", "ipv6")

	fl := cmd.Flags()
	fl.StringVarP(&f.output, "output", "o", "", "write the body to this file instead of stdout")
	fl.StringVarP(&f.method, "request", "X", "get", "method: get, head, post or post-json")
	fl.StringArrayVarP(&f.headers, "header", "H", nil, `extra header line, e.g. "Accept: */*" ("Name:" removes, "Name;" sends empty)`)
	fl.StringVarP(&f.data, "data", "d", "", "request body for post methods, @file reads it from a file")
	fl.StringVar(&f.sha256, "sha256", "", "fail unless the body has this hex sha256 digest")
	fl.BoolVar(&f.progress, "progress", false, "show transfer progress on stderr")

	cmd.AddCommand(newBatchCmd(&g))

	return cmd
}

func (g *globalFlags) config() task.Config {
	cfg := task.Config{
		ConnectTimeout: g.connectTimeout,
		LowSpeedLimit:  g.lowSpeedLimit,
		LowSpeedTime:   g.lowSpeedTime,
		IPResolve:      engine.IPResolveAny,
		LogLevel:       task.LogFailures,
	}

	switch {
	case g.ipv4:
		cfg.IPResolve = engine.IPResolveV4
	case g.ipv6:
		cfg.IPResolve = engine.IPResolveV6
	}
	if g.verbose {
		cfg.LogLevel = task.LogAll
	}

	return cfg
}

func (g *globalFlags) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case g.debug:
		level = slog.LevelDebug
	case g.verbose:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (g *globalFlags) engine(logger *slog.Logger) (*engine.Shared, error) {
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithDebug(g.debug),
	}
	if g.rps > 0 {
		opts = append(opts, engine.WithThrottle(g.rps, g.burst))
	}

	return engine.New(opts...)
}

func (g *globalFlags) storage() (*storage.Dirs, error) {
	return storage.New(g.saveDir)
}

// outputClass picks the storage class for a destination given on the
// command line.
func outputClass(dest string) storage.Class {
	if filepath.IsAbs(dest) {
		return storage.ClassAbsolute
	}
	return storage.ClassSave
}

func runFetch(cmd *cobra.Command, g *globalFlags, f *fetchFlags, url string) error {
	stderr := cmd.ErrOrStderr()

	shared, err := g.engine(g.logger(stderr))
	if err != nil {
		return err
	}
	defer shared.Close()

	var method task.Method
	if err := method.UnmarshalText([]byte(f.method)); err != nil {
		return err
	}

	var opts []task.Option
	if f.progress {
		var last time.Time
		opts = append(opts, task.OnProgress(func(s progress.Snapshot) {
			if time.Since(last) < 100*time.Millisecond && s.Downloaded != s.Total {
				return
			}
			last = time.Now()
			fmt.Fprint(stderr, progressLine(s))
		}))
	}

	if f.sha256 != "" {
		opts = append(opts, task.WithChecksum(sha256.New(), f.sha256))
	}

	t, err := task.New(shared, url, method, g.config(), opts...)
	if err != nil {
		return err
	}

	if f.data != "" {
		body := []byte(f.data)
		if name, ok := strings.CutPrefix(f.data, "@"); ok {
			if body, err = os.ReadFile(name); err != nil {
				return fmt.Errorf("reading body: %w", err)
			}
		}
		if err := t.SetBody(body); err != nil {
			return err
		}
	}

	for _, h := range f.headers {
		if err := t.AddHeader(h); err != nil {
			return err
		}
	}

	if f.output != "" {
		dirs, err := g.storage()
		if err != nil {
			return err
		}
		if err := t.WriteToFile(dirs, f.output, outputClass(f.output)); err != nil {
			return err
		}
	}

	state := t.Run(cmd.Context())
	if f.progress {
		fmt.Fprintln(stderr)
	}

	if state != task.StateDone {
		printResult(stderr, t)
		return t.Err()
	}

	if f.output != "" {
		printResult(stderr, t)
		return nil
	}

	_, err = cmd.OutOrStdout().Write(t.Result())
	return err
}

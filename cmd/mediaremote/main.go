package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/skobkin/mediaremote/internal/app"
	"github.com/skobkin/mediaremote/internal/config"
	"github.com/skobkin/mediaremote/internal/logging"
	"github.com/skobkin/mediaremote/internal/notifications"
)

var errUsage = errors.New("usage")

// command is one CLI sub-command. Commands with notify set get desktop
// notifications when they are enabled in the config.
type command struct {
	summary string
	notify  bool
	run     func(e *env, args []string) error
}

var commands = map[string]command{
	"probe":   {summary: "probe one address and record it when compatible", run: runProbe},
	"scan":    {summary: "scan an IPv4 /24 range for IINA servers", run: runScan},
	"browse":  {summary: "discover servers announced over mDNS", notify: true, run: runBrowse},
	"servers": {summary: "list, test, remove or clear known servers", run: runServers},
	"connect": {summary: "connect and control playback interactively", notify: true, run: runConnect},
}

// env is what a command sees of the process.
type env struct {
	ctx    context.Context
	rt     *app.Runtime
	cfg    config.AppConfig
	stdin  io.Reader
	stdout io.Writer
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("run mediaremote", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet(app.Name, flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "config file path (default: user config dir)")
	logLevel := global.String("log-level", "", "override logging.level (debug, info, warn, error)")
	global.Usage = func() { printUsage(stderr, global) }
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()

		return errUsage
	}
	name, cmdArgs := rest[0], rest[1:]
	if name == "version" {
		_, _ = fmt.Fprintf(stdout, "%s %s\n", app.Name, app.BuildVersionWithDate())

		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		global.Usage()

		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	paths, err := resolvePaths(*configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl := strings.TrimSpace(*logLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}

	logs := logging.NewManager(stderr)
	if err := logs.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logs.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logs.Logger("cli")
	logger.Debug("starting", "command", name, "version", app.BuildVersion(), "config", paths.ConfigFile)

	opts := app.RuntimeOptions{Logs: logs}
	if cmd.notify && cfg.Notifications.Enabled {
		opts.Sender = notifications.NewDesktopSender(app.Name, logs.Logger("notifications"))
	}
	rt, err := app.NewRuntime(ctx, paths, cfg, opts)
	if err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Warn("close runtime", "error", closeErr)
		}
	}()

	stopMetrics, err := serveMetrics(cfg.Metrics.ListenAddress, rt.Metrics.Handler(), logs.Logger("metrics"))
	if err != nil {
		return err
	}
	defer stopMetrics()

	return cmd.run(&env{
		ctx:    ctx,
		rt:     rt,
		cfg:    rt.CurrentConfig(),
		stdin:  stdin,
		stdout: stdout,
		logger: logger,
	}, cmdArgs)
}

func resolvePaths(configPath string) (app.Paths, error) {
	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		paths, err := app.ResolvePaths()
		if err != nil {
			return app.Paths{}, fmt.Errorf("resolve paths: %w", err)
		}

		return paths, nil
	}

	paths, err := app.PathsIn(filepath.Dir(configPath))
	if err != nil {
		return app.Paths{}, err
	}
	paths.ConfigFile = configPath

	return paths, nil
}

func printUsage(w io.Writer, global *flag.FlagSet) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	_, _ = fmt.Fprintf(w, "Usage: %s [flags] <command> [command flags]\n\nCommands:\n", app.Name)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
	_, _ = fmt.Fprintf(w, "  %-8s %s\n\nFlags:\n", "version", "print the version")
	global.PrintDefaults()
}

// newFlagSet builds a sub-command flag set that reports errors instead of exiting.
func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(app.Name+" "+name, flag.ContinueOnError)
	fs.SetOutput(out)

	return fs
}

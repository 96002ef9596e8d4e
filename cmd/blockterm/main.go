// blockterm runs shell commands as blocks: one process per command, with
// credential prompts answered from the OS keyring, directory-aware command
// prediction and background file transfers. It serves a line REPL by
// default and MCP on stdio with -mcp.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/acolita/blockterm/internal/adapters/realclock"
	"github.com/acolita/blockterm/internal/adapters/realdialog"
	"github.com/acolita/blockterm/internal/adapters/realfs"
	"github.com/acolita/blockterm/internal/adapters/realsshdialer"
	"github.com/acolita/blockterm/internal/config"
	"github.com/acolita/blockterm/internal/history"
	"github.com/acolita/blockterm/internal/logging"
	"github.com/acolita/blockterm/internal/mcp"
	"github.com/acolita/blockterm/internal/recording"
	"github.com/acolita/blockterm/internal/security"
	"github.com/acolita/blockterm/internal/session"
	"github.com/acolita/blockterm/internal/transfer"
)

// Version information - set at build time.
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		showVersion bool
		debug       bool
		serveMCP    bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (default: "+config.DefaultConfigPath()+")")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&serveMCP, "mcp", false, "Serve MCP tools on stdio instead of the REPL")
	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Printf("blockterm version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return 0
	}

	explicitConfig := configPath != ""
	if !explicitConfig {
		configPath = config.DefaultConfigPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)

	if args := flag.Args(); len(args) > 0 {
		if args[0] != "credential" {
			usage()
			return 2
		}
		store := security.NewKeyringStore(cfg.Security.KeyringService)
		if err := runCredential(context.Background(), args[1:], store, realdialog.New(false)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	slog.Info("starting blockterm",
		slog.String("version", Version),
		slog.Bool("mcp", serveMCP),
	)

	base, closeHistory, err := sessionOptions(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		if err := closeHistory(); err != nil {
			slog.Warn("close history failed", slog.String("error", err.Error()))
		}
	}()
	defer base.Recorder.CloseAll()

	sessions := session.NewManager(cfg, base)
	defer sessions.CloseAll()

	// Set up config hot-reload if the config file exists
	var configWatcher *config.Watcher
	if _, statErr := os.Stat(configPath); statErr == nil || explicitConfig {
		var watcherErr error
		configWatcher, watcherErr = config.NewWatcher(configPath, func(newCfg *config.Config) {
			if debug {
				newCfg.Logging.Level = "debug"
			}
			sessions.UpdateConfig(newCfg)
		})
		if watcherErr != nil {
			slog.Warn("config hot-reload disabled",
				slog.String("error", watcherErr.Error()),
			)
		} else {
			defer configWatcher.Close()
			slog.Info("config hot-reload enabled",
				slog.String("path", configPath),
			)
		}
	}

	// In the REPL, SIGINT interrupts the running block instead.
	stopSignals := []os.Signal{syscall.SIGTERM}
	if serveMCP {
		stopSignals = append(stopSignals, syscall.SIGINT)
	}
	ctx, stop := signal.NotifyContext(context.Background(), stopSignals...)
	defer stop()

	if serveMCP {
		server := mcp.NewServer(cfg,
			mcp.WithSessionManager(sessions),
			mcp.WithVersion(Version),
		)
		errCh := make(chan error, 1)
		go func() { errCh <- server.Run() }()
		select {
		case err := <-errCh:
			if err != nil {
				slog.Error("server error", slog.String("error", err.Error()))
				return 1
			}
		case <-ctx.Done():
			slog.Info("received shutdown signal")
		}
		return 0
	}

	sess, err := sessions.Create(session.CreateOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			if err := sess.Interrupt(); err != nil {
				slog.Debug("interrupt ignored", slog.String("error", err.Error()))
			}
		}
	}()

	r := newREPL(sess, os.Stdout, realdialog.New(false))
	if err := r.run(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// sessionOptions builds the dependencies every session shares. The returned
// function closes the history store.
func sessionOptions(cfg *config.Config) (session.Options, func() error, error) {
	clock := realclock.New()
	fs := realfs.New()

	hist, closeHistory, err := history.Open(cfg.History.Backend, cfg.HistoryPath(), cfg.History.Limit)
	if err != nil {
		return session.Options{}, nil, fmt.Errorf("open history: %w", err)
	}

	store := security.NewKeyringStore(cfg.Security.KeyringService)
	if !cfg.Security.UseKeyring {
		store.SetEnabled(false)
	}

	opts := session.Options{
		Config:   cfg,
		Clock:    clock,
		FS:       fs,
		Store:    store,
		Limiter:  security.NewAuthRateLimiter(clock, cfg.Security.MaxAuthFailures, cfg.Security.AuthLockoutDuration),
		History:  hist,
		Recorder: recording.NewManager(cfg.RecordingPath(), cfg.Recording.Enabled, fs, clock),
		Dialer: &transfer.SSHDialer{
			Store:      store,
			KnownHosts: cfg.Transfer.KnownHosts,
			UseAgent:   cfg.Transfer.UseAgent,
			Timeout:    cfg.Transfer.Timeout,
			Clock:      clock,
			Dialer:     realsshdialer.New(),
			FS:         fs,
		},
	}
	return opts, closeHistory, nil
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage:\n")
	fmt.Fprintf(out, "  blockterm [flags]                        interactive REPL\n")
	fmt.Fprintf(out, "  blockterm -mcp [flags]                   MCP server on stdio\n")
	fmt.Fprintf(out, "  blockterm credential set|delete user@host\n\n")
	fmt.Fprintf(out, "Flags:\n")
	flag.PrintDefaults()
}

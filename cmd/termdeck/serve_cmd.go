package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/termdeck/termdeck/internal/config"
	"github.com/termdeck/termdeck/internal/logging"
	"github.com/termdeck/termdeck/internal/protocol"
	"github.com/termdeck/termdeck/internal/ptyhost"
)

// buildHost parses serve flags and returns a ready-to-start host.
// The caller is responsible for calling Start and Shutdown.
func buildHost(cfg *config.Config, args []string) (*ptyhost.Server, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listenAddr := fs.String("listen", cfg.Server.Listen, "Listen address for the session host")
	workspace := fs.String("workspace", cfg.Workspace.Root, "Fallback cwd when a client sends no workspace root")

	fs.Usage = func() {
		fmt.Println("Usage: termdeck serve [options]")
		fmt.Println()
		fmt.Println("Run the PTY session host the TUI connects to.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  termdeck serve")
		fmt.Println("  termdeck serve -listen 127.0.0.1:9000")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		return nil, fmt.Errorf("flag parsing: %w", err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	return ptyhost.NewServer(ptyhost.Config{
		ListenAddr:    *listenAddr,
		WorkspaceRoot: *workspace,
		Shells:        shellsFromConfig(cfg),
	}), nil
}

// shellsFromConfig parses [server.shells]. Unknown profile names and empty
// command lines are skipped.
func shellsFromConfig(cfg *config.Config) map[protocol.Profile]ptyhost.Shell {
	shells := make(map[protocol.Profile]ptyhost.Shell)
	for name, line := range cfg.Server.Shells {
		p := protocol.Profile(name)
		if protocol.NormalizeProfile(name) != p {
			continue
		}
		if sh, ok := ptyhost.ParseShell(line); ok {
			shells[p] = sh
		}
	}
	return shells
}

func handleServe(args []string) {
	cfg := loadConfig()
	logging.Init(cfg.LoggingConfig())
	defer logging.Shutdown()

	srv, err := buildHost(cfg, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	fmt.Printf("termdeck host listening on %s\n", srv.Addr())

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			logging.Shutdown()
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Logger().Warn("host_shutdown_failed", slog.String("error", err.Error()))
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/termdeck/termdeck/internal/clipboard"
	"github.com/termdeck/termdeck/internal/config"
	"github.com/termdeck/termdeck/internal/conn"
	"github.com/termdeck/termdeck/internal/logging"
	"github.com/termdeck/termdeck/internal/profile"
	"github.com/termdeck/termdeck/internal/protocol"
	"github.com/termdeck/termdeck/internal/statedb"
	"github.com/termdeck/termdeck/internal/ui"
	"github.com/termdeck/termdeck/internal/workbench"
)

func handleAttach(args []string) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	workspace := fs.String("workspace", "", "Workspace root (default: config or current directory)")
	fs.Usage = func() {
		fmt.Println("Usage: termdeck attach [options]")
		fmt.Println()
		fmt.Println("Open the terminal multiplexer for a workspace.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: termdeck attach needs an interactive terminal.")
		fmt.Fprintln(os.Stderr, "Use 'termdeck new' to run a session from a script.")
		os.Exit(1)
	}

	cfg := loadConfig()
	logging.Init(cfg.LoggingConfig())
	defer logging.Shutdown()
	initColorProfile()

	root := cfg.WorkspaceRoot()
	if *workspace != "" {
		root = *workspace
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	if err := runAttach(cfg, root); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Shutdown()
		os.Exit(1)
	}
}

func runAttach(cfg *config.Config, root string) error {
	db, err := openStateDB()
	if err != nil {
		// Metadata is a convenience; run without it.
		logging.Logger().Warn("statedb_unavailable", slog.String("error", err.Error()))
	} else {
		defer db.Close()
	}

	settings := settingsFromConfig(cfg)
	if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil && cols > 0 && rows > 2 {
		// Tab row and status bar take two rows.
		settings.Cols, settings.Rows = cols, rows-2
	}

	profiles := profile.NewStore()
	profiles.Replace(cfg.ProfileEnv())
	bridge := ui.NewEventBridge()

	wb := workbench.New(workbench.Options{
		Conn: conn.Options{
			Endpoint: conn.Endpoint{
				URL:           cfg.Backend.URL,
				PingURL:       cfg.Backend.PingURL,
				WorkspaceRoot: root,
			},
			ProbeTimeout:  cfg.ProbeTimeout(),
			RetryInterval: cfg.RetryInterval(),
			CreateTimeout: cfg.CreateTimeout(),
		},
		StateURL:       cfg.Backend.StateURL,
		DB:             db,
		Profiles:       profiles,
		DefaultProfile: protocol.NormalizeProfile(cfg.Terminal.DefaultProfile),
		Settings:       settings,
		Clipboard:      clipboard.System{OSC52: true},
		OnChange:       bridge.Notify,
	})
	defer wb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := wb.Start(ctx); err != nil {
		return fmt.Errorf("start workbench: %w", err)
	}

	if path, err := config.Path(); err == nil {
		if watcher, err := config.Watch(path, configReloader(wb, cfg)); err == nil {
			defer watcher.Close()
		} else {
			logging.Logger().Warn("config_watch_failed", slog.String("error", err.Error()))
		}
	}

	model := ui.New(wb, bridge, ui.Options{Theme: cfg.UI.Theme})
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func openStateDB() (*statedb.StateDB, error) {
	path, err := config.DBPath()
	if err != nil {
		return nil, err
	}
	db, err := statedb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func settingsFromConfig(cfg *config.Config) workbench.Settings {
	convert := true
	if cfg.Terminal.ConvertEOL != nil {
		convert = *cfg.Terminal.ConvertEOL
	}
	return workbench.Settings{
		Scrollback: cfg.Terminal.Scrollback,
		ConvertEOL: convert,
		Cols:       cfg.Terminal.Cols,
		Rows:       cfg.Terminal.Rows,
	}
}

// profileEnvTarget is the part of the workbench a config reload touches.
type profileEnvTarget interface {
	SetProfileEnvText(p protocol.Profile, text string)
	SetDefaultProfile(p protocol.Profile)
	Settings() workbench.Settings
	SetSettings(s workbench.Settings)
}

// configReloader applies edits of the config file. Only values that changed
// since the previous load are pushed, so edits made in the UI survive
// unrelated config saves. Session size stays with the UI.
func configReloader(wb profileEnvTarget, initial *config.Config) func(*config.Config, error) {
	prevEnv := initial.ProfileEnv()
	prevDefault := protocol.NormalizeProfile(initial.Terminal.DefaultProfile)
	return func(cfg *config.Config, err error) {
		if err != nil {
			logging.Logger().Warn("config_reload_failed", slog.String("error", err.Error()))
			return
		}
		env := cfg.ProfileEnv()
		for _, p := range protocol.Profiles {
			if env[p] != prevEnv[p] {
				wb.SetProfileEnvText(p, env[p])
			}
		}
		prevEnv = env

		if def := protocol.NormalizeProfile(cfg.Terminal.DefaultProfile); def != prevDefault {
			wb.SetDefaultProfile(def)
			prevDefault = def
		}

		next := settingsFromConfig(cfg)
		cur := wb.Settings()
		next.Cols, next.Rows = cur.Cols, cur.Rows
		if next != cur {
			wb.SetSettings(next)
		}
	}
}

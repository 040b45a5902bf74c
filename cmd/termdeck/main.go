package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/termdeck/termdeck/internal/config"
)

const Version = "0.4.0"

// initColorProfile configures lipgloss to detect the best color profile.
// Falls back gracefully: TrueColor -> ANSI256 -> ANSI.
func initColorProfile() {
	// TERMDECK_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("TERMDECK_COLOR"); colorEnv != "" {
		if p, ok := parseColorProfile(colorEnv); ok {
			lipgloss.SetColorProfile(p)
			return
		}
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	term := os.Getenv("TERM")
	trueColorTerms := []string{
		"xterm-256color",
		"screen-256color",
		"tmux-256color",
		"xterm-direct",
		"alacritty",
		"kitty",
		"wezterm",
	}
	for _, t := range trueColorTerms {
		if strings.Contains(term, t) {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	// Let termenv inspect the output for anything else.
	lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())
}

func parseColorProfile(s string) (termenv.Profile, bool) {
	switch strings.ToLower(s) {
	case "truecolor", "true", "24bit":
		return termenv.TrueColor, true
	case "256", "ansi256":
		return termenv.ANSI256, true
	case "16", "ansi", "basic":
		return termenv.ANSI, true
	case "none", "off", "ascii":
		return termenv.Ascii, true
	}
	return termenv.Ascii, false
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		handleAttach(nil)
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("termdeck v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "attach":
		handleAttach(args[1:])
	case "serve":
		handleServe(args[1:])
	case "ls", "list":
		handleList(args[1:])
	case "new":
		handleNew(args[1:])
	case "kill":
		handleKill(args[1:])
	default:
		if strings.HasPrefix(args[0], "-") {
			// Flags without a subcommand belong to attach.
			handleAttach(args)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

// loadConfig reads the config file. A parse error is reported and the
// defaults are used so a typo never locks the user out.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}
	return cfg
}

func printHelp() {
	fmt.Printf("termdeck v%s\n", Version)
	fmt.Println("Terminal session multiplexer")
	fmt.Println()
	fmt.Println("Usage: termdeck [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  (none), attach   Start the TUI")
	fmt.Println("  serve            Run the PTY session host")
	fmt.Println("  ls, list         List live sessions on the host")
	fmt.Println("  new              Create a session and stream its output")
	fmt.Println("  kill <id>        End a session")
	fmt.Println("  version          Show version")
	fmt.Println("  help             Show this help")
	fmt.Println()
	fmt.Println("TUI keys (after ctrl+b):")
	fmt.Println("  c new session     x kill session    %/\" split     s toggle split")
	fmt.Println("  o next pane       n/p next/prev     , rename      / find")
	fmt.Println("  g quick pick      [ scroll lock     y copy        ] paste")
	fmt.Println("  l clear           d detach")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Printf("  %-16s Base directory for config, state and logs (default ~/.termdeck)\n", config.HomeEnv)
	fmt.Println("  TERMDECK_COLOR   Color profile: truecolor, 256, 16, none")
}

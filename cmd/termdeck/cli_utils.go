package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// normalizeArgs reorders args so flags come before positional arguments.
// Go's flag package stops parsing at the first non-flag argument, which means
// "kill abc -json" would silently ignore -json.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		// "--" terminates flag processing
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)
			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// hostBaseURL maps the websocket endpoint to the host's HTTP origin:
// ws://h:8000/terminal/ws becomes http://h:8000.
func hostBaseURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("backend url: %w", err)
	}
	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("backend url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("backend url: missing host in %q", wsURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// CLIOutput handles consistent output formatting across CLI commands.
type CLIOutput struct {
	jsonMode  bool
	quietMode bool
}

// NewCLIOutput creates a new CLI output handler.
func NewCLIOutput(jsonMode, quietMode bool) *CLIOutput {
	return &CLIOutput{jsonMode: jsonMode, quietMode: quietMode}
}

// Success prints a success message or JSON response.
func (c *CLIOutput) Success(message string, data any) {
	if c.quietMode {
		return
	}
	if c.jsonMode {
		c.printJSON(data)
		return
	}
	fmt.Printf("%s %s\n", successSymbol, message)
}

// Error prints an error message or JSON error response.
func (c *CLIOutput) Error(message string, code string) {
	if c.jsonMode {
		c.printJSON(map[string]any{
			"success": false,
			"error":   message,
			"code":    code,
		})
		return
	}
	fmt.Fprintf(os.Stderr, "%s Error: %s\n", errorSymbol, message)
}

// Print prints data (human-readable or JSON).
func (c *CLIOutput) Print(humanOutput string, jsonData any) {
	if c.quietMode {
		return
	}
	if c.jsonMode {
		c.printJSON(jsonData)
		return
	}
	fmt.Print(humanOutput)
}

func (c *CLIOutput) printJSON(data any) {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to format JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}

// Symbols for human-readable output
const (
	successSymbol = "✓"
	errorSymbol   = "✕"
)

// Error codes for JSON output
const (
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeUnreachable = "HOST_UNREACHABLE"
	ErrCodeInvalid     = "INVALID_ARGS"
)

// Package clipboard bridges the host clipboard. Failures are reported to the
// caller, which is expected to degrade silently.
package clipboard

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/aymanbagabas/go-osc52/v2"
)

// ErrEmpty is returned when there is nothing to copy.
var ErrEmpty = errors.New("clipboard: no content to copy")

// ErrUnavailable is returned when no clipboard method works.
var ErrUnavailable = errors.New("clipboard: no clipboard method available")

// CopyResult contains metadata about a successful clipboard copy operation.
type CopyResult struct {
	Method    string // How the content was copied (e.g., "native", "clip.exe", "osc52")
	ByteSize  int    // Number of bytes copied
	LineCount int    // Number of lines in the content
}

// Clipboard is the capability the workbench copies to and pastes from.
type Clipboard interface {
	Copy(text string) (*CopyResult, error)
	Paste() (string, error)
}

// System uses the host clipboard tools, falling back to OSC 52 for copy
// when the controlling terminal supports it.
type System struct {
	// OSC52 enables the escape-sequence fallback.
	OSC52 bool
	// TTY receives OSC 52 sequences. Nil opens /dev/tty.
	TTY io.Writer
}

// Copy implements Clipboard.
func (s System) Copy(text string) (*CopyResult, error) {
	if text == "" {
		return nil, ErrEmpty
	}
	res := &CopyResult{ByteSize: len(text), LineCount: countLines(text)}

	method, err := copyNative(text)
	if err == nil {
		res.Method = method
		return res, nil
	}

	if s.OSC52 {
		if err := s.copyOSC52(text); err != nil {
			return nil, fmt.Errorf("clipboard: osc52: %w", err)
		}
		res.Method = "osc52"
		return res, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Paste implements Clipboard.
func (s System) Paste() (string, error) {
	if isWSL() {
		out, err := exec.Command("powershell.exe", "-NoProfile", "-Command", "Get-Clipboard").Output()
		if err == nil {
			return strings.TrimSuffix(strings.ReplaceAll(string(out), "\r\n", "\n"), "\n"), nil
		}
	}
	if clipboard.Unsupported {
		return "", ErrUnavailable
	}
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("clipboard: read: %w", err)
	}
	return text, nil
}

// copyNative attempts a platform clipboard and returns the method name.
func copyNative(text string) (string, error) {
	if isWSL() {
		cmd := exec.Command("clip.exe")
		cmd.Stdin = strings.NewReader(text)
		if err := cmd.Run(); err == nil {
			return "clip.exe", nil
		}
	}
	if clipboard.Unsupported {
		return "", ErrUnavailable
	}
	if err := clipboard.WriteAll(text); err != nil {
		return "", err
	}
	return "native", nil
}

func (s System) copyOSC52(text string) error {
	seq := osc52.New(text)
	if os.Getenv("TMUX") != "" {
		seq = seq.Tmux()
	}
	out := s.TTY
	if out == nil {
		// Write to /dev/tty to bypass any stdout redirection
		tty, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("cannot open /dev/tty: %w", err)
		}
		defer tty.Close()
		out = tty
	}
	_, err := seq.WriteTo(out)
	return err
}

var (
	wslOnce sync.Once
	wsl     bool
)

// isWSL reports whether we run under Windows Subsystem for Linux, where the
// Windows clipboard is reached through clip.exe and powershell.exe.
func isWSL() bool {
	wslOnce.Do(func() {
		if runtime.GOOS != "linux" {
			return
		}
		if os.Getenv("WSL_DISTRO_NAME") != "" {
			wsl = true
			return
		}
		v, err := os.ReadFile("/proc/version")
		wsl = err == nil && strings.Contains(strings.ToLower(string(v)), "microsoft")
	})
	return wsl
}

// countLines counts the number of lines in text.
// A trailing newline does not add an extra line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	// If text doesn't end with newline, the last line still counts
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// Memory is an in-process clipboard, used when the host has none and in tests.
type Memory struct {
	mu   sync.Mutex
	text string
}

// Copy implements Clipboard.
func (m *Memory) Copy(text string) (*CopyResult, error) {
	if text == "" {
		return nil, ErrEmpty
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	return &CopyResult{Method: "memory", ByteSize: len(text), LineCount: countLines(text)}, nil
}

// Paste implements Clipboard.
func (m *Memory) Paste() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

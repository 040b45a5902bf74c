package ptyhost

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/termdeck/termdeck/internal/protocol"
)

// Shell is the program launched for a profile.
type Shell struct {
	Command string
	Args    []string
	Title   string
}

// ParseShell splits a command line such as "/bin/bash --login".
func ParseShell(line string) (Shell, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Shell{}, false
	}
	return Shell{Command: fields[0], Args: fields[1:], Title: filepath.Base(fields[0])}, true
}

func (s *Server) pickShell(p protocol.Profile) Shell {
	if sh, ok := s.cfg.Shells[p]; ok && sh.Command != "" {
		if sh.Title == "" {
			sh.Title = filepath.Base(sh.Command)
		}
		return sh
	}
	return defaultShell(p)
}

func defaultShell(p protocol.Profile) Shell {
	if runtime.GOOS == "windows" {
		switch p {
		case protocol.ProfilePowerShell:
			root := os.Getenv("SystemRoot")
			if root == "" {
				root = `C:\Windows`
			}
			ps := filepath.Join(root, "System32", "WindowsPowerShell", "v1.0", "powershell.exe")
			if _, err := os.Stat(ps); err != nil {
				ps = "powershell.exe"
			}
			return Shell{Command: ps, Args: []string{"-NoLogo"}, Title: "powershell"}
		case protocol.ProfileBash:
			return Shell{Command: "bash.exe", Args: []string{"--login"}, Title: "bash"}
		default:
			comspec := os.Getenv("COMSPEC")
			if comspec == "" {
				comspec = "cmd.exe"
			}
			return Shell{Command: comspec, Title: "cmd"}
		}
	}
	if p == protocol.ProfilePowerShell {
		return Shell{Command: "pwsh", Args: []string{"-NoLogo"}, Title: "pwsh"}
	}
	return Shell{Command: "bash", Args: []string{"--login"}, Title: "bash"}
}

// sanitizeCwd resolves dir, falling back to the process directory when it
// is empty or not a directory.
func sanitizeCwd(dir string) string {
	wd, _ := os.Getwd()
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return wd
	}
	if st, err := os.Stat(abs); err != nil || !st.IsDir() {
		return wd
	}
	return abs
}

// maxTermSize bounds PTY columns and rows well inside uint16.
const maxTermSize = 1000

// safeSize returns n clamped to maxTermSize, or fallback when n is not
// positive.
func safeSize(n, fallback int) int {
	if n <= 0 {
		return clampSize(fallback)
	}
	return clampSize(n)
}

func clampSize(n int) int {
	return min(max(1, n), maxTermSize)
}

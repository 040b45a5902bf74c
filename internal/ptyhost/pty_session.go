package ptyhost

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/creack/pty"

	"github.com/termdeck/termdeck/internal/protocol"
)

type sessionSpec struct {
	ID      string
	Profile protocol.Profile
	Shell   Shell
	Cwd     string
	Cols    int
	Rows    int
	Env     map[string]string
}

// ptySession is one shell attached to a PTY.
type ptySession struct {
	id      string
	pid     int
	profile protocol.Profile
	title   string
	cwd     string
	owner   *client

	cmd *exec.Cmd

	// ptmxMu guards ptmx against a resize racing the close on exit.
	ptmxMu sync.Mutex
	ptmx   *os.File
	closed bool

	disposed  atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func startSession(spec sessionSpec, owner *client) (*ptySession, error) {
	cmd := exec.Command(spec.Shell.Command, spec.Shell.Args...)
	cmd.Dir = spec.Cwd
	cmd.Env = buildEnv(os.Environ(), spec.Env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(clampSize(spec.Cols)),
		Rows: uint16(clampSize(spec.Rows)),
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Shell.Command, err)
	}
	return &ptySession{
		id:      spec.ID,
		pid:     cmd.Process.Pid,
		profile: spec.Profile,
		title:   spec.Shell.Title,
		cwd:     spec.Cwd,
		owner:   owner,
		cmd:     cmd,
		ptmx:    ptmx,
		done:    make(chan struct{}),
	}, nil
}

// buildEnv overlays extra on base. TERM defaults to xterm-256color.
func buildEnv(base []string, extra map[string]string) []string {
	merged := make(map[string]string, len(base)+len(extra)+1)
	for _, kv := range base {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	if merged["TERM"] == "" {
		merged["TERM"] = "xterm-256color"
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

func (s *ptySession) describe() protocol.Terminal {
	return protocol.Terminal{ID: s.id, PID: s.pid, Title: s.title, Profile: s.profile, Cwd: s.cwd}
}

func (s *ptySession) run() {
	go s.streamOutput()
}

func (s *ptySession) streamOutput() {
	defer close(s.done)

	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			cut := completeUTF8(chunk)
			carry = append([]byte(nil), chunk[cut:]...)
			if cut > 0 && !s.disposed.Load() {
				s.owner.send(protocol.Message{Type: protocol.TypeData, ID: s.id, Data: string(chunk[:cut])})
			}
		}
		if err != nil {
			if len(carry) > 0 && !s.disposed.Load() {
				s.owner.send(protocol.Message{Type: protocol.TypeData, ID: s.id, Data: string(carry)})
			}
			break
		}
	}

	code, signal := waitExit(s.cmd)
	s.closePTY()
	if s.disposed.Load() {
		return
	}
	hostLog.Info("session_exited",
		slog.String("session_id", s.id),
		slog.Int("exit_code", code),
		slog.Int("signal", signal))
	s.owner.exited(s, code, signal)
}

// completeUTF8 returns the length of the prefix of b that does not end in a
// truncated multi-byte sequence.
func completeUTF8(b []byte) int {
	for back := 1; back <= utf8.UTFMax && back <= len(b); back++ {
		i := len(b) - back
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

func waitExit(cmd *exec.Cmd) (code, signal int) {
	err := cmd.Wait()
	if err == nil {
		return 0, 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if sig := exitSignal(exitErr); sig != 0 {
			return exitErr.ExitCode(), sig
		}
		return exitErr.ExitCode(), 0
	}
	return -1, 0
}

func (s *ptySession) closePTY() {
	s.ptmxMu.Lock()
	defer s.ptmxMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.ptmx.Close()
}

// isClosed reports whether the PTY has been closed.
func (s *ptySession) isClosed() bool {
	s.ptmxMu.Lock()
	defer s.ptmxMu.Unlock()
	return s.closed
}

// WriteInput forwards keystrokes to the shell. The write itself runs outside
// ptmxMu since os.File serializes Write against Close.
func (s *ptySession) WriteInput(data []byte) {
	if len(data) == 0 || s.disposed.Load() || s.isClosed() {
		return
	}
	if _, err := s.ptmx.Write(data); err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
		hostLog.Debug("session_write_failed", slog.String("session_id", s.id), slog.String("error", err.Error()))
	}
}

// Resize updates the PTY window size. It is a no-op once the PTY is closed.
func (s *ptySession) Resize(cols, rows int) {
	s.ptmxMu.Lock()
	defer s.ptmxMu.Unlock()
	if s.closed {
		return
	}
	ws := &pty.Winsize{Cols: uint16(clampSize(cols)), Rows: uint16(clampSize(rows))}
	if err := pty.Setsize(s.ptmx, ws); err != nil {
		hostLog.Debug("session_resize_failed", slog.String("session_id", s.id), slog.String("error", err.Error()))
	}
}

func (s *ptySession) markDisposed() {
	s.disposed.Store(true)
}

// Close kills the shell's process group and waits for the reader to finish.
func (s *ptySession) Close() {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			terminate(s.cmd.Process, s.done)
		}
		s.closePTY()
		<-s.done
	})
}

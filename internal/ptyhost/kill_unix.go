//go:build !windows

package ptyhost

import (
	"os"
	"os/exec"
	"syscall"
	"time"
)

const killGrace = 2 * time.Second

// terminate hangs up the session's process group and escalates to SIGKILL
// when it has not exited within killGrace.
func terminate(p *os.Process, done <-chan struct{}) {
	pgid, err := syscall.Getpgid(p.Pid)
	if err != nil {
		_ = p.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGHUP)
	select {
	case <-done:
	case <-time.After(killGrace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
}

func exitSignal(err *exec.ExitError) int {
	if ws, ok := err.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return int(ws.Signal())
	}
	return 0
}

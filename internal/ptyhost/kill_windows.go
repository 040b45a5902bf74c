//go:build windows

package ptyhost

import (
	"os"
	"os/exec"
)

func terminate(p *os.Process, _ <-chan struct{}) {
	_ = p.Kill()
}

func exitSignal(*exec.ExitError) int { return 0 }

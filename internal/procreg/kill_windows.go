//go:build windows

package procreg

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd.exe", "/C", command)
}

func setProcessGroup(*exec.Cmd) {}

// KillProcessTree runs taskkill /T /F, which terminates the whole tree at
// once, so grace is unused. If taskkill cannot run the process alone is
// killed.
func KillProcessTree(pid int, _ time.Duration) error {
	return ForceKillProcess(pid)
}

// ForceKillProcess kills the tree rooted at pid.
func ForceKillProcess(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("procreg: invalid pid %d", pid)
	}
	if err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run(); err == nil {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("procreg: find process %d: %w", pid, err)
	}
	if err := p.Kill(); err != nil {
		return fmt.Errorf("procreg: kill %d: %w", pid, err)
	}
	return nil
}

func exitSignal(*os.ProcessState) string { return "" }

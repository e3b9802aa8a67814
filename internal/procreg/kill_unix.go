//go:build !windows

package procreg

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func shellCommand(command string) *exec.Cmd {
	return exec.Command("/bin/sh", "-c", command)
}

// setProcessGroup places the child in its own process group so the whole
// tree can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// KillProcessTree sends SIGTERM to the process group, waits grace, then
// sends SIGKILL to whatever is left.
func KillProcessTree(pid int, grace time.Duration) error {
	if pid <= 0 {
		return fmt.Errorf("procreg: invalid pid %d", pid)
	}
	if err := signalTree(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("procreg: sigterm %d: %w", pid, err)
	}
	time.Sleep(grace)
	if err := signalTree(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("procreg: sigkill %d: %w", pid, err)
	}
	return nil
}

// ForceKillProcess sends SIGKILL to the process group immediately.
func ForceKillProcess(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("procreg: invalid pid %d", pid)
	}
	if err := signalTree(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("procreg: sigkill %d: %w", pid, err)
	}
	return nil
}

// signalTree signals the group led by pid, falling back to the single
// process when it is not a group leader.
func signalTree(pid int, sig syscall.Signal) error {
	err := unix.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ESRCH) || errors.Is(err, unix.EPERM) {
		return unix.Kill(pid, sig)
	}
	return err
}

func exitSignal(ps *os.ProcessState) string {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return unix.SignalName(ws.Signal())
}

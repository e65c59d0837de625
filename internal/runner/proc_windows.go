//go:build windows

package runner

import (
	"os/exec"
	"syscall"
)

func applyProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// Console interrupts cannot be delivered to a hidden process group.
func sendInterrupt(cmd *exec.Cmd) error {
	return forceKill(cmd)
}

func forceKill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

//go:build unix

package job

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(cmd *exec.Cmd, sig unix.Signal) {
	if cmd.Process == nil {
		return
	}
	err := unix.Kill(-cmd.Process.Pid, sig)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		_ = cmd.Process.Signal(sig)
	}
}

func interruptGroup(cmd *exec.Cmd) { signalGroup(cmd, unix.SIGTERM) }

func killGroup(cmd *exec.Cmd) { signalGroup(cmd, unix.SIGKILL) }

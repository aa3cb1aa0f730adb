//go:build !windows

package babysitter

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the child in its own process group so a signal
// sent to the supervisor doesn't also reach the child directly, and so
// terminate can signal the whole group.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the child's process group.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM) //nolint:errcheck
}

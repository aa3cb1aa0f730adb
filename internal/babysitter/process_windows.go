package babysitter

import (
	"os/exec"
	"syscall"
)

// configureProcess hides the console window and creates a new process
// group so the whole tree can be killed cleanly.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// terminate kills the child directly — Windows has no SIGTERM; the
// supervisor's grace-period/SIGKILL fallback in childProcess.shutdown
// still applies, it's just both steps are a hard kill here.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Kill() //nolint:errcheck
}

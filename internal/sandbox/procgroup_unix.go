//go:build unix

package sandbox

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setupProcessGroup runs cmd in its own session so the whole tree can be
// signalled at once.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setpgid = false
	cmd.SysProcAttr.Pgid = 0
}

// signalGroup delivers sig to cmd's process group. kill(-1) and kill(0)
// would hit unrelated processes, so pids <= 1 are treated as gone.
func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	pid := cmd.Process.Pid
	if pid <= 1 {
		return os.ErrProcessDone
	}
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

func terminateGroup(cmd *exec.Cmd) error { return signalGroup(cmd, unix.SIGTERM) }

func killGroup(cmd *exec.Cmd) error { return signalGroup(cmd, unix.SIGKILL) }

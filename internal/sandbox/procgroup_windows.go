//go:build windows

package sandbox

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= syscall.CREATE_NEW_PROCESS_GROUP
}

// terminateGroup asks taskkill to end the tree. Console programs rarely
// handle it gracefully, so killGroup follows after the grace period.
func terminateGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	return exec.Command("taskkill", "/pid", strconv.Itoa(cmd.Process.Pid), "/t").Run()
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	if err := exec.Command("taskkill", "/pid", strconv.Itoa(cmd.Process.Pid), "/t", "/f").Run(); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}

//go:build linux

package hardening

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// RlimitEnforcer applies rlimits to the started child with prlimit(2) and,
// when the host runs as root and UID is set, starts the child as UID/GID.
//
// Limits are applied after the child has started, so a command can briefly
// run unconstrained.
type RlimitEnforcer struct {
	UID uint32
	GID uint32
}

func (e RlimitEnforcer) DropPrivileges(cmd *exec.Cmd) error {
	if e.UID == 0 || os.Geteuid() != 0 {
		return nil
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Credential = &syscall.Credential{Uid: e.UID, Gid: e.GID}
	return nil
}

func (e RlimitEnforcer) SetResourceLimits(pid int, limits Limits) error {
	if pid <= 1 {
		return fmt.Errorf("refusing to set limits on pid %d", pid)
	}
	set := []struct {
		name     string
		resource int
		value    int64
	}{
		{"RLIMIT_AS", unix.RLIMIT_AS, limits.MemoryBytes},
		{"RLIMIT_NOFILE", unix.RLIMIT_NOFILE, limits.FileDescriptors},
		{"RLIMIT_NPROC", unix.RLIMIT_NPROC, limits.Processes},
		{"RLIMIT_FSIZE", unix.RLIMIT_FSIZE, limits.FileSizeBytes},
	}
	for _, l := range set {
		if l.value <= 0 {
			continue
		}
		rl := unix.Rlimit{Cur: uint64(l.value), Max: uint64(l.value)}
		if err := unix.Prlimit(pid, l.resource, &rl, nil); err != nil {
			return fmt.Errorf("prlimit %s: %w", l.name, err)
		}
	}
	return nil
}

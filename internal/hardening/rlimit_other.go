//go:build !linux

package hardening

import "os/exec"

// RlimitEnforcer is only implemented on Linux.
type RlimitEnforcer struct {
	UID uint32
	GID uint32
}

func (RlimitEnforcer) DropPrivileges(*exec.Cmd) error { return ErrUnsupported }

func (RlimitEnforcer) SetResourceLimits(int, Limits) error { return ErrUnsupported }

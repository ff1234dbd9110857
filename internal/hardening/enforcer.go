package hardening

import (
	"errors"
	"os/exec"
)

// ErrUnsupported is returned by enforcers on platforms they cannot serve.
var ErrUnsupported = errors.New("hardening: not supported on this platform")

// Limits are per-process resource ceilings. Zero means no limit.
type Limits struct {
	MemoryBytes     int64
	FileDescriptors int64
	Processes       int64
	FileSizeBytes   int64
}

// Enforcer applies OS-level isolation to a command. DropPrivileges runs
// before the process starts; SetResourceLimits runs right after.
type Enforcer interface {
	DropPrivileges(cmd *exec.Cmd) error
	SetResourceLimits(pid int, limits Limits) error
}

// NopEnforcer does nothing. It is the default and provides no isolation:
// callers must not assume limits or reduced privileges are in effect.
type NopEnforcer struct{}

func (NopEnforcer) DropPrivileges(*exec.Cmd) error { return nil }

func (NopEnforcer) SetResourceLimits(int, Limits) error { return nil }

package sandbox

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// BackendKind names an isolation mechanism.
type BackendKind string

const (
	// BackendSubprocess runs the command through the host shell. It is the
	// only backend guaranteed to exist and provides no isolation beyond
	// environment scrubbing and resource ceilings enforced by the executor.
	BackendSubprocess BackendKind = "subprocess"
	// BackendPlatform uses the native OS sandbox (bubblewrap on Linux,
	// sandbox-exec on macOS).
	BackendPlatform BackendKind = "platform"
	// BackendContainer runs the command in a throwaway docker or podman
	// container. It is never selected automatically.
	BackendContainer BackendKind = "container"
)

// ErrBackendUnavailable is returned by NewBackend when the requested backend
// cannot run on this host.
var ErrBackendUnavailable = errors.New("sandbox: backend unavailable")

// ParseBackendKind parses a backend name.
func ParseBackendKind(s string) (BackendKind, error) {
	switch k := BackendKind(strings.ToLower(strings.TrimSpace(s))); k {
	case BackendSubprocess, BackendPlatform, BackendContainer:
		return k, nil
	default:
		return "", fmt.Errorf("unknown backend %q: must be subprocess, platform, or container", s)
	}
}

// Spec describes one process for a backend to build.
type Spec struct {
	Command string
	// Dir is the working directory. It defaults to TempDir.
	Dir string
	// TempDir is the run's private scratch directory.
	TempDir string
	// Env is the already sanitized environment.
	Env    []string
	Config Config
}

func (s Spec) workDir() string {
	if s.Dir != "" {
		return s.Dir
	}
	return s.TempDir
}

// Backend turns a Spec into a command ready to start.
type Backend interface {
	Kind() BackendKind
	Command(spec Spec) (*exec.Cmd, error)
}

// DetectBackend returns "platform" when the current OS reports native
// sandbox support and "subprocess" otherwise. Callers must not assume any
// isolation beyond what the returned kind provides.
func DetectBackend() BackendKind {
	if ok, _ := platformProbe(); ok {
		return BackendPlatform
	}
	return BackendSubprocess
}

// PlatformSandboxReason explains why the native sandbox is unavailable on
// this host. It is empty when the sandbox is available.
func PlatformSandboxReason() string {
	_, reason := platformProbe()
	return reason
}

// NewBackend constructs the backend of the given kind. An empty kind uses
// DetectBackend. Unavailable backends return an error wrapping
// ErrBackendUnavailable with the reason.
func NewBackend(kind BackendKind, cfg Config) (Backend, error) {
	if kind == "" {
		kind = DetectBackend()
	}
	switch kind {
	case BackendSubprocess:
		return SubprocessBackend{}, nil
	case BackendPlatform:
		if ok, reason := platformProbe(); !ok {
			return nil, fmt.Errorf("%w: platform: %s", ErrBackendUnavailable, reason)
		}
		return newPlatformBackend()
	case BackendContainer:
		return NewContainerBackend("", "")
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

// SupportsWindowsSandbox reports native sandbox support on Windows. There is
// no Windows implementation.
func SupportsWindowsSandbox() bool { return false }

// WindowsSandboxReason explains why Windows has no native sandbox.
func WindowsSandboxReason() string {
	return "no native sandbox backend is implemented for windows"
}

// SupportsLinuxSandbox reports whether bubblewrap can sandbox commands here.
func SupportsLinuxSandbox() bool {
	ok, _ := linuxProbe()
	return ok
}

// LinuxSandboxReason explains why the Linux sandbox is unavailable, or "".
func LinuxSandboxReason() string {
	_, reason := linuxProbe()
	return reason
}

// SupportsDarwinSandbox reports whether sandbox-exec can sandbox commands here.
func SupportsDarwinSandbox() bool {
	ok, _ := darwinProbe()
	return ok
}

// DarwinSandboxReason explains why the macOS sandbox is unavailable, or "".
func DarwinSandboxReason() string {
	_, reason := darwinProbe()
	return reason
}

// SubprocessBackend runs commands with the host shell.
type SubprocessBackend struct{}

func (SubprocessBackend) Kind() BackendKind { return BackendSubprocess }

func (SubprocessBackend) Command(spec Spec) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd.exe", "/c", spec.Command)
	} else {
		cmd = exec.Command("/bin/sh", "-c", spec.Command)
	}
	cmd.Dir = spec.workDir()
	cmd.Env = spec.Env
	return cmd, nil
}

//go:build !linux && !darwin

package sandbox

import (
	"fmt"
	"runtime"
)

func linuxProbe() (bool, string) {
	return false, "bubblewrap is only available on linux"
}

func darwinProbe() (bool, string) {
	return false, "sandbox-exec is only available on darwin"
}

func platformProbe() (bool, string) {
	if runtime.GOOS == "windows" {
		return false, WindowsSandboxReason()
	}
	return false, fmt.Sprintf("no native sandbox backend for %s", runtime.GOOS)
}

func newPlatformBackend() (Backend, error) {
	_, reason := platformProbe()
	return nil, fmt.Errorf("%w: platform: %s", ErrBackendUnavailable, reason)
}

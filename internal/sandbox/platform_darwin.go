//go:build darwin

package sandbox

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// darwinProbe checks that sandbox-exec exists and accepts a trivial profile.
var darwinProbe = sync.OnceValues(func() (bool, string) {
	path, err := exec.LookPath("sandbox-exec")
	if err != nil {
		return false, "sandbox-exec not found on PATH"
	}
	out, err := exec.Command(path, "-p", "(version 1)(allow default)", "/usr/bin/true").CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return false, fmt.Sprintf("sandbox-exec failed: %s", msg)
	}
	return true, ""
})

func linuxProbe() (bool, string) {
	return false, "bubblewrap is only available on linux"
}

func platformProbe() (bool, string) {
	return darwinProbe()
}

func newPlatformBackend() (Backend, error) {
	path, err := exec.LookPath("sandbox-exec")
	if err != nil {
		return nil, fmt.Errorf("%w: platform: %v", ErrBackendUnavailable, err)
	}
	return &SeatbeltBackend{Path: path}, nil
}

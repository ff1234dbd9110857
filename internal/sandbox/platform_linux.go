//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// linuxProbe checks for bubblewrap and working unprivileged user namespaces.
// The result is cached for the life of the process.
var linuxProbe = sync.OnceValues(func() (bool, string) {
	path, err := exec.LookPath("bwrap")
	if err != nil {
		return false, "bubblewrap (bwrap) not found on PATH"
	}
	if data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err == nil {
		if strings.TrimSpace(string(data)) == "0" {
			return false, "unprivileged user namespaces are disabled (kernel.unprivileged_userns_clone=0)"
		}
	}
	out, err := exec.Command(path, "--unshare-user", "--ro-bind", "/", "/", "--", "true").CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return false, fmt.Sprintf("bwrap cannot create a user namespace: %s", msg)
	}
	return true, ""
})

func darwinProbe() (bool, string) {
	return false, "sandbox-exec is only available on darwin"
}

func platformProbe() (bool, string) {
	return linuxProbe()
}

func newPlatformBackend() (Backend, error) {
	path, err := exec.LookPath("bwrap")
	if err != nil {
		return nil, fmt.Errorf("%w: platform: %v", ErrBackendUnavailable, err)
	}
	return &BwrapBackend{Path: path}, nil
}

package sandbox

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// BwrapBackend wraps commands in bubblewrap: the host root is read-only,
// only the scratch and working directories are writable, and the network is
// unshared unless allowed.
type BwrapBackend struct {
	Path string
}

func (b *BwrapBackend) Kind() BackendKind { return BackendPlatform }

func (b *BwrapBackend) Command(spec Spec) (*exec.Cmd, error) {
	args := append(BwrapArgs(spec), "--", "/bin/sh", "-c", spec.Command)
	cmd := exec.Command(b.Path, args...)
	cmd.Env = spec.Env
	return cmd, nil
}

// systemDirs stay visible when AllowFileSystem is off.
var systemDirs = []string{"/usr", "/bin", "/sbin", "/lib", "/lib32", "/lib64", "/etc"}

// BwrapArgs builds the bubblewrap arguments for spec, without the command.
func BwrapArgs(spec Spec) []string {
	cfg := spec.Config
	args := []string{"--die-with-parent", "--unshare-pid", "--unshare-ipc"}
	if !cfg.AllowNetwork {
		args = append(args, "--unshare-net")
	}

	if cfg.AllowFileSystem {
		args = append(args, "--ro-bind", "/", "/")
	} else {
		for _, d := range systemDirs {
			args = append(args, "--ro-bind-try", d, d)
		}
	}
	args = append(args, "--dev", "/dev", "--proc", "/proc", "--tmpfs", "/tmp")

	if spec.TempDir != "" {
		args = append(args, "--bind", spec.TempDir, spec.TempDir)
	}
	if spec.Dir != "" && spec.Dir != spec.TempDir {
		if cfg.UseOverlay {
			args = append(args, "--overlay-src", spec.Dir, "--tmp-overlay", spec.Dir)
		} else {
			args = append(args, "--bind", spec.Dir, spec.Dir)
		}
	}

	for _, p := range maskTargets(cfg.DeniedPaths) {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.IsDir() {
			args = append(args, "--tmpfs", p)
		} else {
			args = append(args, "--ro-bind", "/dev/null", p)
		}
	}

	args = append(args, "--chdir", spec.workDir())
	return args
}

// maskTargets expands denied path patterns into existing absolute paths.
func maskTargets(patterns []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range patterns {
		if !filepath.IsAbs(p) {
			continue
		}
		matches := []string{p}
		if hasMeta(p) {
			m, err := doublestar.FilepathGlob(p)
			if err != nil {
				continue
			}
			matches = m
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

func hasMeta(p string) bool {
	for _, c := range p {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

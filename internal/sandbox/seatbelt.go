package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// SeatbeltBackend wraps commands in sandbox-exec with a generated profile.
type SeatbeltBackend struct {
	Path string
}

func (b *SeatbeltBackend) Kind() BackendKind { return BackendPlatform }

func (b *SeatbeltBackend) Command(spec Spec) (*exec.Cmd, error) {
	cmd := exec.Command(b.Path, "-p", SeatbeltProfile(spec), "/bin/sh", "-c", spec.Command)
	cmd.Dir = spec.workDir()
	cmd.Env = spec.Env
	return cmd, nil
}

// SeatbeltProfile builds a sandbox-exec profile for spec. Writes are
// confined to the scratch and working directories; denied paths cannot be
// read; the network is denied unless allowed.
func SeatbeltProfile(spec Spec) string {
	cfg := spec.Config
	var sb strings.Builder
	sb.WriteString("(version 1)\n(allow default)\n")
	if !cfg.AllowNetwork {
		sb.WriteString("(deny network*)\n(allow network* (remote unix-socket))\n")
	}

	sb.WriteString("(deny file-write*)\n(allow file-write*\n")
	for _, p := range writablePaths(spec) {
		fmt.Fprintf(&sb, "  (subpath %s)\n", quoteSBPL(p))
	}
	sb.WriteString("  (literal \"/dev/null\")\n  (literal \"/dev/tty\")\n  (regex #\"^/dev/fd/\"))\n")

	if !cfg.AllowFileSystem {
		if home, err := os.UserHomeDir(); err == nil {
			fmt.Fprintf(&sb, "(deny file-read* (subpath %s))\n", quoteSBPL(home))
			for _, p := range writablePaths(spec) {
				fmt.Fprintf(&sb, "(allow file-read* (subpath %s))\n", quoteSBPL(p))
			}
		}
	}

	for _, p := range cfg.DeniedPaths {
		if !filepath.IsAbs(p) || hasMeta(p) {
			continue
		}
		for _, v := range pathVariants(p) {
			fmt.Fprintf(&sb, "(deny file-read* (literal %s))\n", quoteSBPL(v))
		}
	}
	return sb.String()
}

func writablePaths(spec Spec) []string {
	var out []string
	for _, p := range []string{spec.TempDir, spec.Dir} {
		if p == "" {
			continue
		}
		out = append(out, pathVariants(p)...)
	}
	return out
}

// pathVariants returns p and, when it differs, its symlink-resolved form
// (/etc and /tmp live under /private on macOS).
func pathVariants(p string) []string {
	out := []string{p}
	if r, err := filepath.EvalSymlinks(p); err == nil && r != p {
		out = append(out, r)
	} else if strings.HasPrefix(p, "/etc/") || strings.HasPrefix(p, "/tmp/") || strings.HasPrefix(p, "/var/") {
		out = append(out, "/private"+p)
	}
	return out
}

func quoteSBPL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

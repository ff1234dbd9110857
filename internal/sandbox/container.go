package sandbox

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultContainerImage runs commands when no image is configured.
const DefaultContainerImage = "docker.io/library/alpine:3.20"

// containerWorkDir is where the working directory is mounted.
const containerWorkDir = "/work"

// ContainerBackend runs each command in a fresh container.
type ContainerBackend struct {
	Runtime string
	Image   string
}

// NewContainerBackend locates runtime (docker, then podman, when empty).
func NewContainerBackend(runtime, image string) (*ContainerBackend, error) {
	candidates := []string{"docker", "podman"}
	if runtime != "" {
		candidates = []string{runtime}
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			if image == "" {
				image = DefaultContainerImage
			}
			return &ContainerBackend{Runtime: path, Image: image}, nil
		}
	}
	return nil, fmt.Errorf("%w: container: none of %s found on PATH", ErrBackendUnavailable, strings.Join(candidates, ", "))
}

func (b *ContainerBackend) Kind() BackendKind { return BackendContainer }

func (b *ContainerBackend) Command(spec Spec) (*exec.Cmd, error) {
	cmd := exec.Command(b.Runtime, ContainerArgs(spec, b.Image)...)
	cmd.Env = spec.Env
	return cmd, nil
}

// ContainerArgs builds the runtime arguments for spec.
func ContainerArgs(spec Spec, image string) []string {
	cfg := spec.Config
	args := []string{"run", "--rm", "-i", "--init"}
	if !cfg.AllowNetwork {
		args = append(args, "--network", "none")
	}
	if !cfg.AllowFileSystem {
		args = append(args, "--read-only")
	}
	if cfg.MemoryBytes > 0 {
		args = append(args, "-m", strconv.FormatInt(cfg.MemoryBytes, 10))
	}
	if cfg.MaxProcesses > 0 {
		args = append(args, "--pids-limit", strconv.FormatInt(cfg.MaxProcesses, 10))
	}
	if cfg.MaxFileDescriptors > 0 {
		n := strconv.FormatInt(cfg.MaxFileDescriptors, 10)
		args = append(args, "--ulimit", "nofile="+n+":"+n)
	}
	if cfg.MaxFileSizeBytes > 0 {
		n := strconv.FormatInt(cfg.MaxFileSizeBytes, 10)
		args = append(args, "--ulimit", "fsize="+n+":"+n)
	}

	workDir := spec.workDir()
	if workDir != "" {
		args = append(args, "-v", workDir+":"+containerWorkDir, "-w", containerWorkDir)
	}
	if spec.TempDir != "" && spec.TempDir != workDir {
		args = append(args, "-v", spec.TempDir+":/tmp")
	}

	for _, kv := range spec.Env {
		k, _, ok := strings.Cut(kv, "=")
		if !ok || containerHostOnly[k] {
			continue
		}
		// -e KEY copies the value from the runtime client's environment,
		// which is spec.Env.
		args = append(args, "-e", k)
	}

	return append(args, image, "/bin/sh", "-c", spec.Command)
}

// containerHostOnly are host values that would break the container.
var containerHostOnly = map[string]bool{
	"PATH": true, "HOME": true, "TMPDIR": true, "SHELL": true, "PWD": true,
}

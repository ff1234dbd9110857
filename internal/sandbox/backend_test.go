package sandbox

import (
	"os"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackendKind(t *testing.T) {
	for in, want := range map[string]BackendKind{
		"subprocess": BackendSubprocess,
		" Platform ": BackendPlatform,
		"CONTAINER":  BackendContainer,
	} {
		got, err := ParseBackendKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseBackendKind("jail")
	assert.Error(t, err)
}

func TestDetectBackend(t *testing.T) {
	kind := DetectBackend()
	if kind == BackendPlatform {
		assert.Empty(t, PlatformSandboxReason())
	} else {
		assert.Equal(t, BackendSubprocess, kind)
		assert.NotEmpty(t, PlatformSandboxReason())
	}

	switch runtime.GOOS {
	case "linux":
		assert.False(t, SupportsDarwinSandbox())
		assert.NotEmpty(t, DarwinSandboxReason())
		assert.Equal(t, SupportsLinuxSandbox(), LinuxSandboxReason() == "")
	case "darwin":
		assert.False(t, SupportsLinuxSandbox())
		assert.NotEmpty(t, LinuxSandboxReason())
	}
	assert.False(t, SupportsWindowsSandbox())
	assert.NotEmpty(t, WindowsSandboxReason())
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(BackendSubprocess, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, BackendSubprocess, b.Kind())

	b, err = NewBackend("", DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, DetectBackend(), b.Kind())

	if DetectBackend() == BackendSubprocess {
		_, err := NewBackend(BackendPlatform, DefaultConfig())
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	}

	_, err = NewBackend("jail", DefaultConfig())
	assert.Error(t, err)
}

func TestSubprocessBackend_Command(t *testing.T) {
	cmd, err := SubprocessBackend{}.Command(Spec{
		Command: "echo hi",
		TempDir: "/tmp/scratch",
		Env:     []string{"A=1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/scratch", cmd.Dir)
	assert.Equal(t, []string{"A=1"}, cmd.Env)
	assert.Equal(t, "echo hi", cmd.Args[len(cmd.Args)-1])

	cmd, err = SubprocessBackend{}.Command(Spec{Command: "ls", Dir: "/proj", TempDir: "/tmp/scratch"})
	require.NoError(t, err)
	assert.Equal(t, "/proj", cmd.Dir)
}

func TestBwrapArgs(t *testing.T) {
	cfg := DefaultConfig()
	spec := Spec{Command: "ls", Dir: "/proj", TempDir: "/tmp/scratch", Config: cfg}

	args := strings.Join(BwrapArgs(spec), " ")
	assert.Contains(t, args, "--unshare-net")
	assert.Contains(t, args, "--die-with-parent")
	assert.Contains(t, args, "--ro-bind / /")
	assert.Contains(t, args, "--bind /tmp/scratch /tmp/scratch")
	assert.Contains(t, args, "--bind /proj /proj")
	assert.True(t, strings.HasSuffix(args, "--chdir /proj"))
	if _, err := os.Stat("/etc/passwd"); err == nil {
		assert.Contains(t, args, "--ro-bind /dev/null /etc/passwd")
	}

	cfg.AllowNetwork = true
	cfg.AllowFileSystem = false
	cfg.UseOverlay = true
	spec.Config = cfg
	args = strings.Join(BwrapArgs(spec), " ")
	assert.NotContains(t, args, "--unshare-net")
	assert.NotContains(t, args, "--ro-bind / /")
	assert.Contains(t, args, "--ro-bind-try /usr /usr")
	assert.Contains(t, args, "--overlay-src /proj --tmp-overlay /proj")
}

func TestSeatbeltProfile(t *testing.T) {
	spec := Spec{Command: "ls", Dir: "/proj", TempDir: "/scratch", Config: DefaultConfig()}

	profile := SeatbeltProfile(spec)
	assert.True(t, strings.HasPrefix(profile, "(version 1)\n"))
	assert.Contains(t, profile, "(deny network*)")
	assert.Contains(t, profile, `(subpath "/scratch")`)
	assert.Contains(t, profile, `(subpath "/proj")`)
	assert.Contains(t, profile, `(deny file-read* (literal "/etc/shadow"))`)

	spec.Config.AllowNetwork = true
	assert.NotContains(t, SeatbeltProfile(spec), "(deny network*)")
}

func TestContainerArgs(t *testing.T) {
	cfg := DefaultConfig()
	spec := Spec{
		Command: "make test",
		Dir:     "/proj",
		TempDir: "/tmp/scratch",
		Env:     []string{"PATH=/usr/bin", "LANG=C", "CI=1"},
		Config:  cfg,
	}

	args := ContainerArgs(spec, "alpine:3")
	joined := strings.Join(args, " ")
	assert.Equal(t, []string{"run", "--rm"}, args[:2])
	assert.Contains(t, joined, "--network none")
	assert.Contains(t, joined, "-m 536870912")
	assert.Contains(t, joined, "--pids-limit 10")
	assert.Contains(t, joined, "-v /proj:/work -w /work")
	assert.Contains(t, joined, "-v /tmp/scratch:/tmp")
	assert.Contains(t, joined, "-e LANG")
	assert.Contains(t, joined, "-e CI")
	assert.NotContains(t, joined, "-e PATH")
	assert.Equal(t, []string{"alpine:3", "/bin/sh", "-c", "make test"}, args[len(args)-4:])

	spec.Config.AllowNetwork = true
	assert.NotContains(t, strings.Join(ContainerArgs(spec, "alpine:3"), " "), "--network none")
}

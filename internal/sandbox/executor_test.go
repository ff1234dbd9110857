//go:build unix

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencode-ai/toolguard/internal/event"
	"github.com/opencode-ai/toolguard/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TimeoutMs = 10_000
	cfg.WallTimeBufferMs = 0
	return cfg
}

func newTestExecutor(cfg Config, opts ...Option) *Executor {
	opts = append([]Option{
		WithKillGrace(200 * time.Millisecond),
		WithBaseEnv(func() map[string]string {
			return map[string]string{"PATH": os.Getenv("PATH"), "HOME": os.Getenv("HOME")}
		}),
	}, opts...)
	return NewExecutor(cfg, SubprocessBackend{}, opts...)
}

func assertRemoved(t *testing.T, dir string) {
	t.Helper()
	require.NotEmpty(t, dir)
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "scratch directory %s still exists", dir)
}

func TestExecutor_Run(t *testing.T) {
	x := newTestExecutor(testConfig())

	res, err := x.Run(context.Background(), Request{Command: "echo hello; echo oops >&2"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeExited, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.False(t, res.Truncated)
	assert.False(t, res.TimedOut)
	assert.Equal(t, BackendSubprocess, res.Backend)
	assert.NotEmpty(t, res.ID)
	assertRemoved(t, res.TempDir)
}

func TestExecutor_NonZeroExitIsNotAnError(t *testing.T) {
	x := newTestExecutor(testConfig())

	res, err := x.Run(context.Background(), Request{Command: "exit 3"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExited, res.Outcome)
	assert.Equal(t, 3, res.ExitCode)
}

func TestExecutor_ScratchDirectoryAndEnv(t *testing.T) {
	x := newTestExecutor(testConfig(), WithBaseEnv(func() map[string]string {
		return map[string]string{
			"PATH":          os.Getenv("PATH"),
			"LD_PRELOAD":    "/x.so",
			"GITHUB_TOKEN":  "ghp_xxx",
			"SSH_AUTH_SOCK": "/tmp/ssh.sock",
		}
	}))

	res, err := x.Run(context.Background(), Request{
		Command: `pwd; echo "$TMPDIR"; env`,
		Env:     map[string]string{"EXTRA": "yes", "API_SECRET": "s"},
	})
	require.NoError(t, err)

	lines := strings.Split(res.Stdout, "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, res.TempDir, lines[0])
	assert.Equal(t, res.TempDir, lines[1])

	assert.Contains(t, res.Stdout, "SSH_AUTH_SOCK=/tmp/ssh.sock")
	assert.Contains(t, res.Stdout, "EXTRA=yes")
	assert.NotContains(t, res.Stdout, "LD_PRELOAD")
	assert.NotContains(t, res.Stdout, "GITHUB_TOKEN")
	assert.NotContains(t, res.Stdout, "API_SECRET")
	assertRemoved(t, res.TempDir)
}

func TestExecutor_WorkDir(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	x := newTestExecutor(testConfig())

	res, err := x.Run(context.Background(), Request{Command: "pwd", Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, dir+"\n", res.Stdout)
}

func TestExecutor_OutputTruncated(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOutputBytes = 16
	x := newTestExecutor(cfg)

	res, err := x.Run(context.Background(), Request{Command: "i=0; while [ $i -lt 200 ]; do echo line-$i; i=$((i+1)); done"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeExited, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.Truncated)
	assert.True(t, strings.HasPrefix(res.Stdout, "line-0\nline-1\nlin"))
	assert.Contains(t, res.Stdout, "[output truncated:")
}

func TestExecutor_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.TimeoutMs = 100
	cfg.WallTimeBufferMs = 50
	x := newTestExecutor(cfg)

	start := time.Now()
	res, err := x.Run(context.Background(), Request{Command: "sleep 30"})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, KindTimeout, KindOf(err))
	require.NotNil(t, res)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
	assertRemoved(t, res.TempDir)
}

func TestExecutor_TimeoutEscalatesToKill(t *testing.T) {
	cfg := testConfig()
	cfg.TimeoutMs = 100
	x := newTestExecutor(cfg)

	start := time.Now()
	res, err := x.Run(context.Background(), Request{Command: "trap '' TERM; sleep 30"})
	require.Error(t, err)

	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecutor_Cancelled(t *testing.T) {
	x := newTestExecutor(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := x.Run(ctx, Request{Command: "sleep 30"})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.False(t, res.TimedOut)
	assertRemoved(t, res.TempDir)
}

func TestExecutor_AlreadyCancelled(t *testing.T) {
	x := newTestExecutor(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := x.Run(ctx, Request{Command: "echo never"})
	assert.Nil(t, res)
	assert.Equal(t, KindCancelled, KindOf(err))
}

func TestExecutor_DiskLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDiskUsageBytes = 1024
	x := newTestExecutor(cfg, WithDiskPollInterval(20*time.Millisecond))

	res, err := x.Run(context.Background(), Request{Command: `head -c 65536 /dev/zero > "$TMPDIR/big"; sleep 30`})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrResourceExceeded)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeResourceExceeded, res.Outcome)
	assertRemoved(t, res.TempDir)
}

func TestExecutor_Validation(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "spawned")
	x := newTestExecutor(testConfig())

	res, err := x.Run(context.Background(), Request{Command: "touch " + marker + " && cat /etc/shadow"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "/etc/shadow")
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "command must not be spawned")

	_, err = x.Run(context.Background(), Request{Command: "   "})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestExecutor_SpawnError(t *testing.T) {
	x := newTestExecutor(testConfig())

	res, err := x.Run(context.Background(), Request{Command: "ls", Dir: "/definitely/not/here"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrSpawn)
	assert.Equal(t, KindSpawn, KindOf(err))
}

func TestExecutor_Concurrent(t *testing.T) {
	x := newTestExecutor(testConfig())

	var wg sync.WaitGroup
	dirs := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := x.Run(context.Background(), Request{Command: "echo ok"})
			if assert.NoError(t, err) {
				assert.Equal(t, "ok\n", res.Stdout)
				dirs <- res.TempDir
			}
		}()
	}
	wg.Wait()
	close(dirs)

	seen := make(map[string]bool)
	for d := range dirs {
		assert.False(t, seen[d], "scratch directory reused: %s", d)
		seen[d] = true
		assertRemoved(t, d)
	}
}

func TestExecutor_AuditAndEvents(t *testing.T) {
	cfg := testConfig()
	cfg.EnableAudit = true
	store := storage.New(t.TempDir())
	bus := event.NewBus()
	defer bus.Close()

	got := make(chan event.Event, 4)
	bus.SubscribeAll(func(e event.Event) { got <- e })

	x := newTestExecutor(cfg, WithAudit(StorageAudit{Storage: store}), WithPublisher(bus))
	res, err := x.Run(context.Background(), Request{ID: "run-1", Command: "exit 2"})
	require.NoError(t, err)

	var rec AuditRecord
	require.NoError(t, store.Get(context.Background(), AuditKey(AuditRecord{ID: "run-1", StartedAt: res.StartedAt}), &rec))
	assert.Equal(t, "exit 2", rec.Command)
	assert.Equal(t, OutcomeExited, rec.Outcome)
	assert.Equal(t, 2, rec.ExitCode)
	assert.Equal(t, "subprocess", rec.Backend)

	types := map[event.EventType]bool{}
	deadline := time.After(2 * time.Second)
	for len(types) < 2 {
		select {
		case e := <-got:
			types[e.Type] = true
		case <-deadline:
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.True(t, types[event.SandboxStarted])
	assert.True(t, types[event.SandboxFinished])
}

func TestExecutor_AuditDisabled(t *testing.T) {
	store := storage.New(t.TempDir())
	x := newTestExecutor(testConfig(), WithAudit(StorageAudit{Storage: store}))

	_, err := x.Run(context.Background(), Request{Command: "true"})
	require.NoError(t, err)

	days, err := store.List(context.Background(), []string{"audit"})
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestExecutor_BackgroundChildIsReaped(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "late")
	x := newTestExecutor(testConfig())

	res, err := x.Run(context.Background(), Request{Command: "(sleep 1; touch " + marker + ") & echo started"})
	require.NoError(t, err)
	assert.Equal(t, "started\n", res.Stdout)

	time.Sleep(1500 * time.Millisecond)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "background child survived the run")
}

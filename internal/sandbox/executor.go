package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/opencode-ai/toolguard/internal/event"
	"github.com/opencode-ai/toolguard/internal/hardening"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultKillGrace is the time between SIGTERM and SIGKILL.
	DefaultKillGrace = 2 * time.Second
	// DefaultDiskPollInterval is how often the scratch directory is measured.
	DefaultDiskPollInterval = 250 * time.Millisecond
	// DefaultTempPrefix names scratch directories.
	DefaultTempPrefix = "toolguard-"
)

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeExited           Outcome = "exited"
	OutcomeTimedOut         Outcome = "timed_out"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeResourceExceeded Outcome = "resource_exceeded"
)

// Request is one command to run.
type Request struct {
	// ID identifies the run in events and audit records. Generated if empty.
	ID      string
	Command string
	// Dir is the working directory. Empty runs in the scratch directory.
	Dir string
	// Env is layered over the base environment before sanitizing.
	Env map[string]string
}

// Result describes a finished run. A non-zero exit code is not an error.
type Result struct {
	ID        string        `json:"id"`
	Outcome   Outcome       `json:"outcome"`
	ExitCode  int           `json:"exitCode"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Truncated bool          `json:"truncated"`
	TimedOut  bool          `json:"timedOut"`
	Duration  time.Duration `json:"duration"`
	Backend   BackendKind   `json:"backend"`
	TempDir   string        `json:"tempDir"`
	StartedAt time.Time     `json:"startedAt"`
}

// Executor runs commands through a backend with a scrubbed environment, a
// private scratch directory and output, time and disk ceilings. It is safe
// for concurrent use; runs share nothing.
type Executor struct {
	cfg        Config
	backend    Backend
	enforcer   hardening.Enforcer
	audit      AuditSink
	publisher  event.Publisher
	logger     zerolog.Logger
	killGrace  time.Duration
	diskPoll   time.Duration
	baseEnv    func() map[string]string
	tempPrefix string
}

// NewExecutor creates an executor. A nil backend runs commands as plain
// subprocesses.
func NewExecutor(cfg Config, backend Backend, opts ...Option) *Executor {
	if backend == nil {
		backend = SubprocessBackend{}
	}
	x := &Executor{
		cfg:        cfg,
		backend:    backend,
		enforcer:   hardening.NopEnforcer{},
		logger:     zerolog.Nop(),
		killGrace:  DefaultKillGrace,
		diskPoll:   DefaultDiskPollInterval,
		baseEnv:    func() map[string]string { return hardening.Environ(os.Environ()) },
		tempPrefix: DefaultTempPrefix,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Config returns the executor's configuration.
func (x *Executor) Config() Config { return x.cfg }

// Backend returns the executor's backend.
func (x *Executor) Backend() Backend { return x.backend }

// Run executes req and blocks until it reaches a terminal outcome.
//
// Validation and spawn failures return a nil Result and an *Error. Timeout,
// cancellation and exceeded disk usage return the partial Result together
// with an *Error of the matching kind. The scratch directory is removed
// before Run returns on every path.
func (x *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	id := req.ID
	if id == "" {
		id = ulid.Make().String()
	}
	if strings.TrimSpace(req.Command) == "" {
		return nil, newError(KindValidation, "run", req.Command, errors.New("empty command"))
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindCancelled, "run", req.Command, err)
	}

	tmp, err := hardening.CreateTempDir(x.tempPrefix)
	if err != nil {
		return nil, newError(KindSpawn, "tempdir", req.Command, err)
	}
	defer func() {
		if err := tmp.Cleanup(); err != nil {
			x.logger.Warn().Err(err).Str("id", id).Str("dir", tmp.Path).Msg("failed to remove scratch directory")
		}
	}()

	if word, pattern, hit := deniedPathHit(req.Command, req.Dir, x.cfg.DeniedPaths); hit {
		return nil, newError(KindValidation, "run", req.Command,
			fmt.Errorf("access to %s is denied (%s)", word, pattern))
	}

	cmd, err := x.backend.Command(Spec{
		Command: req.Command,
		Dir:     req.Dir,
		TempDir: tmp.Path,
		Env:     x.environment(req.Env, tmp.Path),
		Config:  x.cfg,
	})
	if err != nil {
		return nil, newError(KindSpawn, "build", req.Command, err)
	}
	setupProcessGroup(cmd)
	if err := x.enforcer.DropPrivileges(cmd); err != nil {
		x.logger.Warn().Err(err).Str("id", id).Msg("privilege drop failed")
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, newError(KindSpawn, "pipe", req.Command, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, newError(KindSpawn, "pipe", req.Command, err)
	}
	defer stdoutR.Close()
	defer stderrR.Close()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startedAt := time.Now()
	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		return nil, newError(KindSpawn, "start", req.Command, err)
	}

	if err := x.enforcer.SetResourceLimits(cmd.Process.Pid, x.cfg.Limits()); err != nil {
		x.logger.Warn().Err(err).Str("id", id).Msg("resource limits not applied")
	}
	x.logger.Debug().Str("id", id).Str("backend", string(x.backend.Kind())).Int("pid", cmd.Process.Pid).Msg("sandbox started")
	x.publish(event.Event{Type: event.SandboxStarted, Data: event.SandboxStartedData{
		ID:      id,
		Command: req.Command,
		Backend: string(x.backend.Kind()),
		PID:     cmd.Process.Pid,
	}})

	stdout := newLimitedBuffer(x.cfg.MaxOutputBytes)
	stderr := newLimitedBuffer(x.cfg.MaxOutputBytes)
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(stdout, stdoutR)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(stderr, stderrR)
		return err
	})
	pumped := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(pumped)
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	outcome, waitErr, cause := x.supervise(ctx, cmd, tmp, waitCh)

	// Reap anything the command left running in its group.
	_ = killGroup(cmd)
	select {
	case <-pumped:
	case <-time.After(x.killGrace):
		// A process outside the group still holds the pipes.
		stdoutR.Close()
		stderrR.Close()
		<-pumped
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		x.logger.Warn().Err(waitErr).Str("id", id).Msg("wait failed")
	}
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	res := &Result{
		ID:        id,
		Outcome:   outcome,
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		TimedOut:  outcome == OutcomeTimedOut,
		Duration:  time.Since(startedAt),
		Backend:   x.backend.Kind(),
		TempDir:   tmp.Path,
		StartedAt: startedAt,
	}

	var runErr error
	switch outcome {
	case OutcomeTimedOut:
		runErr = newError(KindTimeout, "run", req.Command, cause)
	case OutcomeCancelled:
		runErr = newError(KindCancelled, "run", req.Command, cause)
	case OutcomeResourceExceeded:
		runErr = newError(KindResourceExceeded, "run", req.Command, cause)
	}

	x.finish(ctx, req, res, runErr)
	return res, runErr
}

// supervise waits for the first of: exit, wall-clock timeout, cancellation,
// or disk usage over the limit. The timer and ticker are released before it
// returns.
func (x *Executor) supervise(ctx context.Context, cmd *exec.Cmd, tmp *hardening.TempDir, waitCh <-chan error) (Outcome, error, error) {
	wall := x.cfg.WallTime()
	timer := time.NewTimer(wall)
	defer timer.Stop()

	var diskC <-chan time.Time
	if x.cfg.MaxDiskUsageBytes > 0 && x.diskPoll > 0 {
		ticker := time.NewTicker(x.diskPoll)
		defer ticker.Stop()
		diskC = ticker.C
	}

	for {
		select {
		case err := <-waitCh:
			return OutcomeExited, err, nil
		case <-timer.C:
			return OutcomeTimedOut, x.stop(cmd, waitCh), fmt.Errorf("exceeded wall time of %s", wall)
		case <-ctx.Done():
			return OutcomeCancelled, x.stop(cmd, waitCh), ctx.Err()
		case <-diskC:
			size, err := tmp.Size()
			if err != nil || size <= x.cfg.MaxDiskUsageBytes {
				continue
			}
			return OutcomeResourceExceeded, x.stop(cmd, waitCh),
				fmt.Errorf("disk usage %d bytes exceeds limit of %d", size, x.cfg.MaxDiskUsageBytes)
		}
	}
}

// stop terminates the process group, escalating to SIGKILL after the grace
// period, and returns the wait result.
func (x *Executor) stop(cmd *exec.Cmd, waitCh <-chan error) error {
	_ = terminateGroup(cmd)
	grace := time.NewTimer(x.killGrace)
	defer grace.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-grace.C:
	}
	_ = killGroup(cmd)
	return <-waitCh
}

func (x *Executor) environment(extra map[string]string, tmp string) []string {
	base := x.baseEnv()
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	env := hardening.SanitizeEnvironment(merged)
	env["TMPDIR"] = tmp
	env["TMP"] = tmp
	env["TEMP"] = tmp
	return hardening.ToList(env)
}

func (x *Executor) finish(ctx context.Context, req Request, res *Result, runErr error) {
	l := x.logger.Debug()
	if runErr != nil {
		l = x.logger.Info().Err(runErr)
	}
	l.Str("id", res.ID).Str("outcome", string(res.Outcome)).Int("exit", res.ExitCode).
		Dur("duration", res.Duration).Msg("sandbox finished")

	x.publish(event.Event{Type: event.SandboxFinished, Data: event.SandboxFinishedData{
		ID:        res.ID,
		Outcome:   string(res.Outcome),
		ExitCode:  res.ExitCode,
		Truncated: res.Truncated,
		Duration:  res.Duration,
	}})

	if !x.cfg.EnableAudit || x.audit == nil {
		return
	}
	rec := AuditRecord{
		ID:         res.ID,
		Command:    req.Command,
		Dir:        req.Dir,
		Backend:    string(res.Backend),
		Outcome:    res.Outcome,
		ExitCode:   res.ExitCode,
		Truncated:  res.Truncated,
		DurationMs: res.Duration.Milliseconds(),
		StartedAt:  res.StartedAt,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := x.audit.WriteAudit(context.WithoutCancel(ctx), rec); err != nil {
		x.logger.Warn().Err(err).Str("id", res.ID).Msg("failed to write audit record")
	}
}

func (x *Executor) publish(e event.Event) {
	if x.publisher != nil {
		x.publisher.Publish(e)
	}
}

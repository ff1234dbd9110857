package sandbox

import (
	"time"

	"github.com/opencode-ai/toolguard/internal/event"
	"github.com/opencode-ai/toolguard/internal/hardening"
	"github.com/rs/zerolog"
)

// Option configures an Executor.
type Option func(*Executor)

// WithEnforcer sets the privilege and resource-limit enforcer.
func WithEnforcer(e hardening.Enforcer) Option {
	return func(x *Executor) { x.enforcer = e }
}

// WithAudit sets where audit records go when Config.EnableAudit is set.
func WithAudit(sink AuditSink) Option {
	return func(x *Executor) { x.audit = sink }
}

// WithPublisher publishes sandbox.started and sandbox.finished events.
func WithPublisher(p event.Publisher) Option {
	return func(x *Executor) { x.publisher = p }
}

// WithLogger sets the executor's logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

// WithKillGrace sets the delay between SIGTERM and SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(x *Executor) { x.killGrace = d }
}

// WithDiskPollInterval sets how often the scratch directory is measured.
func WithDiskPollInterval(d time.Duration) Option {
	return func(x *Executor) { x.diskPoll = d }
}

// WithBaseEnv replaces the environment the child starts from, which
// defaults to the current process environment. It is sanitized either way.
func WithBaseEnv(fn func() map[string]string) Option {
	return func(x *Executor) { x.baseEnv = fn }
}

// WithTempPrefix sets the name prefix of scratch directories.
func WithTempPrefix(prefix string) Option {
	return func(x *Executor) { x.tempPrefix = prefix }
}

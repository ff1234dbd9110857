package commands

import (
	"github.com/opencode-ai/toolguard/internal/config"
	"github.com/opencode-ai/toolguard/internal/event"
	"github.com/opencode-ai/toolguard/internal/gate"
	"github.com/opencode-ai/toolguard/internal/hardening"
	"github.com/opencode-ai/toolguard/internal/logging"
	"github.com/opencode-ai/toolguard/internal/permission"
	"github.com/opencode-ai/toolguard/internal/policy"
	"github.com/opencode-ai/toolguard/internal/sandbox"
	"github.com/opencode-ai/toolguard/internal/storage"
)

// buildPolicy returns the configured evaluator. A policy file is watched and
// reloads are published on bus; stop must be called when done.
func buildPolicy(cfg *config.Config, bus *event.Bus) (policy.Evaluator, func(), error) {
	if cfg.Policy.File == "" {
		engine, err := cfg.Engine()
		if err != nil {
			return nil, nil, err
		}
		return engine, func() {}, nil
	}

	w, err := policy.NewWatcher(cfg.Policy.File, logging.Component("policy"))
	if err != nil {
		return nil, nil, err
	}
	if bus != nil {
		w.OnReload = func(e *policy.Engine) {
			bus.Publish(event.Event{
				Type: event.PolicyReloaded,
				Data: event.PolicyReloadedData{Path: cfg.Policy.File, Rules: len(e.Rules())},
			})
		}
		w.OnError = func(err error) {
			bus.Publish(event.Event{
				Type: event.PolicyReloaded,
				Data: event.PolicyReloadedData{Path: cfg.Policy.File, Error: err.Error()},
			})
		}
	}
	w.Start()
	return w, func() { w.Stop() }, nil
}

// buildGate wires every component from cfg. bus may be nil.
func buildGate(cfg *config.Config, bus *event.Bus) (*gate.Gate, func(), error) {
	evaluator, stop, err := buildPolicy(cfg, bus)
	if err != nil {
		return nil, nil, err
	}

	backend, err := sandbox.NewBackend(cfg.Sandbox.Backend, cfg.Sandbox)
	if err != nil {
		stop()
		return nil, nil, err
	}

	execOpts := []sandbox.Option{sandbox.WithLogger(logging.Component("sandbox"))}
	regOpts := []permission.Option{permission.WithLogger(logging.Component("permission"))}
	if bus != nil {
		execOpts = append(execOpts, sandbox.WithPublisher(bus))
		regOpts = append(regOpts, permission.WithPublisher(bus))
	}
	if enforceLimits {
		execOpts = append(execOpts, sandbox.WithEnforcer(hardening.RlimitEnforcer{}))
	}
	if cfg.Sandbox.EnableAudit {
		paths := config.GetPaths()
		if err := paths.EnsurePaths(); err != nil {
			stop()
			return nil, nil, err
		}
		execOpts = append(execOpts, sandbox.WithAudit(sandbox.StorageAudit{
			Storage: storage.New(paths.StoragePath()),
		}))
	}

	logger := logging.Component("gate")
	g := &gate.Gate{
		Policy:      evaluator,
		Registry:    permission.NewRegistry(regOpts...),
		Approvals:   permission.NewApprovals(),
		Executor:    sandbox.NewExecutor(cfg.Sandbox, backend, execOpts...),
		AskContext:  cfg.AskContext(),
		AllowedRoot: cfg.Server.AllowedRoot,
		Logger:      &logger,
	}
	return g, stop, nil
}

// Package gate runs one tool call through the whole decision pipeline:
// input validation, the security check, human approval when policy asks for
// it, and finally the sandboxed executor.
package gate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/opencode-ai/toolguard/internal/detector"
	"github.com/opencode-ai/toolguard/internal/permission"
	"github.com/opencode-ai/toolguard/internal/policy"
	"github.com/opencode-ai/toolguard/internal/sandbox"
	"github.com/opencode-ai/toolguard/internal/sanitize"
	"github.com/opencode-ai/toolguard/internal/security"
	"github.com/rs/zerolog"
)

// Status is the terminal state of a call.
type Status string

const (
	StatusExecuted         Status = "executed"
	StatusInvalid          Status = "invalid"
	StatusForbidden        Status = "forbidden"
	StatusRejected         Status = "rejected"
	StatusApprovalTimeout  Status = "approval_timeout"
	StatusCancelled        Status = "cancelled"
	StatusTimedOut         Status = "timed_out"
	StatusResourceExceeded Status = "resource_exceeded"
)

// ToolName is reported in permission metadata.
const ToolName = "bash"

// Call is one shell tool invocation.
type Call struct {
	SessionID string            `json:"sessionID"`
	MessageID string            `json:"messageID"`
	CallID    string            `json:"callID"`
	Command   string            `json:"command"`
	WorkDir   string            `json:"workDir,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Outcome reports what happened to a call. Every status other than executed
// carries a reason.
type Outcome struct {
	Status     Status                 `json:"status"`
	Reason     string                 `json:"reason,omitempty"`
	Check      *security.Result       `json:"check,omitempty"`
	Resolution *permission.Resolution `json:"resolution,omitempty"`
	// Remembered is set when an earlier "always" approved the call.
	Remembered bool            `json:"remembered,omitempty"`
	Exec       *sandbox.Result `json:"exec,omitempty"`
}

// Gate wires the pipeline together. Detector, Policy and Approvals are
// optional; Registry is needed only when policy asks, Executor always.
type Gate struct {
	Detector  security.Scanner
	Policy    policy.Evaluator
	Registry  *permission.Registry
	Approvals *permission.Approvals
	Executor  *sandbox.Executor
	// AskContext bounds every approval wait.
	AskContext permission.AskContext
	// AllowedRoot confines Call.WorkDir when set.
	AllowedRoot string
	Logger      *zerolog.Logger
}

var emptyPolicy = policy.MustEngine(nil)

// Check returns the security verdict for command without running anything.
func (g *Gate) Check(command string) security.Result {
	var scanner security.Scanner = detector.Default()
	if g.Detector != nil {
		scanner = g.Detector
	}
	var evaluator policy.Evaluator = emptyPolicy
	if g.Policy != nil {
		evaluator = g.Policy
	}
	return security.Check(command, evaluator, scanner)
}

// Execute decides on call and runs it when allowed. Refusals are reported
// through Outcome.Status; the error is non-nil only when the executor failed
// for reasons unrelated to the call itself, such as a spawn failure.
func (g *Gate) Execute(ctx context.Context, call Call) (Outcome, error) {
	log := g.logger().With().Str("session", call.SessionID).Str("call", call.CallID).Logger()

	dir, reason := g.validate(call)
	if reason != "" {
		log.Debug().Str("reason", reason).Msg("call rejected as invalid")
		return Outcome{Status: StatusInvalid, Reason: reason}, nil
	}

	check := g.Check(call.Command)
	out := Outcome{Check: &check, Reason: check.Reason}
	if !check.Allowed {
		log.Info().Str("command", call.Command).Str("reason", check.Reason).Msg("call forbidden")
		out.Status = StatusForbidden
		return out, nil
	}

	if check.Decision() == policy.DecisionPrompt {
		if status, reason := g.approve(ctx, call, &out); status != "" {
			out.Status, out.Reason = status, reason
			log.Info().Str("command", call.Command).Str("status", string(status)).Msg("call not approved")
			return out, nil
		}
	}

	if g.Executor == nil {
		return out, errors.New("gate: no executor configured")
	}
	res, err := g.Executor.Run(ctx, sandbox.Request{
		ID:      call.CallID,
		Command: call.Command,
		Dir:     dir,
		Env:     call.Env,
	})
	out.Exec = res
	if err == nil {
		out.Status = StatusExecuted
		return out, nil
	}

	switch sandbox.KindOf(err) {
	case sandbox.KindValidation:
		out.Status, out.Reason = StatusInvalid, err.Error()
	case sandbox.KindCancelled:
		out.Status, out.Reason = StatusCancelled, err.Error()
	case sandbox.KindTimeout:
		out.Status, out.Reason = StatusTimedOut, err.Error()
	case sandbox.KindResourceExceeded:
		out.Status, out.Reason = StatusResourceExceeded, err.Error()
	default:
		log.Error().Err(err).Str("command", call.Command).Msg("execution failed")
		return out, err
	}
	return out, nil
}

// validate returns the working directory to run in, or a reason the call is
// malformed.
func (g *Gate) validate(call Call) (string, string) {
	if strings.TrimSpace(call.Command) == "" {
		return "", "empty command"
	}
	if strings.ContainsRune(call.Command, 0) {
		return "", "command contains a NUL byte"
	}
	if call.WorkDir == "" {
		return g.AllowedRoot, ""
	}
	if g.AllowedRoot == "" {
		return call.WorkDir, ""
	}
	if !sanitize.ValidatePath(call.WorkDir, g.AllowedRoot) {
		return "", "working directory is outside the allowed root"
	}
	if filepath.IsAbs(call.WorkDir) {
		return call.WorkDir, ""
	}
	return filepath.Join(g.AllowedRoot, call.WorkDir), ""
}

// approve waits for a human decision. It returns an empty status when the
// call may proceed.
func (g *Gate) approve(ctx context.Context, call Call, out *Outcome) (Status, string) {
	if g.Approvals != nil && g.Approvals.Covers(call.SessionID, call.Command) {
		out.Remembered = true
		return "", ""
	}
	if g.Registry == nil {
		return StatusRejected, "approval required but no approver is configured"
	}

	_, ch := g.Registry.RequestConfirmation(ctx, permission.Info{
		Type:      permission.PermBash,
		SessionID: call.SessionID,
		MessageID: call.MessageID,
		CallID:    call.CallID,
		Title:     call.Command,
		Metadata: permission.Metadata{
			ToolName: ToolName,
			Params:   map[string]any{"command": call.Command, "workDir": call.WorkDir},
		},
	}, g.AskContext)
	res := <-ch
	out.Resolution = &res

	switch {
	case res.Approved():
		if res.Response == permission.ResponseAlways && g.Approvals != nil {
			g.Approvals.Remember(call.SessionID, call.Command)
		}
		return "", ""
	case !res.Undetermined:
		return StatusRejected, "Permission rejected by user"
	case ctx.Err() != nil:
		return StatusCancelled, "Permission request cancelled"
	case res.TimedOut() && g.AskContext.AutoAllowOnTimeout:
		return "", ""
	default:
		return StatusApprovalTimeout, "Permission request timed out"
	}
}

func (g *Gate) logger() *zerolog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

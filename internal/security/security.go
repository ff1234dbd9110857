// Package security combines dangerous-pattern detection with policy
// evaluation into a single verdict.
//
// Critical detections are a hard ceiling: they forbid the command no matter
// what the policy says. Everything below that ceiling is up to the policy.
package security

import (
	"github.com/opencode-ai/toolguard/internal/detector"
	"github.com/opencode-ai/toolguard/internal/policy"
)

// DefaultDangerReason is used when a critical match carries no description.
const DefaultDangerReason = "Dangerous pattern detected"

// Scanner detects dangerous patterns. *detector.Detector implements it.
type Scanner interface {
	Detect(command string) detector.Result
}

// Result is the combined verdict for one command.
type Result struct {
	Allowed   bool            `json:"allowed"`
	Policy    policy.Result   `json:"policyResult"`
	Detection detector.Result `json:"detectionResult"`
	Reason    string          `json:"reason"`
}

// Decision returns the effective policy decision.
func (r Result) Decision() policy.Decision {
	return r.Policy.Decision
}

// Check evaluates command. A nil scanner uses detector.Default.
func Check(command string, evaluator policy.Evaluator, scanner Scanner) Result {
	if scanner == nil {
		scanner = detector.Default()
	}
	detection := scanner.Detect(command)

	if critical, ok := detection.FirstCritical(); ok {
		reason := critical.Description
		if reason == "" {
			reason = DefaultDangerReason
		}
		return Result{
			Allowed: false,
			Policy: policy.Result{
				Decision: policy.DecisionForbidden,
				Command:  command,
			},
			Detection: detection,
			Reason:    reason,
		}
	}

	res := evaluator.Evaluate(command)
	return Result{
		Allowed:   res.Decision != policy.DecisionForbidden,
		Policy:    res,
		Detection: detection,
		Reason:    res.Reason,
	}
}

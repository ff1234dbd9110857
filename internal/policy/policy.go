// Package policy evaluates shell commands against an ordered list of rules.
//
// Each rule pairs a regular expression with a decision. The first rule whose
// pattern matches wins. When nothing matches the engine answers "prompt": an
// unclassified command is never silently allowed.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Decision is the outcome of evaluating a command.
type Decision string

const (
	DecisionAllow     Decision = "allow"
	DecisionPrompt    Decision = "prompt"
	DecisionForbidden Decision = "forbidden"
)

// NoMatchReason is reported when no rule matched.
const NoMatchReason = "No policy rule matched"

// ParseDecision parses a decision name, case-insensitively. The permission
// vocabulary "ask" and "deny" is accepted as an alias for prompt and forbidden.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return DecisionAllow, nil
	case "prompt", "ask":
		return DecisionPrompt, nil
	case "forbidden", "deny":
		return DecisionForbidden, nil
	default:
		return "", fmt.Errorf("invalid decision %q: must be allow, prompt, or forbidden", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decision) UnmarshalText(text []byte) error {
	parsed, err := ParseDecision(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Rule is one ordered policy entry.
type Rule struct {
	Name     string   `json:"name" yaml:"name"`
	Pattern  string   `json:"pattern" yaml:"pattern"`
	Decision Decision `json:"decision" yaml:"decision"`
	Reason   string   `json:"reason" yaml:"reason"`

	re *regexp.Regexp
}

// Matches reports whether the rule's pattern matches command. It is false
// for rules that were not compiled by NewEngine.
func (r *Rule) Matches(command string) bool {
	return r.re != nil && r.re.MatchString(command)
}

// Result is the outcome of Evaluate. MatchedRule is nil when no rule matched.
type Result struct {
	Decision    Decision `json:"decision"`
	MatchedRule *Rule    `json:"matchedRule"`
	Reason      string   `json:"reason"`
	Command     string   `json:"command"`
}

// Evaluator classifies a command. *Engine and *Watcher implement it.
type Evaluator interface {
	Evaluate(command string) Result
}

// Engine evaluates commands against compiled rules. It is immutable after
// construction and safe for concurrent use.
type Engine struct {
	rules []Rule
}

// NewEngine compiles rules, preserving their order.
func NewEngine(rules []Rule) (*Engine, error) {
	compiled := make([]Rule, 0, len(rules))
	for i, r := range rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
			r.Name = name
		}
		d, err := ParseDecision(string(r.Decision))
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", name, err)
		}
		r.Decision = d
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid pattern: %w", name, err)
		}
		r.re = re
		compiled = append(compiled, r)
	}
	return &Engine{rules: compiled}, nil
}

// MustEngine is like NewEngine but panics on invalid rules.
func MustEngine(rules []Rule) *Engine {
	e, err := NewEngine(rules)
	if err != nil {
		panic(err)
	}
	return e
}

// Rules returns a copy of the engine's rules in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate returns the decision of the first matching rule, or prompt.
func (e *Engine) Evaluate(command string) Result {
	for i := range e.rules {
		rule := e.rules[i]
		if rule.re.MatchString(command) {
			return Result{
				Decision:    rule.Decision,
				MatchedRule: &rule,
				Reason:      rule.Reason,
				Command:     command,
			}
		}
	}
	return Result{
		Decision: DecisionPrompt,
		Reason:   NoMatchReason,
		Command:  command,
	}
}

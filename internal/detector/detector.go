// Package detector scans shell command strings for known hazardous idioms.
//
// A Detector holds an ordered table of (regex, severity, description)
// entries. Detect evaluates every entry and reports all of them that match,
// so callers can present every hazard rather than only the first. Detectors
// are immutable after construction and safe for concurrent use.
package detector

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Severity ranks how hazardous a matched idiom is.
type Severity string

const (
	// SeverityCritical matches are blocked unconditionally downstream.
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// rank orders severities for comparison; unknown values rank lowest.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	return s.rank() > 0
}

// Pattern is one entry of the detection table.
type Pattern struct {
	Expr        string   `json:"pattern" yaml:"pattern"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Description string   `json:"description" yaml:"description"`

	re *regexp.Regexp
}

// PatternMatch describes a table entry that matched a command.
type PatternMatch struct {
	Pattern     string   `json:"pattern"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Result is the outcome of Detect. Dangerous is true exactly when Matches is
// non-empty.
type Result struct {
	Dangerous bool           `json:"dangerous"`
	Matches   []PatternMatch `json:"matches"`
}

// FirstCritical returns the first critical match in table order.
func (r Result) FirstCritical() (PatternMatch, bool) {
	for _, m := range r.Matches {
		if m.Severity == SeverityCritical {
			return m, true
		}
	}
	return PatternMatch{}, false
}

// HasCritical reports whether any match is critical.
func (r Result) HasCritical() bool {
	_, ok := r.FirstCritical()
	return ok
}

// Highest returns the most severe matched severity, or "" when nothing matched.
func (r Result) Highest() Severity {
	var best Severity
	for _, m := range r.Matches {
		if m.Severity.rank() > best.rank() {
			best = m.Severity
		}
	}
	return best
}

// Detector matches commands against an ordered pattern table.
type Detector struct {
	patterns []Pattern
}

// New compiles patterns into a Detector. Order is preserved.
func New(patterns []Pattern) (*Detector, error) {
	compiled := make([]Pattern, 0, len(patterns))
	for i, p := range patterns {
		if !p.Severity.Valid() {
			return nil, fmt.Errorf("pattern %d (%s): invalid severity %q", i, p.Description, p.Severity)
		}
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %d (%s): %w", i, p.Description, err)
		}
		p.re = re
		compiled = append(compiled, p)
	}
	return &Detector{patterns: compiled}, nil
}

// MustNew is like New but panics on an invalid table.
func MustNew(patterns []Pattern) *Detector {
	d, err := New(patterns)
	if err != nil {
		panic(err)
	}
	return d
}

var defaultDetector = sync.OnceValue(func() *Detector {
	return MustNew(DefaultPatterns())
})

// Default returns a shared Detector built from DefaultPatterns.
func Default() *Detector {
	return defaultDetector()
}

// Patterns returns a copy of the table.
func (d *Detector) Patterns() []Pattern {
	out := make([]Pattern, len(d.patterns))
	copy(out, d.patterns)
	return out
}

// Detect evaluates every pattern against command and returns all matches in
// table order. When the command parses as shell, a normalized rendering with
// literal quoting removed is scanned too; each entry is reported once.
func (d *Detector) Detect(command string) Result {
	candidates := []string{command}
	if normalized, ok := Normalize(command); ok && normalized != command {
		candidates = append(candidates, normalized)
	}

	matches := make([]PatternMatch, 0)
	for _, p := range d.patterns {
		for _, c := range candidates {
			if p.re.MatchString(c) {
				matches = append(matches, PatternMatch{
					Pattern:     p.Expr,
					Severity:    p.Severity,
					Description: p.Description,
				})
				break
			}
		}
	}

	return Result{
		Dangerous: len(matches) > 0,
		Matches:   matches,
	}
}

// Summary renders matches as "severity: description" lines.
func (r Result) Summary() string {
	lines := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		lines = append(lines, string(m.Severity)+": "+m.Description)
	}
	return strings.Join(lines, "\n")
}

package permission

import (
	"sort"
	"strings"
	"sync"
)

// MatchPattern checks if a command matches a bash permission pattern.
//
//	"*"              any command
//	"git commit *"   git commit with any further arguments
//	"git * main"     a single word wildcard in the middle
//	"ls -la"         exactly this command line
func MatchPattern(pattern string, cmd BashCommand) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "*" {
		return true
	}
	words := cmd.Words()
	prefix, open := strings.CutSuffix(pattern, " *")
	parts := strings.Fields(prefix)
	if len(parts) == 0 || len(parts) > len(words) {
		return false
	}
	if !open && len(parts) != len(words) {
		return false
	}
	for i, part := range parts {
		if part != "*" && part != words[i] {
			return false
		}
	}
	return true
}

// BuildPattern creates the pattern remembered when cmd is approved "always".
// For "git commit -m msg" it returns "git commit *"; a command whose first
// argument is a flag, such as "ls -la", is remembered exactly.
func BuildPattern(cmd BashCommand) string {
	if cmd.Subcommand != "" {
		return cmd.Name + " " + cmd.Subcommand + " *"
	}
	return cmd.String()
}

// WritePattern is the pattern that approves writing target through a
// redirection. "> *" approves any target.
func WritePattern(target string) string {
	return "> " + target
}

// BuildPatterns creates patterns for multiple commands and the files they
// write, without duplicates.
func BuildPatterns(commands []BashCommand) []string {
	seen := make(map[string]bool)
	var patterns []string
	add := func(pattern string) {
		if !seen[pattern] {
			seen[pattern] = true
			patterns = append(patterns, pattern)
		}
	}
	for _, cmd := range commands {
		if cmd.Name != "" {
			add(BuildPattern(cmd))
		}
		for _, target := range cmd.Writes {
			add(WritePattern(target))
		}
	}
	return patterns
}

// Approvals remembers "always" decisions per session.
type Approvals struct {
	mu       sync.RWMutex
	patterns map[string]map[string]bool // sessionID -> pattern
}

// NewApprovals creates an empty approval memory.
func NewApprovals() *Approvals {
	return &Approvals{patterns: make(map[string]map[string]bool)}
}

// Remember approves the shape of every command in command line for the
// session and returns the patterns added. A line that does not parse is not
// remembered.
func (a *Approvals) Remember(sessionID, command string) []string {
	commands, err := ParseBashCommand(command)
	if err != nil || len(commands) == 0 {
		return nil
	}
	patterns := BuildPatterns(commands)
	for _, p := range patterns {
		a.Approve(sessionID, p)
	}
	return patterns
}

// Approve explicitly approves a pattern for a session.
func (a *Approvals) Approve(sessionID, pattern string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.patterns[sessionID] == nil {
		a.patterns[sessionID] = make(map[string]bool)
	}
	a.patterns[sessionID][pattern] = true
}

// Covers reports whether every command in the line matches a pattern
// approved for the session and every file written through a redirection
// was approved as a write target.
func (a *Approvals) Covers(sessionID, command string) bool {
	commands, err := ParseBashCommand(command)
	if err != nil || len(commands) == 0 {
		return false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	approved := a.patterns[sessionID]
	if len(approved) == 0 {
		return false
	}
	for _, cmd := range commands {
		if cmd.Name != "" && !coveredCommand(approved, cmd) {
			return false
		}
		for _, target := range cmd.Writes {
			if !approved[WritePattern(target)] && !approved[WritePattern("*")] {
				return false
			}
		}
	}
	return true
}

func coveredCommand(approved map[string]bool, cmd BashCommand) bool {
	for p := range approved {
		if !strings.HasPrefix(p, ">") && MatchPattern(p, cmd) {
			return true
		}
	}
	return false
}

// Patterns lists the session's approved patterns in order.
func (a *Approvals) Patterns(sessionID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.patterns[sessionID]))
	for p := range a.patterns[sessionID] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ClearSession clears all approvals for a session.
func (a *Approvals) ClearSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.patterns, sessionID)
}

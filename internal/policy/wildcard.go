package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// wildcardTail matches the arguments a trailing "*" may stand for. Shell
// control operators are excluded so that an allowed "git *" cannot be
// stretched over "git status && rm -rf x".
const wildcardTail = "(?:\\s[^;&|\\n`$()<>]*)?"

// wildcardWord matches one argument in the middle of a pattern.
const wildcardWord = "[^\\s;&|`$()<>]+"

// FromWildcards converts bash permission patterns such as "git commit *",
// "git *", "ls" and "*" into anchored rules. Rules are ordered most specific
// first: more literal words, then a trailing wildcard before an exact match,
// then lexically.
func FromWildcards(patterns map[string]Decision) ([]Rule, error) {
	keys := make([]string, 0, len(patterns))
	for k := range patterns {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := literalWords(keys[i]), literalWords(keys[j])
		if li != lj {
			return li > lj
		}
		wi, wj := strings.HasSuffix(keys[i], "*"), strings.HasSuffix(keys[j], "*")
		if wi != wj {
			return wi
		}
		return keys[i] < keys[j]
	})

	rules := make([]Rule, 0, len(keys))
	for _, k := range keys {
		decision, err := ParseDecision(string(patterns[k]))
		if err != nil {
			return nil, fmt.Errorf("wildcard %q: %w", k, err)
		}
		rules = append(rules, Rule{
			Name:     "wildcard:" + k,
			Pattern:  WildcardToRegexp(k),
			Decision: decision,
			Reason:   fmt.Sprintf("Matched permission pattern %q", k),
		})
	}
	return rules, nil
}

// WildcardToRegexp translates a space-separated wildcard pattern into an
// anchored regular expression.
func WildcardToRegexp(pattern string) string {
	parts := strings.Fields(pattern)
	if len(parts) == 0 {
		return "^$"
	}
	if len(parts) == 1 && parts[0] == "*" {
		return "^\\s*[^;&|\\n`$()<>]*$"
	}

	var sb strings.Builder
	sb.WriteString("^\\s*")
	for i, p := range parts {
		last := i == len(parts)-1
		switch {
		case p == "*" && last:
			sb.WriteString(wildcardTail)
		case p == "*":
			if i > 0 {
				sb.WriteString("\\s+")
			}
			sb.WriteString(wildcardWord)
		default:
			if i > 0 {
				sb.WriteString("\\s+")
			}
			sb.WriteString(regexp.QuoteMeta(p))
		}
	}
	sb.WriteString("\\s*$")
	return sb.String()
}

func literalWords(pattern string) int {
	n := 0
	for _, p := range strings.Fields(pattern) {
		if p != "*" {
			n++
		}
	}
	return n
}

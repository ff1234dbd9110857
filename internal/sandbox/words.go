package sandbox

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"mvdan.cc/sh/v3/syntax"
)

// commandWords returns the literal text of every word in command: program
// names, arguments, assignment values and redirect targets. Expansions
// contribute nothing. If command does not parse, it is split on whitespace.
func commandWords(command string) []string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return strings.Fields(command)
	}

	var words []string
	syntax.Walk(file, func(node syntax.Node) bool {
		if w, ok := node.(*syntax.Word); ok {
			if lit := wordLiteral(w); lit != "" {
				words = append(words, lit)
			}
		}
		return true
	})
	return words
}

func wordLiteral(w *syntax.Word) string {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescapeLit(p.Value))
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				if lit, ok := inner.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		}
	}
	return sb.String()
}

func unescapeLit(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// deniedPathHit returns the first word of command that refers to a denied
// path, and the pattern it matched. Relative words are resolved against dir.
func deniedPathHit(command, dir string, patterns []string) (word, pattern string, hit bool) {
	if len(patterns) == 0 {
		return "", "", false
	}
	for _, w := range commandWords(command) {
		for _, candidate := range pathCandidates(w, dir) {
			for _, p := range patterns {
				if ok, _ := doublestar.PathMatch(p, candidate); ok {
					return w, p, true
				}
			}
		}
	}
	return "", "", false
}

// pathCandidates yields the cleaned path a word may name, including the
// value part of --flag=value and KEY=value words.
func pathCandidates(word, dir string) []string {
	raw := []string{word}
	if _, v, ok := strings.Cut(word, "="); ok && v != "" {
		raw = append(raw, v)
	}

	var out []string
	for _, r := range raw {
		if r == "" || strings.HasPrefix(r, "-") {
			continue
		}
		if !filepath.IsAbs(r) {
			if dir == "" {
				continue
			}
			r = filepath.Join(dir, r)
		}
		out = append(out, filepath.Clean(r))
	}
	return out
}

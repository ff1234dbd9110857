package detector

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Normalize parses command as bash and re-renders it with the quoting and
// escaping of every fully literal word removed, so `r"m" -rf '/'` becomes
// `rm -rf /`. It returns false when the command does not parse.
func Normalize(command string) (string, bool) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return "", false
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		if word, ok := node.(*syntax.Word); ok {
			if lit, ok := literalWord(word); ok {
				word.Parts = []syntax.WordPart{&syntax.Lit{
					ValuePos: word.Pos(),
					ValueEnd: word.End(),
					Value:    lit,
				}}
			}
		}
		return true
	})

	var sb strings.Builder
	if err := syntax.NewPrinter(syntax.SingleLine(true)).Print(&sb, file); err != nil {
		return "", false
	}
	return strings.TrimSpace(sb.String()), true
}

// literalWord returns the shell value of word when it has no expansions.
func literalWord(word *syntax.Word) (string, bool) {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescape(p.Value, false))
		case *syntax.SglQuoted:
			if p.Dollar {
				return "", false
			}
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			if p.Dollar {
				return "", false
			}
			for _, qp := range p.Parts {
				lit, ok := qp.(*syntax.Lit)
				if !ok {
					return "", false
				}
				sb.WriteString(unescape(lit.Value, true))
			}
		default:
			return "", false
		}
	}
	return sb.String(), true
}

// unescape removes shell backslash escapes. Inside double quotes only the
// characters bash treats as escapable lose their backslash.
func unescape(s string, quoted bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			sb.WriteByte(c)
			continue
		}
		next := s[i+1]
		if quoted && !strings.ContainsRune("$`\"\\\n", rune(next)) {
			sb.WriteByte(c)
			continue
		}
		if next != '\n' {
			sb.WriteByte(next)
		}
		i++
	}
	return sb.String()
}

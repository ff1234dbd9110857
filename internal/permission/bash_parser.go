package permission

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BashCommand is one simple command found in a shell command line.
type BashCommand struct {
	Name string   // Command name (e.g., "rm", "git")
	Args []string // Command arguments
	// Subcommand is the first argument when it is not a flag ("commit" in
	// "git commit -m x"); empty for "git -C dir status".
	Subcommand string
	// Writes lists files the command writes through output redirections,
	// including those on an enclosing group or subshell. A bare "> file"
	// yields a command with an empty Name.
	Writes []string
}

// Words returns the name followed by the arguments.
func (c BashCommand) Words() []string {
	return append([]string{c.Name}, c.Args...)
}

func (c BashCommand) String() string {
	return strings.Join(c.Words(), " ")
}

// ParseBashCommand returns every simple command in command, including those
// nested in pipelines, lists, subshells and command substitutions.
func ParseBashCommand(command string) ([]BashCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var commands []BashCommand
	collectCommands(file, nil, &commands)
	return commands, nil
}

// collectCommands walks node and appends its simple commands to out. writes
// are the redirect targets inherited from enclosing statements.
func collectCommands(node syntax.Node, writes []string, out *[]BashCommand) {
	syntax.Walk(node, func(n syntax.Node) bool {
		switch x := n.(type) {
		case *syntax.Stmt:
			targets := writeTargets(x.Redirs)
			if len(targets) == 0 {
				return true
			}
			all := append(append([]string(nil), writes...), targets...)
			call, isCall := x.Cmd.(*syntax.CallExpr)
			if x.Cmd == nil || (isCall && len(call.Args) == 0) {
				*out = append(*out, BashCommand{Writes: all})
			}
			if x.Cmd != nil {
				collectCommands(x.Cmd, all, out)
			}
			for _, r := range x.Redirs {
				if r.Word != nil {
					collectCommands(r.Word, writes, out)
				}
				if r.Hdoc != nil {
					collectCommands(r.Hdoc, writes, out)
				}
			}
			return false
		case *syntax.CallExpr:
			if cmd, ok := extractCommand(x); ok {
				if len(writes) > 0 {
					cmd.Writes = append([]string(nil), writes...)
				}
				*out = append(*out, cmd)
			}
		}
		return true
	})
}

// writeTargets returns the files opened for writing by redirs. Duplicating
// onto a numeric descriptor ("2>&1") and /dev/null are not writes.
func writeTargets(redirs []*syntax.Redirect) []string {
	var targets []string
	for _, r := range redirs {
		if r.Word == nil {
			continue
		}
		switch r.Op {
		case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll,
			syntax.ClbOut, syntax.RdrInOut:
		case syntax.DplOut:
			if isFD(r.Word) {
				continue
			}
		default:
			continue
		}
		target := wordToString(r.Word)
		if target == "/dev/null" {
			continue
		}
		targets = append(targets, target)
	}
	return targets
}

func isFD(word *syntax.Word) bool {
	lit := word.Lit()
	if lit == "-" {
		return true
	}
	if lit == "" {
		return false
	}
	for _, r := range lit {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func extractCommand(call *syntax.CallExpr) (BashCommand, bool) {
	if len(call.Args) == 0 {
		return BashCommand{}, false
	}
	cmd := BashCommand{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return BashCommand{}, false
	}
	for _, arg := range call.Args[1:] {
		cmd.Args = append(cmd.Args, wordToString(arg))
	}
	if len(cmd.Args) > 0 && cmd.Args[0] != "" && !strings.HasPrefix(cmd.Args[0], "-") {
		cmd.Subcommand = cmd.Args[0]
	}
	return cmd, true
}

// wordToString renders a word with quotes removed. Expansions keep a marker
// so they never equal a literal pattern word.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	writeParts(&sb, word.Parts)
	return sb.String()
}

func writeParts(sb *strings.Builder, parts []syntax.WordPart) {
	for _, part := range parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			writeParts(sb, p.Parts)
		case *syntax.ParamExp:
			if p.Param != nil {
				sb.WriteString("$" + p.Param.Value)
			} else {
				sb.WriteString("$")
			}
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		default:
			sb.WriteString("$(())")
		}
	}
}

// Package sanitize provides string-level defenses for tool arguments that may
// reach a shell or the filesystem: metacharacter stripping and escaping, and
// path containment checks against an allowed root.
package sanitize

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ShellMetaChars is the fixed set of characters treated as shell syntax.
const ShellMetaChars = "`$&|;<>(){}[]\\'\"!*?#~"

// windowsAbsPattern matches drive-letter and UNC prefixes.
var windowsAbsPattern = regexp.MustCompile(`^(?:[A-Za-z]:[\\/]|[A-Za-z]:$|\\\\|//)`)

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}

func isMeta(r rune) bool {
	return strings.ContainsRune(ShellMetaChars, r)
}

// Sanitize deletes shell metacharacters and C0 control bytes from input.
// It is defense in depth for call sites that do not use argv execution.
func Sanitize(input string) string {
	var sb strings.Builder
	sb.Grow(len(input))
	for _, r := range input {
		if isMeta(r) || isControl(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// EscapeShellMeta backslash-escapes shell metacharacters so the literal text
// survives a shell. Control bytes cannot be meaningfully escaped and are dropped.
func EscapeShellMeta(input string) string {
	var sb strings.Builder
	sb.Grow(len(input) + len(input)/4)
	for _, r := range input {
		switch {
		case isControl(r):
			continue
		case isMeta(r):
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// ContainsShellMeta reports whether input has any shell metacharacter or
// control byte.
func ContainsShellMeta(input string) bool {
	return strings.IndexFunc(input, func(r rune) bool {
		return isMeta(r) || isControl(r)
	}) >= 0
}

// ContainsPathTraversal reports whether input uses a raw traversal idiom:
// a ".." segment, a home-directory prefix, or a percent-encoded "..".
func ContainsPathTraversal(input string) bool {
	if input == "~" || strings.HasPrefix(input, "~/") || strings.HasPrefix(input, `~\`) {
		return true
	}
	if strings.Contains(strings.ToLower(input), "%2e%2e") {
		return true
	}
	for _, seg := range strings.FieldsFunc(input, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// hasForeignAbsPrefix reports drive-letter or UNC prefixes.
func hasForeignAbsPrefix(input string) bool {
	return windowsAbsPattern.MatchString(input)
}

// ValidatePath reports whether inputPath stays inside allowedRoot.
//
// Raw traversal idioms and drive/UNC prefixes are rejected before any
// resolution. Those prefixes are the only absolute forms refused outright: a
// native absolute path such as "/app/data/x" is accepted when it resolves
// under the root. The remaining candidate is resolved (relative paths against
// the root) and must equal the root or sit below root plus a path separator,
// so "/app/data-secret" is not inside "/app/data".
func ValidatePath(inputPath, allowedRoot string) bool {
	if inputPath == "" || allowedRoot == "" {
		return false
	}
	if strings.ContainsRune(inputPath, 0) {
		return false
	}
	if ContainsPathTraversal(inputPath) || hasForeignAbsPrefix(inputPath) {
		return false
	}

	root, err := resolve(allowedRoot)
	if err != nil {
		return false
	}

	candidate := inputPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate, err = resolve(candidate)
	if err != nil {
		return false
	}

	return IsWithin(candidate, root)
}

// IsWithin reports whether path equals root or is a true descendant of it.
// Both arguments must already be absolute and clean.
func IsWithin(path, root string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// resolve makes p absolute and clean, following symlinks for the longest
// existing prefix so that a not-yet-created file resolves consistently with
// its parent directory.
func resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	existing := abs
	var rest []string
	for {
		real, err := filepath.EvalSymlinks(existing)
		if err == nil {
			parts := append([]string{real}, rest...)
			return filepath.Clean(filepath.Join(parts...)), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
}

package hardening

import (
	"regexp"
	"sort"
	"strings"
)

// blockedVars are dynamic-linker and interpreter injection vectors. They are
// dropped whatever their value.
var blockedVars = map[string]bool{
	"BASH_ENV":          true,
	"ENV":               true,
	"IFS":               true,
	"CDPATH":            true,
	"GLOBIGNORE":        true,
	"PROMPT_COMMAND":    true,
	"SHELLOPTS":         true,
	"BASHOPTS":          true,
	"PS4":               true,
	"PYTHONPATH":        true,
	"PYTHONSTARTUP":     true,
	"PYTHONHOME":        true,
	"NODE_OPTIONS":      true,
	"NODE_PATH":         true,
	"PERL5LIB":          true,
	"PERL5OPT":          true,
	"PERLLIB":           true,
	"RUBYOPT":           true,
	"RUBYLIB":           true,
	"JAVA_TOOL_OPTIONS": true,
	"_JAVA_OPTIONS":     true,
	"GCONV_PATH":        true,
	"HOSTALIASES":       true,
	"LOCALDOMAIN":       true,
	"RES_OPTIONS":       true,
	"MALLOC_CHECK_":     true,
}

// blockedPrefixes cover the LD_* and DYLD_* families.
var blockedPrefixes = []string{"LD_", "DYLD_"}

// allowedVars are operational variables subprocesses need. Several of them
// collide with the sensitive-name pattern (SSH_AUTH_SOCK, XAUTHORITY,
// keyboard variables), so they are checked first.
var allowedVars = map[string]bool{
	"PATH":                true,
	"HOME":                true,
	"SHELL":               true,
	"USER":                true,
	"USERNAME":            true,
	"LOGNAME":             true,
	"TERM":                true,
	"COLORTERM":           true,
	"LANG":                true,
	"LANGUAGE":            true,
	"LC_ALL":              true,
	"LC_CTYPE":            true,
	"TZ":                  true,
	"TMPDIR":              true,
	"PWD":                 true,
	"SSH_AUTH_SOCK":       true,
	"SSH_AGENT_PID":       true,
	"GPG_AGENT_INFO":      true,
	"GPG_TTY":             true,
	"GNUPGHOME":           true,
	"DISPLAY":             true,
	"WAYLAND_DISPLAY":     true,
	"XAUTHORITY":          true,
	"XDG_RUNTIME_DIR":     true,
	"XKB_DEFAULT_LAYOUT":  true,
	"XKB_DEFAULT_VARIANT": true,
	"XKB_DEFAULT_MODEL":   true,
	"XKB_DEFAULT_OPTIONS": true,
	"XKB_DEFAULT_RULES":   true,
	"KEYBOARD_LAYOUT":     true,
	"KEYMAP":              true,
}

var sensitiveName = regexp.MustCompile(`(?i)token|secret|passw(?:or)?d|key|auth|credential|private|cert`)

var sensitiveValues = []*regexp.Regexp{
	regexp.MustCompile(`-----BEGIN [A-Z0-9 ]*PRIVATE KEY-----`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}`),
	regexp.MustCompile(`\bsk-(?:[A-Za-z0-9]+-)?[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bxox[abposr]-[A-Za-z0-9-]{10,}`),
	regexp.MustCompile(`\bglpat-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{4,}\.eyJ[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]+`),
}

// IsSensitiveValue reports whether value looks like a secret: a private key
// block, a vendor API token, or a JWT.
func IsSensitiveValue(value string) bool {
	for _, re := range sensitiveValues {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

func isBlocked(key string) bool {
	upper := strings.ToUpper(key)
	if blockedVars[upper] {
		return true
	}
	for _, p := range blockedPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

// SanitizeEnvironment returns a filtered copy of env. The input is never
// modified. For each entry:
//
//   - blocked injection vectors are dropped;
//   - allowlisted operational variables are kept unless the value looks secret;
//   - names that look sensitive are dropped;
//   - values that look secret are dropped;
//   - everything else is kept.
//
// The result is a fixed point: sanitizing it again returns the same map.
func SanitizeEnvironment(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if k == "" || isBlocked(k) {
			continue
		}
		if allowedVars[strings.ToUpper(k)] {
			if !IsSensitiveValue(v) {
				out[k] = v
			}
			continue
		}
		if sensitiveName.MatchString(k) || IsSensitiveValue(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// Environ parses KEY=VALUE entries, as returned by os.Environ, into a map.
// Entries without "=" are skipped; the last duplicate wins.
func Environ(entries []string) map[string]string {
	env := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// ToList renders env as KEY=VALUE entries sorted by key, suitable for
// exec.Cmd.Env.
func ToList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}

// SetEnv sets or replaces key in an env list.
func SetEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

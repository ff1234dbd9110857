package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlPolicy = `
rules:
  - name: no-sudo
    pattern: '^sudo\s'
    decision: forbidden
    reason: sudo is not allowed
  - name: read-only
    pattern: '^(ls|cat|pwd)(\s|$)'
    decision: allow
    reason: read-only command
wildcards:
  "git *": allow
`

const jsoncPolicy = `{
  // comments are allowed
  "rules": [
    {"name": "tests", "pattern": "^go test", "decision": "allow", "reason": "tests"},
  ],
}`

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlPolicy), 0o644))

	e, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, e.Rules(), 3)

	assert.Equal(t, DecisionForbidden, e.Evaluate("sudo ls").Decision)
	assert.Equal(t, "sudo is not allowed", e.Evaluate("sudo ls").Reason)
	assert.Equal(t, DecisionAllow, e.Evaluate("cat go.mod").Decision)
	assert.Equal(t, DecisionAllow, e.Evaluate("git diff").Decision)
	assert.Equal(t, DecisionPrompt, e.Evaluate("make").Decision)
}

func TestLoadFile_JSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(jsoncPolicy), 0o644))

	e, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, e.Evaluate("go test ./...").Decision)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("rules:\n  - pattern: x\n    decision: perhaps\n"), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)

	badRe := filepath.Join(dir, "badre.json")
	require.NoError(t, os.WriteFile(badRe, []byte(`{"rules":[{"pattern":"(","decision":"allow"}]}`), 0o644))
	_, err = LoadFile(badRe)
	assert.Error(t, err)
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wildcards:\n  \"ls\": allow\n"), 0o644))

	w, err := NewWatcher(path, zerolog.Nop())
	require.NoError(t, err)
	defer w.Stop()

	errs := make(chan error, 4)
	w.OnError = func(err error) { errs <- err }
	w.Start()

	assert.Equal(t, DecisionAllow, w.Evaluate("ls").Decision)

	writeAtomic(t, path, "wildcards:\n  \"ls\": forbidden\n")
	assert.Eventually(t, func() bool {
		return w.Evaluate("ls").Decision == DecisionForbidden
	}, 5*time.Second, 20*time.Millisecond)

	writeAtomic(t, path, "rules:\n  - pattern: '('\n    decision: allow\n")
	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("expected reload error")
	}
	assert.Equal(t, DecisionForbidden, w.Evaluate("ls").Decision)
}

func TestWatcher_ManualReloadKeepsEngineOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"wildcards":{"ls":"allow"}}`), 0o644))

	w, err := NewWatcher(path, zerolog.Nop())
	require.NoError(t, err)
	defer w.Stop()

	before := w.Engine()
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	assert.Error(t, w.Reload())
	assert.Same(t, before, w.Engine())
}

func TestWatcher_StopTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o644))

	w, err := NewWatcher(path, zerolog.Nop())
	require.NoError(t, err)
	w.Start()
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

// writeAtomic replaces path in one rename so the watcher never sees a
// half-written file.
func writeAtomic(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

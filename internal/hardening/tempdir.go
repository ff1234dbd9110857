// Package hardening reduces what a spawned command inherits from the host:
// a scrubbed environment, a private scratch directory, and hooks for
// OS-level resource limits and privilege dropping.
package hardening

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
)

// TempDir is a uniquely named scratch directory owned by one caller.
type TempDir struct {
	Path string

	mu      sync.Mutex
	removed bool
}

// CreateTempDir creates a directory named prefix+<ulid> under the system
// temp root. The caller must call Cleanup on every exit path.
func CreateTempDir(prefix string) (*TempDir, error) {
	name := prefix + strings.ToLower(ulid.Make().String())
	path := filepath.Join(os.TempDir(), name)
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, err
	}
	// Resolve symlinked temp roots (/tmp on macOS) so containment checks
	// against the path behave.
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return &TempDir{Path: path}, nil
}

// Cleanup recursively removes the directory. It succeeds when the directory
// is already gone and is safe to call more than once.
func (d *TempDir) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return nil
	}

	op := func() error {
		err := os.RemoveAll(d.Path)
		if err == nil {
			return nil
		}
		// Children may have left read-only directories behind.
		makeWritable(d.Path)
		return err
	}
	if err := backoff.Retry(op, cleanupBackoff()); err != nil {
		return err
	}
	d.removed = true
	return nil
}

func cleanupBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return backoff.WithMaxRetries(b, 5)
}

func makeWritable(root string) {
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			_ = os.Chmod(path, 0o700)
		}
		return nil
	})
}

// Size returns the total size in bytes of regular files under the directory.
func (d *TempDir) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(d.Path, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

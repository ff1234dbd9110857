// Package storage keeps JSON documents on disk under hierarchical keys. The
// executor writes its audit trail here as ["audit", <day>, <run id>].
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("not found")

const ext = ".json"

// Storage is a directory of JSON documents. Writes to the same key are
// serialized with a lock file so that several processes can share a base
// directory.
type Storage struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*FileLock
}

// New creates a Storage rooted at basePath. The directory is created on the
// first write.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

// Base returns the root directory.
func (s *Storage) Base() string {
	return s.basePath
}

func (s *Storage) file(key []string) (string, error) {
	if len(key) == 0 {
		return "", errors.New("empty key")
	}
	for _, k := range key {
		if k == "" || k == "." || k == ".." || strings.ContainsAny(k, `/\`) {
			return "", fmt.Errorf("invalid key segment %q", k)
		}
	}
	return filepath.Join(append([]string{s.basePath}, key...)...) + ext, nil
}

func (s *Storage) dir(key []string) string {
	return filepath.Join(append([]string{s.basePath}, key...)...)
}

// Get decodes the document at key into v.
func (s *Storage) Get(ctx context.Context, key []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.file(key)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Put writes v at key, replacing any previous document atomically.
// Documents are private to the owner.
func (s *Storage) Put(ctx context.Context, key []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.file(key)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, errors.Join(werr, cerr))
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Delete removes the document at key. Deleting a missing key is not an error.
func (s *Storage) Delete(ctx context.Context, key []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.file(key)
	if err != nil {
		return err
	}

	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a document is stored at key.
func (s *Storage) Exists(ctx context.Context, key []string) bool {
	path, err := s.file(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// List returns the sorted child names under prefix: sub-directories and
// documents (without extension).
func (s *Storage) List(ctx context.Context, prefix []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir(prefix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}

	items := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			items = append(items, name)
		case strings.HasSuffix(name, ext):
			items = append(items, strings.TrimSuffix(name, ext))
		}
	}
	sort.Strings(items)
	return items, nil
}

// Walk calls fn for every document under prefix, depth first in key order.
// The key passed to fn is relative to prefix. Walking stops at the first
// error returned by fn or when ctx is done.
func (s *Storage) Walk(ctx context.Context, prefix []string, fn func(key []string, data json.RawMessage) error) error {
	root := s.dir(prefix)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, strings.TrimSuffix(path, ext))
		if err != nil {
			return err
		}
		return fn(strings.Split(filepath.ToSlash(rel), "/"), json.RawMessage(data))
	})
	return err
}

func (s *Storage) lockFor(path string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		lock = NewFileLock(path)
		s.locks[path] = lock
	}
	return lock
}

package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Exit    int    `json:"exit"`
}

func TestStorage_PutGet(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	in := record{ID: "01J", Command: "ls", Exit: 0}
	require.NoError(t, s.Put(ctx, []string{"audit", "2026-10-16", "01J"}, in))

	info, err := os.Stat(filepath.Join(dir, "audit", "2026-10-16", "01J.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	var out record
	require.NoError(t, s.Get(ctx, []string{"audit", "2026-10-16", "01J"}, &out))
	assert.Equal(t, in, out)
	assert.True(t, s.Exists(ctx, []string{"audit", "2026-10-16", "01J"}))
}

func TestStorage_NotFound(t *testing.T) {
	s := New(t.TempDir())
	var out record
	assert.ErrorIs(t, s.Get(context.Background(), []string{"audit", "missing"}, &out), ErrNotFound)
	assert.False(t, s.Exists(context.Background(), []string{"audit", "missing"}))
}

func TestStorage_InvalidKeys(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	for _, key := range [][]string{nil, {""}, {".."}, {"a/b"}, {"audit", "..", "x"}} {
		assert.Error(t, s.Put(ctx, key, record{}), "%v", key)
	}
}

func TestStorage_Delete(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	key := []string{"audit", "x"}
	require.NoError(t, s.Put(ctx, key, record{ID: "x"}))
	require.NoError(t, s.Delete(ctx, key))
	assert.False(t, s.Exists(ctx, key))
	assert.NoError(t, s.Delete(ctx, key))
}

func TestStorage_ListAndWalk(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"audit", "2026-10-15", "b"}, record{ID: "b"}))
	require.NoError(t, s.Put(ctx, []string{"audit", "2026-10-16", "a"}, record{ID: "a"}))
	require.NoError(t, s.Put(ctx, []string{"audit", "2026-10-16", "c"}, record{ID: "c"}))

	days, err := s.List(ctx, []string{"audit"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-15", "2026-10-16"}, days)

	empty, err := s.List(ctx, []string{"nothing"})
	require.NoError(t, err)
	assert.Empty(t, empty)

	var keys [][]string
	var ids []string
	err = s.Walk(ctx, []string{"audit"}, func(key []string, data json.RawMessage) error {
		var r record
		require.NoError(t, json.Unmarshal(data, &r))
		keys = append(keys, key)
		ids = append(ids, r.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"2026-10-15", "b"}, {"2026-10-16", "a"}, {"2026-10-16", "c"}}, keys)
	assert.Equal(t, []string{"b", "a", "c"}, ids)

	assert.NoError(t, s.Walk(ctx, []string{"missing"}, func([]string, json.RawMessage) error {
		t.Fatal("unexpected document")
		return nil
	}))
}

func TestStorage_ConcurrentPut(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, []string{"audit", "same"}, record{ID: "same", Exit: n}))
		}(i)
	}
	wg.Wait()

	var out record
	require.NoError(t, s.Get(ctx, []string{"audit", "same"}, &out))
	assert.Equal(t, "same", out.ID)

	leftovers, err := filepath.Glob(filepath.Join(dir, "audit", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestStorage_CancelledContext(t *testing.T) {
	s := New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Put(ctx, []string{"audit", "x"}, record{}), context.Canceled)
}

func TestFileLock_TryLock(t *testing.T) {
	l := NewFileLock(filepath.Join(t.TempDir(), "doc"))
	require.NoError(t, l.Lock())
	assert.False(t, l.TryLock())
	require.NoError(t, l.Unlock())
	assert.True(t, l.TryLock())
	require.NoError(t, l.Unlock())
	assert.NoError(t, l.Unlock())
}

package storage

import (
	"os"
	"sync"
)

// FileLock serializes writers of one document, within the process through
// a mutex and across processes through an advisory lock on path+".lock".
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileLock creates a lock for path. Nothing is opened until Lock.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock blocks until the lock is held.
func (l *FileLock) Lock() error {
	l.mu.Lock()
	f, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if err := lockFile(f, true); err != nil {
		f.Close()
		l.mu.Unlock()
		return err
	}
	l.file = f
	return nil
}

// TryLock acquires the lock only if it is free.
func (l *FileLock) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	f, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		l.mu.Unlock()
		return false
	}
	if err := lockFile(f, false); err != nil {
		f.Close()
		l.mu.Unlock()
		return false
	}
	l.file = f
	return true
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	_ = unlockFile(l.file)
	l.file.Close()
	os.Remove(l.path + ".lock")
	l.file = nil
	l.mu.Unlock()
	return nil
}

package policy

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher serves an Engine loaded from a file and reloads it when the file
// changes. A file that fails to load leaves the previous engine in place.
type Watcher struct {
	path    string
	engine  atomic.Pointer[Engine]
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	// OnError is called with reload failures. It may be nil.
	OnError func(error)
	// OnReload is called after a successful reload. It may be nil.
	OnReload func(*Engine)

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// NewWatcher loads path and prepares to watch it. The initial load must
// succeed.
func NewWatcher(path string, logger zerolog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	engine, err := LoadFile(abs)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors replace files on save, so watch the directory.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:    abs,
		watcher: fw,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	w.engine.Store(engine)
	return w, nil
}

// Engine returns the engine currently in effect.
func (w *Watcher) Engine() *Engine {
	return w.engine.Load()
}

// Evaluate evaluates command with the current engine.
func (w *Watcher) Evaluate(command string) Result {
	return w.engine.Load().Evaluate(command)
}

// Start begins watching for changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.Reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

// Reload loads the file and swaps the engine if it compiles.
func (w *Watcher) Reload() error {
	engine, err := LoadFile(w.path)
	if err != nil {
		w.report(err)
		return err
	}
	w.engine.Store(engine)
	w.logger.Info().Str("path", w.path).Int("rules", len(engine.rules)).Msg("policy reloaded")
	if w.OnReload != nil {
		w.OnReload(engine)
	}
	return nil
}

func (w *Watcher) report(err error) {
	w.logger.Error().Err(err).Str("path", w.path).Msg("policy reload failed")
	if w.OnError != nil {
		w.OnError(err)
	}
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	select {
	case <-w.stopCh:
		w.mu.Unlock()
		return nil
	default:
		close(w.stopCh)
	}
	w.mu.Unlock()

	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}

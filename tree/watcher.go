package tree

import (
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/treesync/errors"
	"github.com/teranos/treesync/logger"
)

// DefaultDebounce coalesces editor save bursts into one reload.
const DefaultDebounce = 500 * time.Millisecond

// PublishFunc receives a freshly loaded file.
type PublishFunc func(*File) error

// RemoveFunc receives the path of a deleted source file.
type RemoveFunc func(path string) error

// Watcher reloads YAML tree documents in a directory as they change.
type Watcher struct {
	dir      string
	loader   *Loader
	watcher  *fsnotify.Watcher
	publish  PublishFunc
	remove   RemoveFunc
	debounce time.Duration
	logger   *zap.SugaredLogger

	mu     gosync.Mutex
	timers map[string]*time.Timer
	paths  map[string]string // source file -> published File.Path
	done   chan struct{}
	wg     gosync.WaitGroup
}

// NewWatcher watches dir. remove may be nil.
func NewWatcher(dir string, loader *Loader, publish PublishFunc, remove RemoveFunc, log *zap.SugaredLogger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", dir)
	}
	if log == nil {
		log = logger.Logger
	}
	return &Watcher{
		dir:      dir,
		loader:   loader,
		watcher:  fw,
		publish:  publish,
		remove:   remove,
		debounce: DefaultDebounce,
		logger:   log.Named("watcher"),
		timers:   make(map[string]*time.Timer),
		paths:    make(map[string]string),
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce overrides DefaultDebounce. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// LoadAll publishes every document currently in the directory.
func (w *Watcher) LoadAll() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", w.dir)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !IsSourceFile(e.Name()) {
			continue
		}
		name := filepath.Join(w.dir, e.Name())
		f, err := w.loader.Load(name)
		if err != nil {
			return n, err
		}
		if err := w.publish(f); err != nil {
			return n, errors.Wrapf(err, "failed to publish %s", f.Path)
		}
		w.mu.Lock()
		w.paths[filepath.ToSlash(name)] = f.Path
		w.mu.Unlock()
		n++
	}
	return n, nil
}

// Start begins watching in the background.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.watchLoop()
}

// Close stops watching and waits for the loop to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !IsSourceFile(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				w.schedule(event.Name)
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				w.removed(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Tree watcher error", logger.FieldError, err)
		}
	}
}

func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		w.reload(name)
	})
}

func (w *Watcher) reload(name string) {
	w.mu.Lock()
	delete(w.timers, name)
	w.mu.Unlock()

	f, err := w.loader.Load(name)
	if err != nil {
		w.logger.Warnw("Tree reload failed", logger.FieldPath, name, logger.FieldError, err)
		return
	}
	if err := w.publish(f); err != nil {
		w.logger.Errorw("Tree publish failed", logger.FieldPath, f.Path, logger.FieldError, err)
		return
	}

	w.mu.Lock()
	w.paths[filepath.ToSlash(name)] = f.Path
	w.mu.Unlock()
	w.logger.Infow("Tree reloaded", logger.FieldPath, f.Path, "nodes", Count(f))
}

func (w *Watcher) removed(name string) {
	key := filepath.ToSlash(name)
	w.mu.Lock()
	if t, ok := w.timers[name]; ok {
		t.Stop()
		delete(w.timers, name)
	}
	path, ok := w.paths[key]
	delete(w.paths, key)
	w.mu.Unlock()

	if !ok {
		return
	}
	w.loader.Forget(path)
	if w.remove == nil {
		return
	}
	if err := w.remove(path); err != nil {
		w.logger.Warnw("Tree remove failed", logger.FieldPath, path, logger.FieldError, err)
		return
	}
	w.logger.Infow("Tree removed", logger.FieldPath, path)
}

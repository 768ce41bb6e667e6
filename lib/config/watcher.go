package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the settings file when it changes on disk. Editors save
// via write or rename, so the parent directory is watched and events are
// filtered by name. A short debounce coalesces the write bursts most
// editors produce.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	log     *logrus.Entry

	mu      sync.Mutex
	pending *time.Timer
}

const writeSettle = 100 * time.Millisecond

// Watch starts watching path and calls onChange after each settled change.
func Watch(path string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		watcher: fw,
		path:    abs,
		log:     logrus.WithField("component", "config"),
	}
	go w.loop(onChange)
	return w, nil
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) loop(onChange func()) {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.mu.Lock()
			if w.pending != nil {
				w.pending.Stop()
			}
			w.pending = time.AfterFunc(writeSettle, func() {
				w.log.Info("settings file changed, reloading")
				onChange()
			})
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("settings watcher error")
		}
	}
}

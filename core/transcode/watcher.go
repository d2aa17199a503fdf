package transcode

import (
	"path/filepath"
	"sync"

	"hlsgate/logger"

	"github.com/fsnotify/fsnotify"
)

// ProgressFunc receives the number of segment files written so far.
type ProgressFunc func(segments int)

// segmentWatcher counts .ts files the encoder creates in a directory.
type segmentWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// watchSegments starts counting segments in dir. The returned watcher must be
// stopped once the encoder has exited.
func watchSegments(dir string, onProgress ProgressFunc) (*segmentWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &segmentWatcher{watcher: watcher, done: make(chan struct{})}
	go w.loop(onProgress)
	return w, nil
}

func (w *segmentWatcher) loop(onProgress ProgressFunc) {
	defer close(w.done)
	seen := make(map[string]bool)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 || filepath.Ext(event.Name) != ".ts" {
				continue
			}
			name := filepath.Base(event.Name)
			if seen[name] {
				continue
			}
			seen[name] = true
			onProgress(len(seen))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("[Transcode] segment watcher error", logger.ErrorField(err))
		}
	}
}

// Stop closes the watcher and waits for the event loop to drain.
func (w *segmentWatcher) Stop() {
	w.once.Do(func() {
		w.watcher.Close()
		<-w.done
	})
}

package platform

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/certflow/certflow/errors"
	"github.com/certflow/certflow/logger"
)

// Watcher watches the platform table directory and reloads the registry when
// a table changes. Running course tasks pick up the new tables on their next
// registry lookup; tables already resolved for an in-flight action are not
// swapped mid-step.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher

	mu             sync.Mutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
}

// NewWatcher creates a watcher over the registry's directory.
func NewWatcher(registry *Registry) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	if err := fw.Add(registry.Dir()); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch platform directory %s", registry.Dir())
	}

	return &Watcher{
		registry:       registry,
		watcher:        fw,
		debouncePeriod: 500 * time.Millisecond, // Debounce rapid file changes
	}, nil
}

// Start begins watching for table changes.
func (w *Watcher) Start() {
	go w.watchLoop()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Only reload on Write, Create, or Remove events for YAML files
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
				continue
			}

			logger.Infow("Platform table change detected",
				"file", event.Name,
				"op", event.Op.String())
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Platform watcher error",
				"error", err)
		}
	}
}

// scheduleReload debounces rapid file changes and triggers reload
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.debouncePeriod, func() {
		if err := w.registry.Reload(); err != nil {
			// Previous table set stays in effect on a failed reload
			logger.Errorw("Platform table reload failed",
				"error", err)
		}
	})
}

// Stop stops watching for table changes.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

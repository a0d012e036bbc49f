package rules

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches the user catalog directory and reloads the store on change.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	debounce     time.Duration
	pendingTimer *time.Timer
	timerMu      sync.Mutex
	onReload     func(error)
}

// NewWatcher creates a new file watcher
func NewWatcher(store *Store) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		store:    store,
		watcher:  fsWatcher,
		stopChan: make(chan struct{}),
		debounce: DefaultDebounce,
	}, nil
}

// SetDebounce overrides the debounce interval. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// OnReload registers fn to observe every reload attempt the watcher makes.
// Call before Start.
func (w *Watcher) OnReload(fn func(error)) {
	w.onReload = fn
}

// Start begins watching the user catalog directory
func (w *Watcher) Start() error {
	dir := w.store.Loader().GetUserDir()
	if dir == "" {
		log.Warn("No user catalog directory configured, watcher not started")
		return nil
	}

	if err := w.watcher.Add(dir); err != nil {
		log.Warn("Cannot watch catalog directory (may not exist yet): %v", err)
		return nil
	}

	w.wg.Add(1)
	go w.run()

	log.Info("Watching catalog directory: %s", dir)
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()

	w.timerMu.Lock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("Watcher error: %v", err)

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".yaml") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	log.Debug("Catalog file changed: %s (%s)", filepath.Base(event.Name), event.Op)
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, w.doReload)
}

func (w *Watcher) doReload() {
	select {
	case <-w.stopChan:
		return
	default:
	}

	log.Info("Hot reloading user catalog...")
	err := w.store.Reload()
	if err == nil {
		log.Info("Catalog %s published", w.store.Current().Version())
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}

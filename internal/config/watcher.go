package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"kounsel/internal/logging"
)

// DebounceDelay is the default delay for debouncing file system events.
// Editors often produce several write/rename events for a single save.
const DebounceDelay = 200 * time.Millisecond

// ChangeHandler receives the freshly reloaded configuration when the
// config file changes. Implementations must be safe for concurrent use.
type ChangeHandler func(cfg *Config)

// Watcher monitors the configuration file for changes and reloads it.
// This lets a long-running chat REPL pick up a refreshed bearer token or a
// changed backend URL without a restart.
//
// Thread-safety: all public methods are safe for concurrent use.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	handlers []ChangeHandler

	debounceDelay time.Duration
	debounceTimer *time.Timer
	debounceMu    sync.Mutex

	done    chan struct{}
	stopped chan struct{}
}

// NewWatcher creates a watcher for the config file at path.
// Call Start to begin watching and Close when done.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          path,
		watcher:       fsw,
		debounceDelay: DebounceDelay,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	// Watch the parent directory: editors save via rename, which would
	// otherwise drop a watch placed on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// SetDebounceDelay sets the debounce delay for batching rapid changes.
// Must be called before Start.
func (w *Watcher) SetDebounceDelay(d time.Duration) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	w.debounceDelay = d
}

// Subscribe registers a handler invoked with the reloaded config.
func (w *Watcher) Subscribe(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins the event processing loop.
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Close stops the watcher and releases resources.
// After Close returns, no more change notifications are delivered.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped
	return err
}

func (w *Watcher) eventLoop() {
	log := logging.ConfigLogger()
	defer close(w.stopped)

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug("config file changed", "path", event.Name, "op", event.Op.String())
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", "error", err)
		}
	}
}

// scheduleReload debounces reloads so a burst of events yields one reload.
func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	log := logging.ConfigLogger()

	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := Load(w.path)
	if err != nil {
		log.Warn("failed to reload config", "path", w.path, "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Warn("reloaded config is invalid, keeping previous", "error", err)
		return
	}

	log.Info("config reloaded", "path", w.path)

	w.mu.Lock()
	handlers := make([]ChangeHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
}

// Package watch reports changes to script and manifest files in the search
// directories, debounced into batches.
package watch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a batch is emitted.
const DefaultDebounce = 200 * time.Millisecond

var watchedExts = map[string]bool{
	".go":   true,
	".yaml": true,
	".yml":  true,
	".toml": true,
}

// Watcher monitors script directories and their immediate package
// subdirectories.
type Watcher struct {
	Dirs    []string
	Batches <-chan []string // Read-only external channel

	batches  chan []string
	done     chan struct{}
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher for dirs. Nothing is watched until Start.
func New(dirs []string, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ch := make(chan []string, 4)
	w := &Watcher{
		Dirs:     dirs,
		Batches:  ch,
		batches:  ch,
		done:     make(chan struct{}),
		watcher:  fw,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Start begins watching. Missing directories are skipped.
func (w *Watcher) Start() error {
	for _, dir := range w.Dirs {
		if err := w.addTree(dir); err != nil {
			return err
		}
	}
	go w.loop()
	return nil
}

// Stop closes the watcher and the Batches channel.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done // Wait for loop to exit
	close(w.batches)
}

// addTree watches dir and its direct subdirectories.
func (w *Watcher) addTree(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, item := range items {
		if !item.IsDir() || strings.HasPrefix(item.Name(), ".") {
			continue
		}
		_ = w.watcher.Add(filepath.Join(dir, item.Name()))
	}
	return nil
}

func (w *Watcher) loop() {
	defer close(w.done)

	pending := make(map[string]bool)
	var last time.Time
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				// Drain pending on close.
				w.flush(pending)
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(event.Name)
					continue
				}
			}
			if !isScriptFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[event.Name] = true
				last = time.Now()
			}

		case <-ticker.C:
			if len(pending) > 0 && time.Since(last) >= w.debounce {
				w.flush(pending)
				pending = make(map[string]bool)
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal.
		}
	}
}

func (w *Watcher) flush(pending map[string]bool) {
	if len(pending) == 0 {
		return
	}
	batch := make([]string, 0, len(pending))
	for path := range pending {
		batch = append(batch, path)
	}
	sort.Strings(batch)
	select {
	case w.batches <- batch:
	default:
		// Consumer is behind; it will pick up the state on the next batch.
	}
}

func isScriptFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "_test.go") {
		return false
	}
	return watchedExts[strings.ToLower(filepath.Ext(base))]
}

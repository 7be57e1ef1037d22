// Package watch reports edited source files under a project tree.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is how long a file must stay quiet before it is reported.
const DefaultDebounce = 500 * time.Millisecond

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".ace":         true,
	".ace-memory":  true,
	"node_modules": true,
}

// Event is a settled edit to one file.
type Event struct {
	Path string
	Time time.Time
}

// Filter decides whether a path is reported. Directories are passed too and
// are not watched when rejected.
type Filter func(path string, dir bool) bool

// Watcher watches a directory tree and emits one Event per file once writes
// to it have settled.
type Watcher struct {
	root     string
	filter   Filter
	debounce time.Duration
	logger   *zap.Logger

	fs     *fsnotify.Watcher
	events chan Event
	stop   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

type Option func(*Watcher)

func WithFilter(f Filter) Option {
	return func(w *Watcher) { w.filter = f }
}

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher for root. Call Start to begin and Stop to release it.
func New(root string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	w := &Watcher{
		root:     abs,
		filter:   func(string, bool) bool { return true },
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		fs:       fw,
		events:   make(chan Event, 16),
		stop:     make(chan struct{}),
		pending:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start registers every accepted directory under the root and begins
// processing events in the background.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop releases the watcher and closes the Events channel. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
	}
	_ = w.fs.Close()
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
	w.closed = true
	close(w.events)
}

// Events returns the channel of settled edits.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (skipDirs[d.Name()] || !w.filter(path, true)) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) && !skipDirs[filepath.Base(ev.Name)] && w.filter(ev.Name, true) {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("watching new directory failed", zap.String("path", ev.Name), zap.Error(err))
			}
		}
		return
	}
	if !w.filter(ev.Name, false) {
		return
	}
	w.schedule(ev.Name)
}

// schedule restarts the quiet period for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() { w.emit(path) })
}

func (w *Watcher) emit(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[path]; !ok || w.closed {
		return
	}
	delete(w.pending, path)

	select {
	case w.events <- Event{Path: path, Time: time.Now()}:
	default:
		w.logger.Warn("watch event dropped, consumer is behind", zap.String("path", path))
	}
}

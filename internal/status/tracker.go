package status

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/logging"
)

// Default timings.
const (
	DefaultDebounce     = 1500 * time.Millisecond
	DefaultQuietTimeout = 3 * time.Second
)

// Source identifies which signal produced a Change.
type Source string

const (
	SourcePush Source = "push"
	SourcePull Source = "pull"
)

// Change is delivered to the OnChange callback whenever a watched session
// changes state.
type Change struct {
	Key       string
	Status    Status
	Message   string
	Timestamp time.Time
	Source    Source
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithDebounce sets the debounce window for both watcher kinds.
func WithDebounce(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.debounce = d
		}
	}
}

// WithQuietTimeout sets how long a transcript must stay untouched before the
// turn is considered over.
func WithQuietTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.quiet = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Tracker owns one watcher per key. The onChange callback runs on watcher
// goroutines and must not call Dispose or DisposeAll synchronously.
type Tracker struct {
	debounce time.Duration
	quiet    time.Duration
	onChange func(Change)
	logger   *logging.Logger

	mu       sync.Mutex
	watchers map[string]*watcher
	closed   bool
}

// NewTracker creates a Tracker that reports changes to onChange.
func NewTracker(onChange func(Change), opts ...Option) *Tracker {
	t := &Tracker{
		debounce: DefaultDebounce,
		quiet:    DefaultQuietTimeout,
		onChange: onChange,
		logger:   logging.NopLogger(),
		watchers: make(map[string]*watcher),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithComponent("status")
	return t
}

// WatchDescriptor follows the status descriptor at path. The current
// contents are reported right away if the file exists.
func (t *Tracker) WatchDescriptor(key, path string) error {
	return t.watch(key, path, SourcePush)
}

// WatchTranscript follows the transcript at path and infers activity from it.
func (t *Tracker) WatchTranscript(key, path string) error {
	return t.watch(key, path, SourcePull)
}

func (t *Tracker) watch(key, path string, source Source) error {
	if key == "" || path == "" {
		return errors.NewValidationError("watch needs a key and a path").WithField("key")
	}

	// fsnotify loses the file across atomic renames, so watch the folder.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return errors.Wrapf(err, "failed to watch %s", dir)
	}

	w := &watcher{
		key:      key,
		path:     filepath.Clean(path),
		source:   source,
		debounce: t.debounce,
		quiet:    t.quiet,
		fsw:      fsw,
		stop:     make(chan struct{}),
		onChange: t.onChange,
		logger:   t.logger.With("key", key, "source", string(source)),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = fsw.Close()
		return errors.NewValidationError("tracker is disposed")
	}
	prior := t.watchers[key]
	t.watchers[key] = w
	t.mu.Unlock()

	if prior != nil {
		prior.dispose()
	}
	w.start()
	return nil
}

// Watching reports whether key has an active watcher.
func (t *Tracker) Watching(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.watchers[key]
	return ok
}

// Dispose stops the watcher for key and waits for it to exit.
func (t *Tracker) Dispose(key string) {
	t.mu.Lock()
	w := t.watchers[key]
	delete(t.watchers, key)
	t.mu.Unlock()

	if w != nil {
		w.dispose()
	}
}

// DisposeAll stops every watcher and refuses new ones.
func (t *Tracker) DisposeAll() {
	t.mu.Lock()
	t.closed = true
	all := t.watchers
	t.watchers = make(map[string]*watcher)
	t.mu.Unlock()

	var wg conc.WaitGroup
	for _, w := range all {
		wg.Go(w.dispose)
	}
	wg.Wait()
}

type watcher struct {
	key      string
	path     string
	source   Source
	debounce time.Duration
	quiet    time.Duration
	fsw      *fsnotify.Watcher
	stop     chan struct{}
	onChange func(Change)
	logger   *logging.Logger
	loop     conc.WaitGroup

	mu          sync.Mutex
	disposed    bool
	debounceT   *time.Timer
	quietT      *time.Timer
	lastWorking time.Time
	last        *Change
}

func (w *watcher) start() {
	if w.source == SourcePush {
		w.readDescriptor()
	}
	w.loop.Go(w.run)
}

func (w *watcher) run() {
	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if w.source == SourcePush {
				w.scheduleDescriptorRead()
			} else {
				w.transcriptWritten()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *watcher) scheduleDescriptorRead() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return
	}
	if w.debounceT != nil {
		w.debounceT.Stop()
	}
	w.debounceT = time.AfterFunc(w.debounce, w.readDescriptor)
}

func (w *watcher) readDescriptor() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("failed to read status descriptor", "path", w.path, "error", err)
		}
		return
	}

	d := ParseDescriptor(data)
	if d == nil {
		w.logger.Debug("ignoring unreadable status descriptor", "path", w.path)
		return
	}

	ts := time.Now()
	if d.Timestamp != nil {
		ts = *d.Timestamp
	}
	w.emit(Change{Status: d.Status, Message: d.Message, Timestamp: ts})
}

// transcriptWritten reports working at most once per debounce window and
// restarts the quiet timer.
func (w *watcher) transcriptWritten() {
	now := time.Now()

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	report := w.lastWorking.IsZero() || now.Sub(w.lastWorking) >= w.debounce
	if report {
		w.lastWorking = now
	}
	if w.quietT != nil {
		w.quietT.Stop()
	}
	w.quietT = time.AfterFunc(w.quiet, w.settle)
	w.mu.Unlock()

	if report {
		w.emit(Change{Status: Working, Timestamp: now})
	}
}

// settle runs once the transcript has been quiet for the quiet timeout.
func (w *watcher) settle() {
	w.mu.Lock()
	w.lastWorking = time.Time{}
	w.mu.Unlock()

	next := Idle
	line, err := lastLine(w.path)
	switch {
	case err != nil:
		w.logger.Warn("failed to read transcript tail", "path", w.path, "error", err)
	case completedTurn(line):
		next = WaitingForUser
	}
	w.emit(Change{Status: next, Timestamp: time.Now()})
}

// emit delivers c unless it repeats the previous change or the watcher is
// disposed. The lock is held across the callback so dispose cannot return
// while a callback is running.
func (w *watcher) emit(c Change) {
	c.Key = w.key
	c.Source = w.source

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return
	}
	if w.last != nil && w.last.Status == c.Status && w.last.Message == c.Message {
		return
	}
	w.last = &c
	if w.onChange != nil {
		w.onChange(c)
	}
}

func (w *watcher) dispose() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	if w.debounceT != nil {
		w.debounceT.Stop()
	}
	if w.quietT != nil {
		w.quietT.Stop()
	}
	w.mu.Unlock()

	close(w.stop)
	_ = w.fsw.Close()
	w.loop.Wait()
}

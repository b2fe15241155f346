package workspace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/logging"
)

// DefaultPendingDebounce is how long a request file must stay unchanged
// before it is consumed, so half-written files are not read.
const DefaultPendingDebounce = 200 * time.Millisecond

// PendingRequest is a session-create or session-clear request dropped into
// pending-sessions/ or clear-requests/ by another process.
type PendingRequest struct {
	ID string `json:"id,omitempty"`
	CreateRequest
}

// PendingWatcher consumes request files. Every file is processed once and
// deleted, whether or not the request succeeded.
type PendingWatcher struct {
	svc      *Service
	debounce time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      conc.WaitGroup

	// OnProcessed, when set, is called after each request file is handled.
	OnProcessed func(path string, err error)
}

// NewPendingWatcher creates a watcher feeding svc.
func NewPendingWatcher(svc *Service) *PendingWatcher {
	return &PendingWatcher{
		svc:      svc,
		debounce: DefaultPendingDebounce,
		logger:   svc.logger.WithComponent("pending"),
	}
}

// SetDebounce changes the settle time for request files.
func (p *PendingWatcher) SetDebounce(d time.Duration) {
	if d > 0 {
		p.debounce = d
	}
}

// Start processes the requests already present, then watches for new ones.
func (p *PendingWatcher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher != nil {
		return nil
	}

	dirs := []string{p.svc.layout.PendingSessionsDir(), p.svc.layout.ClearRequestsDir()}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create request watcher")
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = w.Close()
			return errors.Wrapf(err, "failed to create %s", dir)
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return errors.Wrapf(err, "failed to watch %s", dir)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	p.watcher = w
	p.cancel = cancel

	p.wg.Go(func() {
		p.sweep(ctx, dirs)
		p.loop(ctx, w)
	})
	return nil
}

// Stop ends watching and waits for the request in progress.
func (p *PendingWatcher) Stop() {
	p.mu.Lock()
	w, cancel := p.watcher, p.cancel
	p.watcher, p.cancel = nil, nil
	p.mu.Unlock()

	if w == nil {
		return
	}
	cancel()
	_ = w.Close()
	p.wg.Wait()
}

func (p *PendingWatcher) sweep(ctx context.Context, dirs []string) {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			p.logger.Warn("failed to list requests", "dir", dir, "error", err)
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && isRequestFile(e.Name()) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			p.process(ctx, filepath.Join(dir, name))
		}
	}
}

func (p *PendingWatcher) loop(ctx context.Context, w *fsnotify.Watcher) {
	timer := time.NewTimer(0)
	<-timer.C

	pending := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isRequestFile(filepath.Base(ev.Name)) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(p.debounce)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for path := range pending {
				paths = append(paths, path)
			}
			pending = make(map[string]struct{})
			sort.Strings(paths)
			for _, path := range paths {
				p.process(ctx, path)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			p.logger.Warn("request watcher error", "error", err)
		}
	}
}

// process handles one request file and deletes it.
func (p *PendingWatcher) process(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("failed to read request", "path", path, "error", err)
		}
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("failed to delete request", "path", path, "error", err)
	}

	err = p.handle(ctx, path, data)
	if p.OnProcessed != nil {
		p.OnProcessed(path, err)
	}
}

func (p *PendingWatcher) handle(ctx context.Context, path string, data []byte) error {
	var req PendingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Warn("discarding malformed request", "path", path, "error", err)
		return errors.NewValidationError("malformed request file").WithCause(err)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	logger := p.logger.With("request", req.ID).WithSession(req.Name)

	var err error
	if filepath.Dir(path) == p.svc.layout.ClearRequestsDir() {
		err = p.svc.ClearSession(ctx, req.Name)
	} else {
		_, err = p.svc.CreateSession(ctx, req.CreateRequest)
	}
	if err != nil {
		logger.Warn("request failed", "path", path, "error", err)
		return err
	}
	logger.Info("request processed", "path", path)
	return nil
}

func isRequestFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}

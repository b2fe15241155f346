// Package workspace composes grove's components for one repository: the
// worktree manager, the session registry, the status tracker, the workflow
// engine and the creation queue. Front ends talk to a Service, usually
// through the bridge.
package workspace

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/grove/internal/agent"
	"github.com/Iron-Ham/grove/internal/config"
	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/event"
	"github.com/Iron-Ham/grove/internal/host"
	"github.com/Iron-Ham/grove/internal/logging"
	"github.com/Iron-Ham/grove/internal/queue"
	"github.com/Iron-Ham/grove/internal/session"
	"github.com/Iron-Ham/grove/internal/status"
	"github.com/Iron-Ham/grove/internal/workflow"
	"github.com/Iron-Ham/grove/internal/worktree"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBus publishes events on bus instead of a private one.
func WithBus(bus *event.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithTerminal sets the terminal host used by OpenSession.
func WithTerminal(t host.Terminal) Option {
	return func(s *Service) { s.terminal = t }
}

// WithAgents replaces the agent catalog.
func WithAgents(c *agent.Catalog) Option {
	return func(s *Service) { s.agents = c }
}

// WithExecutor replaces the git command executor.
func WithExecutor(e worktree.CommandExecutor) Option {
	return func(s *Service) { s.executor = e }
}

// Service is the workspace-level API.
type Service struct {
	root     string
	cfg      *config.Config
	layout   session.Layout
	fs       afero.Fs
	logger   *logging.Logger
	bus      *event.Bus
	terminal host.Terminal
	agents   *agent.Catalog
	executor worktree.CommandExecutor

	worktrees *worktree.Manager
	registry  *session.Registry
	tracker   *status.Tracker
	catalog   *workflow.Catalog
	engine    *workflow.Engine
	queue     *queue.Queue
	pending   *PendingWatcher

	mu         sync.Mutex
	pullStatus map[string]status.Change
	closed     bool
}

// New creates the Service for the repository containing root. A nil cfg
// uses config.Default().
func New(root string, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	mainRoot, err := worktree.FindMainRoot(root)
	if err != nil {
		return nil, err
	}

	s := &Service{
		root:       mainRoot,
		cfg:        cfg,
		fs:         afero.NewOsFs(),
		logger:     logging.NopLogger(),
		terminal:   host.Nop{},
		pullStatus: make(map[string]status.Change),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("workspace", mainRoot)
	if s.bus == nil {
		s.bus = event.NewBus(s.logger)
	}
	if s.agents == nil {
		s.agents = agent.NewCatalog()
	}

	s.layout = session.NewLayout(mainRoot, cfg.Paths.ResolveStateDir(mainRoot))

	wtOpts := []worktree.Option{
		worktree.WithFetchTimeout(cfg.Worktree.FetchTimeout()),
		worktree.WithLogger(s.logger),
	}
	if s.executor != nil {
		wtOpts = append(wtOpts, worktree.WithExecutor(s.executor))
	}
	s.worktrees, err = worktree.New(mainRoot, cfg.Paths.ResolveWorktreeDir(mainRoot), wtOpts...)
	if err != nil {
		return nil, err
	}

	s.registry = session.NewRegistry(s.layout, s.worktrees, session.WithFs(s.fs), session.WithLogger(s.logger))
	s.tracker = status.NewTracker(s.onStatusChange,
		status.WithDebounce(cfg.Status.Debounce()),
		status.WithQuietTimeout(cfg.Status.QuietTimeout()),
		status.WithLogger(s.logger))
	s.catalog = workflow.NewCatalog(s.layout.WorkflowsDir(),
		workflow.WithCatalogFs(s.fs),
		workflow.WithCatalogLogger(s.logger))
	s.engine = workflow.NewEngine(s.catalog, session.NewFileStore(s.fs, s.layout.StateDir),
		workflow.WithEngineLogger(s.logger),
		workflow.WithTransitionHook(s.onWorkflowTransition))
	s.queue = queue.New(queue.WithCaseFolding(session.FoldCase()))
	s.pending = NewPendingWatcher(s)
	return s, nil
}

// Root returns the main repository root.
func (s *Service) Root() string { return s.root }

// Layout returns the state layout.
func (s *Service) Layout() session.Layout { return s.layout }

// Bus returns the event bus the service publishes on.
func (s *Service) Bus() *event.Bus { return s.bus }

// Config returns the configuration in use.
func (s *Service) Config() *config.Config { return s.cfg }

// Start begins watching the status of every tracked session and starts
// consuming pending requests.
func (s *Service) Start(ctx context.Context) error {
	sessions, err := s.registry.Discover(ctx)
	if err != nil {
		return err
	}

	p := pool.New().WithErrors().WithMaxGoroutines(8)
	for _, sess := range sessions {
		if !sess.Tracked {
			continue
		}
		p.Go(func() error { return s.watch(sess.Descriptor) })
	}
	if err := p.Wait(); err != nil {
		s.logger.Warn("some session watchers failed to start", "error", err)
	}

	return s.pending.Start(ctx)
}

// Close stops every watcher. The service cannot be used afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.pending.Stop()
	s.tracker.DisposeAll()
	s.logger.Info("workspace closed")
	return nil
}

// watch follows the status signal matching the session's agent.
func (s *Service) watch(d session.Descriptor) error {
	a, err := s.agents.Get(d.AgentName)
	if err != nil || a.StatusSource() == status.SourcePush {
		return s.tracker.WatchDescriptor(d.Name, s.layout.StatusPath(d.Name))
	}
	return s.tracker.WatchTranscript(d.Name, s.layout.TranscriptPath(d.Name))
}

func (s *Service) onStatusChange(c status.Change) {
	s.mu.Lock()
	if c.Source == status.SourcePull {
		s.pullStatus[c.Key] = c
	}
	s.mu.Unlock()

	s.logger.WithSession(c.Key).Debug("status changed", "status", c.Status, "source", c.Source)
	s.bus.Publish(event.NewSessionStatusChangedEvent(c.Key, string(c.Status), c.Message, c.Timestamp))
}

func (s *Service) onWorkflowTransition(sessionID, stepID string, completed bool) {
	s.bus.Publish(event.NewWorkflowAdvancedEvent(sessionID, stepID, completed))
}

func (s *Service) forgetStatus(name string) {
	s.mu.Lock()
	delete(s.pullStatus, name)
	s.mu.Unlock()
}

// find resolves a session name, failing with a NotFoundError.
func (s *Service) find(ctx context.Context, name string) (*session.Session, error) {
	if name == "" {
		return nil, errors.NewValidationError("session name is required").WithField("name")
	}
	return s.registry.Find(ctx, name)
}

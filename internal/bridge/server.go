package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/event"
	"github.com/Iron-Ham/grove/internal/logging"
	"github.com/Iron-Ham/grove/internal/workspace"
)

// HandlerFunc serves one method. The returned value becomes the result.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithVersion sets the version reported by initialize.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithMaxConnections bounds concurrently served socket connections.
// Zero means no bound.
func WithMaxConnections(n int) Option {
	return func(s *Server) { s.limiter = newConnLimiter(n) }
}

// WithShutdownHook registers fn to run once when the server shuts down.
func WithShutdownHook(fn func(reason string)) Option {
	return func(s *Server) { s.hooks = append(s.hooks, fn) }
}

// notified lists the bus events forwarded to clients.
var notified = []string{
	event.TypeSessionCreated,
	event.TypeSessionDeleted,
	event.TypeSessionStatusChanged,
}

// Server serves one workspace over any number of connections.
type Server struct {
	root     string
	version  string
	logger   *logging.Logger
	bus      *event.Bus
	subs     []string
	handlers map[string]HandlerFunc
	limiter  *connLimiter
	hooks    []func(reason string)

	mu       sync.Mutex
	conns    map[*conn]struct{}
	listener net.Listener

	done     chan struct{}
	stopOnce sync.Once
	wg       conc.WaitGroup
}

type conn struct {
	id          string
	codec       *Codec
	closer      io.Closer
	initialized atomic.Bool
}

// New creates a server for a workspace service. Shutting the server down
// closes the service.
func New(svc *workspace.Service, opts ...Option) *Server {
	s := NewServer(svc.Root(), svc.Bus(), opts...)
	registerWorkspace(s, svc)
	s.hooks = append(s.hooks, func(string) {
		if err := svc.Close(); err != nil {
			s.logger.Warn("failed to close workspace", "error", err)
		}
	})
	return s
}

// NewServer creates a server with no methods besides initialize and
// shutdown. Session events on bus are forwarded as notifications; bus may
// be nil.
func NewServer(root string, bus *event.Bus, opts ...Option) *Server {
	s := &Server{
		root:     root,
		version:  "dev",
		logger:   logging.NopLogger(),
		bus:      bus,
		handlers: make(map[string]HandlerFunc),
		limiter:  newConnLimiter(0),
		conns:    make(map[*conn]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("bridge")

	if bus != nil {
		for _, eventType := range notified {
			s.subs = append(s.subs, bus.Subscribe(eventType, s.forward))
		}
	}
	return s
}

// Handle registers fn for method, replacing any previous handler.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.handlers[method] = fn
}

// Methods returns the registered method names in order.
func (s *Server) Methods() []string {
	methods := []string{MethodInitialize, MethodShutdown}
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Done is closed once the server has shut down.
func (s *Server) Done() <-chan struct{} { return s.done }

// Serve accepts connections from ln until the server shuts down or ctx
// ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept failed")
		}

		if err := s.limiter.Acquire(ctx); err != nil {
			_ = c.Close()
			return nil
		}
		s.wg.Go(func() {
			defer s.limiter.Release()
			if err := s.ServeConn(ctx, c); err != nil {
				s.logger.Warn("connection ended with error", "error", err)
			}
		})
	}
}

// Wait blocks until every connection started by Serve has ended.
func (s *Server) Wait() { s.wg.Wait() }

// ServeConn serves a single connection until it closes, ctx ends or the
// server shuts down. Requests are handled in arrival order.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) error {
	c := &conn{
		id:     uuid.NewString()[:8],
		codec:  NewCodec(rwc, rwc),
		closer: rwc,
	}

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		_ = rwc.Close()
		return nil
	default:
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = rwc.Close()
	}()

	stop := context.AfterFunc(ctx, func() { _ = rwc.Close() })
	defer stop()

	logger := s.logger.With("conn", c.id)
	logger.Debug("connection opened")

	for {
		msg, err := c.codec.Read()
		if err != nil {
			var protoErr *errors.ProtocolError
			if errors.As(err, &protoErr) {
				logger.Warn("discarding malformed message", "error", err)
				s.reply(c, "", nil, &Error{Code: CodeParseError, Message: err.Error()})
				continue
			}
			if s.closing(ctx) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				logger.Debug("connection closed")
				return nil
			}
			return err
		}

		switch {
		case msg.IsRequest():
			s.dispatch(ctx, c, msg, logger)
		case msg.IsNotification():
			if msg.Method == MethodShutdown {
				if !c.initialized.Load() {
					logger.Warn("ignoring shutdown from uninitialized connection")
					continue
				}
				s.Shutdown(shutdownReason(msg.Params))
				return nil
			}
			logger.Debug("ignoring notification", "method", msg.Method)
		default:
			s.reply(c, msg.ID, nil, newError(CodeInvalidRequest, "message is neither a request nor a notification"))
		}

		if s.closing(ctx) {
			return nil
		}
	}
}

func (s *Server) closing(ctx context.Context) bool {
	select {
	case <-s.done:
		return true
	default:
		return ctx.Err() != nil
	}
}

func (s *Server) dispatch(ctx context.Context, c *conn, msg *Message, logger *logging.Logger) {
	logger = logger.With("method", msg.Method, "id", msg.ID)

	switch {
	case msg.Method == MethodInitialize:
		result, err := s.initialize(c, msg.Params)
		s.reply(c, msg.ID, result, err)
		return
	case !c.initialized.Load():
		s.reply(c, msg.ID, nil, newError(CodeNotInitialized, "connection not initialized"))
		return
	case msg.Method == MethodShutdown:
		s.reply(c, msg.ID, OKResult{OK: true}, nil)
		s.Shutdown(shutdownReason(msg.Params))
		return
	}

	h, ok := s.handlers[msg.Method]
	if !ok {
		s.reply(c, msg.ID, nil, newError(CodeMethodNotFound, "unknown method %q", msg.Method))
		return
	}

	result, err := s.call(ctx, h, msg.Params)
	if err != nil {
		rpcErr := toError(err)
		if rpcErr.Code == CodeInternal {
			logger.Error("request failed", "error", err)
		} else {
			logger.Info("request rejected", "code", rpcErr.Code, "error", err)
		}
		s.reply(c, msg.ID, nil, rpcErr)
		return
	}
	logger.Debug("request served")
	s.reply(c, msg.ID, result, nil)
}

// call runs h, turning a panic into an internal error.
func (s *Server) call(ctx context.Context, h HandlerFunc, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			result, err = nil, newError(CodeInternal, "internal error: %v", r)
		}
	}()
	return h(ctx, params)
}

func (s *Server) initialize(c *conn, raw json.RawMessage) (*InitializeResult, error) {
	var p InitializeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.WorkspaceRoot != "" && !sameDir(p.WorkspaceRoot, s.root) {
		return nil, errors.NewValidationError("server does not own this workspace").
			WithField("workspaceRoot").WithValue(p.WorkspaceRoot)
	}

	c.initialized.Store(true)
	s.logger.Info("connection initialized", "conn", c.id, "client_version", p.ClientVersion)

	notifications := append([]string(nil), notified...)
	return &InitializeResult{
		ServerVersion:   s.version,
		ProtocolVersion: ProtocolVersion,
		WorkspaceRoot:   s.root,
		Capabilities: Capabilities{
			Methods:       s.Methods(),
			Notifications: notifications,
		},
	}, nil
}

func (s *Server) reply(c *conn, id string, result any, err error) {
	msg := &Message{ID: id}
	if err != nil {
		msg.Error = toError(err)
	} else {
		data, mErr := json.Marshal(result)
		if mErr != nil {
			msg.Error = newError(CodeInternal, "failed to encode result: %v", mErr)
		} else {
			msg.Result = data
		}
	}
	if wErr := c.codec.Write(msg); wErr != nil {
		s.logger.Debug("failed to write response", "conn", c.id, "error", wErr)
	}
}

// forward broadcasts a bus event to every initialized connection.
func (s *Server) forward(e event.Event) {
	params := notificationParams(e)
	if params == nil {
		return
	}
	data, err := json.Marshal(params)
	if err != nil {
		s.logger.Warn("failed to encode notification", "event", e.EventType(), "error", err)
		return
	}
	msg := &Message{Method: e.EventType(), Params: data}

	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		if c.initialized.Load() {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.codec.Write(msg); err != nil {
			s.logger.Debug("failed to deliver notification", "conn", c.id, "error", err)
		}
	}
}

// Shutdown stops the server: hooks run, the listener and every connection
// close. Safe to call more than once.
func (s *Server) Shutdown(reason string) {
	s.stopOnce.Do(func() {
		s.logger.Info("server shutting down", "reason", reason)

		if s.bus != nil {
			for _, id := range s.subs {
				s.bus.Unsubscribe(id)
			}
		}

		s.mu.Lock()
		close(s.done)
		ln := s.listener
		conns := make([]*conn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		for _, hook := range s.hooks {
			hook(reason)
		}
		if ln != nil {
			_ = ln.Close()
		}
		for _, c := range conns {
			_ = c.closer.Close()
		}
	})
}

func shutdownReason(raw json.RawMessage) string {
	var p ShutdownParams
	_ = json.Unmarshal(raw, &p)
	if p.Reason == "" {
		return "requested"
	}
	return p.Reason
}

// decodeParams unmarshals raw into v. Absent params leave v untouched.
func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.NewValidationError("invalid params").WithCause(err)
	}
	return nil
}

func sameDir(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

package bridge

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/grove/internal/config"
	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/event"
	"github.com/Iron-Ham/grove/internal/testutil"
)

type notification struct {
	method string
	params json.RawMessage
}

type notificationLog struct {
	mu   sync.Mutex
	list []notification
}

func (l *notificationLog) handle(method string, params json.RawMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, notification{method: method, params: params})
}

func (l *notificationLog) methods() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.list))
	for _, n := range l.list {
		out = append(out, n.method)
	}
	return out
}

func (l *notificationLog) find(method string) (json.RawMessage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.list {
		if n.method == method {
			return n.params, true
		}
	}
	return nil, false
}

// connect serves one end of an in-memory pipe and returns a client on the
// other end.
func connect(t *testing.T, s *Server, opts ...ClientOption) *Client {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.ServeConn(context.Background(), serverSide)
	}()
	c := NewClient(clientSide, opts...)
	t.Cleanup(func() {
		_ = c.Close()
		<-done
	})
	return c
}

func initialized(t *testing.T, s *Server, opts ...ClientOption) *Client {
	t.Helper()
	c := connect(t, s, opts...)
	if _, err := c.Initialize(context.Background(), "test", ""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return c
}

func errorCode(t *testing.T, err error) int {
	t.Helper()
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v (%T), want *Error", err, err)
	}
	return rpcErr.Code
}

func newEchoServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s := NewServer(t.TempDir(), nil, opts...)
	s.Handle("echo", method(func(_ context.Context, p SessionNameParams) (any, error) {
		return p, nil
	}))
	return s
}

func TestServer_RequiresInitialize(t *testing.T) {
	s := newEchoServer(t)
	c := connect(t, s)
	ctx := context.Background()

	err := c.Call(ctx, "echo", SessionNameParams{Name: "a"}, nil)
	if code := errorCode(t, err); code != CodeNotInitialized {
		t.Errorf("code = %d, want %d", code, CodeNotInitialized)
	}

	if _, err := c.Initialize(ctx, "test", ""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	var out SessionNameParams
	if err := c.Call(ctx, "echo", SessionNameParams{Name: "a"}, &out); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out.Name != "a" {
		t.Errorf("echo = %+v", out)
	}
}

func TestServer_Initialize(t *testing.T) {
	root := t.TempDir()
	s := NewServer(root, nil, WithVersion("1.2.3"))
	s.Handle("echo", func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	c := connect(t, s)

	res, err := c.Initialize(context.Background(), "test", root)
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if res.ServerVersion != "1.2.3" || res.WorkspaceRoot != root || res.ProtocolVersion != ProtocolVersion {
		t.Errorf("result = %+v", res)
	}
	if !slices.Contains(res.Capabilities.Methods, "echo") || !slices.Contains(res.Capabilities.Methods, MethodShutdown) {
		t.Errorf("methods = %v", res.Capabilities.Methods)
	}
	if len(res.Capabilities.Notifications) != 3 {
		t.Errorf("notifications = %v", res.Capabilities.Notifications)
	}
}

func TestServer_InitializeWrongWorkspace(t *testing.T) {
	s := NewServer(t.TempDir(), nil)
	c := connect(t, s)

	_, err := c.Initialize(context.Background(), "test", t.TempDir())
	if code := errorCode(t, err); code != CodeInvalidParams {
		t.Errorf("code = %d, want %d", code, CodeInvalidParams)
	}
}

func TestServer_ErrorCodes(t *testing.T) {
	s := newEchoServer(t)
	s.Handle("fail.notfound", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.NewNotFoundError("session", "x").WithCause(errors.ErrSessionNotFound)
	})
	s.Handle("fail.git", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.NewGitError("worktree add failed", nil)
	})
	s.Handle("fail.panic", func(context.Context, json.RawMessage) (any, error) {
		panic("handler bug")
	})
	c := initialized(t, s)

	tests := []struct {
		method string
		params any
		code   int
	}{
		{"nope", nil, CodeMethodNotFound},
		{"echo", json.RawMessage(`"not an object"`), CodeInvalidParams},
		{"fail.notfound", nil, CodeNotFound},
		{"fail.git", nil, CodeGitError},
		{"fail.panic", nil, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			err := c.Call(context.Background(), tt.method, tt.params, nil)
			if code := errorCode(t, err); code != tt.code {
				t.Errorf("code = %d, want %d", code, tt.code)
			}
		})
	}

	// A failed request never takes the connection down.
	if err := c.Call(context.Background(), "echo", SessionNameParams{Name: "still"}, nil); err != nil {
		t.Errorf("Call() after failures error = %v", err)
	}
}

func TestServer_MalformedLine(t *testing.T) {
	s := newEchoServer(t)
	serverSide, clientSide := net.Pipe()
	go func() { _ = s.ServeConn(context.Background(), serverSide) }()
	t.Cleanup(func() { _ = clientSide.Close() })

	codec := NewCodec(clientSide, clientSide)
	go func() { _, _ = clientSide.Write([]byte("{broken\n")) }()

	msg, err := codec.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if msg.Error == nil || msg.Error.Code != CodeParseError {
		t.Fatalf("response = %+v, want parse error", msg)
	}

	go func() {
		_ = codec.Write(&Message{ID: "7", Method: MethodInitialize, Params: json.RawMessage(`{}`)})
	}()
	msg, err = codec.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if msg.ID != "7" || msg.Error != nil {
		t.Errorf("initialize response = %+v", msg)
	}
}

func TestServer_Notifications(t *testing.T) {
	bus := event.NewBus(nil)
	s := NewServer(t.TempDir(), bus)

	log := &notificationLog{}
	initialized(t, s, WithNotificationHandler(log.handle))

	quiet := &notificationLog{}
	connect(t, s, WithNotificationHandler(quiet.handle))

	bus.Publish(event.NewSessionCreatedEvent("feat", "/wt/feat", "feat", "claude", "feature"))
	bus.Publish(event.NewSessionPinChangedEvent("feat", true))
	bus.Publish(event.NewSessionStatusChangedEvent("feat", "working", "", time.Now()))
	bus.Publish(event.NewSessionDeletedEvent("feat", true))

	testutil.Eventually(t, 2*time.Second, func() bool {
		return len(log.methods()) == 3
	}, "notifications = %v", log.methods())

	want := []string{event.TypeSessionCreated, event.TypeSessionStatusChanged, event.TypeSessionDeleted}
	if got := log.methods(); !slices.Equal(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}

	raw, _ := log.find(event.TypeSessionCreated)
	var created SessionCreatedParams
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatal(err)
	}
	if created.Name != "feat" || created.WorktreePath != "/wt/feat" || created.Workflow != "feature" {
		t.Errorf("created = %+v", created)
	}

	raw, _ = log.find(event.TypeSessionDeleted)
	var deleted SessionDeletedParams
	if err := json.Unmarshal(raw, &deleted); err != nil {
		t.Fatal(err)
	}
	if !deleted.BranchRetained {
		t.Errorf("deleted = %+v", deleted)
	}

	if got := quiet.methods(); len(got) != 0 {
		t.Errorf("uninitialized connection got %v", got)
	}
}

func TestServer_ShutdownRequest(t *testing.T) {
	var (
		mu      sync.Mutex
		reasons []string
	)
	s := newEchoServer(t, WithShutdownHook(func(reason string) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	}))
	c := initialized(t, s)

	if err := c.Shutdown(context.Background(), "editor closed"); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}

	s.Shutdown("again")
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(reasons, []string{"editor closed"}) {
		t.Errorf("hook reasons = %v", reasons)
	}
}

func TestServer_ShutdownNotification(t *testing.T) {
	s := newEchoServer(t)
	c := initialized(t, s)

	if err := c.Notify(MethodShutdown, ShutdownParams{Reason: "bye"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}

	// New connections are refused once the server is down.
	late := connect(t, s)
	select {
	case <-late.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("late connection was not closed")
	}
}

func TestServer_ShutdownRequiresInitialize(t *testing.T) {
	s := newEchoServer(t)
	c := connect(t, s)
	ctx := context.Background()

	if err := c.Notify(MethodShutdown, ShutdownParams{Reason: "early"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	err := c.Call(ctx, MethodShutdown, ShutdownParams{Reason: "early"}, nil)
	if code := errorCode(t, err); code != CodeNotInitialized {
		t.Errorf("shutdown request code = %d, want %d", code, CodeNotInitialized)
	}
	select {
	case <-s.Done():
		t.Fatal("uninitialized connection shut the server down")
	default:
	}

	if _, err := c.Initialize(ctx, "test", ""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	var out SessionNameParams
	if err := c.Call(ctx, "echo", SessionNameParams{Name: "still-up"}, &out); err != nil || out.Name != "still-up" {
		t.Errorf("echo after ignored shutdown = %+v, %v", out, err)
	}
}

func shortTempDir(t *testing.T) string {
	t.Helper()
	// Unix socket paths are length-limited, so avoid the long t.TempDir().
	dir, err := os.MkdirTemp("", "grove")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestServer_ServeSocket(t *testing.T) {
	root := t.TempDir()
	dir := shortTempDir(t)
	socket := SocketPath(dir, root)

	ln, err := Listen(socket)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	s := newEchoServer(t)
	s.root = root
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Serve(ctx, ln) }()

	if _, err := Listen(socket); !errors.Is(err, errors.ErrServerLocked) {
		t.Errorf("second Listen() error = %v, want ErrServerLocked", err)
	}

	cfg := config.Default()
	cfg.Bridge.SocketDir = dir
	launcher := NewLauncher(cfg, WithSpawner(func(context.Context, string, string) error {
		t.Error("spawner called while a server is listening")
		return nil
	}))

	c, err := launcher.Dial(ctx, root)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	var out SessionNameParams
	if err := c.Call(ctx, "echo", SessionNameParams{Name: "over-socket"}, &out); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out.Name != "over-socket" {
		t.Errorf("echo = %+v", out)
	}
}

func TestListen_ReplacesStaleSocket(t *testing.T) {
	socket := filepath.Join(shortTempDir(t), "stale.sock")
	if err := os.WriteFile(socket, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	ln, err := Listen(socket)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	_ = ln.Close()
}

func TestLauncher_SpawnsServer(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Bridge.SocketDir = shortTempDir(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spawned := 0
	launcher := NewLauncher(cfg, WithSpawner(func(_ context.Context, gotRoot, socket string) error {
		spawned++
		if gotRoot != root {
			t.Errorf("spawn root = %q, want %q", gotRoot, root)
		}
		go func() {
			// The socket appears a little after the spawn returns.
			time.Sleep(100 * time.Millisecond)
			ln, err := Listen(socket)
			if err != nil {
				t.Errorf("Listen() error = %v", err)
				return
			}
			_ = NewServer(root, nil).Serve(ctx, ln)
		}()
		return nil
	}))

	c, err := launcher.Dial(ctx, root)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = c.Close() }()
	if spawned != 1 {
		t.Errorf("spawned = %d, want 1", spawned)
	}
}

func TestLauncher_StartTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.SocketDir = shortTempDir(t)
	cfg.Bridge.StartTimeoutSeconds = 1

	launcher := NewLauncher(cfg, WithSpawner(func(context.Context, string, string) error { return nil }))
	_, err := launcher.Dial(context.Background(), t.TempDir())
	if !errors.Is(err, errors.ErrTimeout) {
		t.Errorf("Dial() error = %v, want timeout", err)
	}
}

func TestWorkspaceHash(t *testing.T) {
	a := WorkspaceHash("/repo/a")
	if a != WorkspaceHash("/repo/a/") {
		t.Error("trailing slash changed the hash")
	}
	if a == WorkspaceHash("/repo/b") {
		t.Error("different roots share a hash")
	}
	if len(a) != 16 {
		t.Errorf("len(hash) = %d, want 16", len(a))
	}
}

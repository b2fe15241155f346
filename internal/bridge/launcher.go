package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Iron-Ham/grove/internal/config"
	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/logging"
)

const dialRetryInterval = 50 * time.Millisecond

// WorkspaceHash identifies a workspace root in socket and log paths.
func WorkspaceHash(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	sum := sha256.Sum256([]byte(filepath.Clean(root)))
	return hex.EncodeToString(sum[:])[:16]
}

// SocketPath returns the socket of the server owning root. An empty dir
// means the OS temp dir.
func SocketPath(dir, root string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "grove-"+WorkspaceHash(root)+".sock")
}

// Spawner starts a detached server for root listening on socket.
type Spawner func(ctx context.Context, root, socket string) error

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithSpawner replaces the process spawner.
func WithSpawner(fn Spawner) LauncherOption {
	return func(l *Launcher) { l.spawn = fn }
}

// WithServeArgs adds arguments placed before "serve" on the spawned
// command line, such as a config flag.
func WithServeArgs(args ...string) LauncherOption {
	return func(l *Launcher) { l.args = append(l.args, args...) }
}

// WithLauncherLogger sets the launcher logger.
func WithLauncherLogger(logger *logging.Logger) LauncherOption {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClientVersion sets the version sent on initialize.
func WithClientVersion(v string) LauncherOption {
	return func(l *Launcher) { l.version = v }
}

// Launcher connects to a workspace's server, starting one when none is
// listening.
type Launcher struct {
	socketDir    string
	startTimeout time.Duration
	executable   string
	args         []string
	version      string
	logger       *logging.Logger
	spawn        Spawner
}

// NewLauncher creates a launcher from the bridge configuration.
func NewLauncher(cfg *config.Config, opts ...LauncherOption) *Launcher {
	if cfg == nil {
		cfg = config.Default()
	}
	l := &Launcher{
		socketDir:    cfg.Bridge.SocketDir,
		startTimeout: cfg.Bridge.StartTimeout(),
		version:      "dev",
		logger:       logging.NopLogger(),
	}
	if exe, err := os.Executable(); err == nil {
		l.executable = exe
	}
	l.spawn = l.spawnProcess
	for _, opt := range opts {
		opt(l)
	}
	if l.startTimeout <= 0 {
		l.startTimeout = 10 * time.Second
	}
	return l
}

// SocketPath returns the socket used for root.
func (l *Launcher) SocketPath(root string) string {
	return SocketPath(l.socketDir, root)
}

// Dial returns an initialized client for root.
func (l *Launcher) Dial(ctx context.Context, root string, opts ...ClientOption) (*Client, error) {
	socket := l.SocketPath(root)

	conn, err := dialUnix(ctx, socket)
	if err != nil {
		l.logger.Info("no server listening, starting one", "workspace", root, "socket", socket)
		if err := l.spawn(ctx, root, socket); err != nil {
			return nil, errors.Wrap(err, "failed to start bridge server")
		}
		conn, err = l.waitForSocket(ctx, socket)
		if err != nil {
			return nil, err
		}
	}

	return l.handshake(ctx, conn, root, opts)
}

// Connect returns an initialized client for the server of root listening
// on socket. It never starts a server.
func (l *Launcher) Connect(ctx context.Context, socket, root string, opts ...ClientOption) (*Client, error) {
	conn, err := dialUnix(ctx, socket)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", socket)
	}
	return l.handshake(ctx, conn, root, opts)
}

func (l *Launcher) handshake(ctx context.Context, conn net.Conn, root string, opts []ClientOption) (*Client, error) {
	client := NewClient(conn, append([]ClientOption{WithClientLogger(l.logger)}, opts...)...)
	if _, err := client.Initialize(ctx, l.version, root); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (l *Launcher) waitForSocket(ctx context.Context, socket string) (net.Conn, error) {
	deadline := time.NewTimer(l.startTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(dialRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, errors.NewTimeoutError("waiting for bridge server socket "+socket, l.startTimeout)
		case <-ticker.C:
			if conn, err := dialUnix(ctx, socket); err == nil {
				return conn, nil
			}
		}
	}
}

func (l *Launcher) spawnProcess(_ context.Context, root, socket string) error {
	if l.executable == "" {
		return errors.New("cannot locate the grove executable")
	}
	args := append(append([]string(nil), l.args...), "serve", "--workspace", root, "--socket", socket)

	// The server outlives the caller, so it gets no ctx and its own session.
	cmd := exec.Command(l.executable, args...)
	cmd.Dir = root
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func dialUnix(ctx context.Context, socket string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", socket)
}

// Listen opens the socket for a server, replacing a stale socket file
// left by a dead server. It fails if another server is accepting on it.
func Listen(socket string) (net.Listener, error) {
	if _, err := os.Stat(socket); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		conn, dialErr := dialUnix(ctx, socket)
		cancel()
		if dialErr == nil {
			_ = conn.Close()
			return nil, errors.Wrapf(errors.ErrServerLocked, "socket %s is in use", socket)
		}
		if err := os.Remove(socket); err != nil {
			return nil, errors.Wrap(err, "failed to remove stale socket")
		}
	}
	if err := os.MkdirAll(filepath.Dir(socket), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create socket directory")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "unix", socket)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", socket)
	}
	if err := os.Chmod(socket, 0o600); err != nil {
		_ = ln.Close()
		return nil, errors.Wrap(err, "failed to restrict socket permissions")
	}
	return ln, nil
}

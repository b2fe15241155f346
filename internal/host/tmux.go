package host

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/logging"
)

// SocketName is the tmux socket grove keeps its sessions on, isolated from
// the user's own tmux server.
const SocketName = "grove"

// Runner executes tmux with the given arguments.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// TmuxOption configures a Tmux host.
type TmuxOption func(*Tmux)

// WithSocket overrides the tmux socket name.
func WithSocket(socket string) TmuxOption {
	return func(t *Tmux) { t.socket = socket }
}

// WithRunner replaces the tmux invocation. Tests use it to record calls.
func WithRunner(run Runner) TmuxOption {
	return func(t *Tmux) { t.run = run }
}

// WithTmuxLogger sets the logger.
func WithTmuxLogger(logger *logging.Logger) TmuxOption {
	return func(t *Tmux) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithGracefulStop sets how long CloseTerminal waits after Ctrl+C before
// killing the session.
func WithGracefulStop(d time.Duration) TmuxOption {
	return func(t *Tmux) { t.gracefulStop = d }
}

// Tmux hosts each session in its own tmux session on a dedicated socket.
type Tmux struct {
	socket       string
	run          Runner
	logger       *logging.Logger
	gracefulStop time.Duration
}

// NewTmux creates a tmux host.
func NewTmux(opts ...TmuxOption) *Tmux {
	t := &Tmux{
		socket:       SocketName,
		logger:       logging.NopLogger(),
		gracefulStop: DefaultGracefulStopTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.run == nil {
		t.run = t.exec
	}
	t.logger = t.logger.WithComponent("tmux")
	return t
}

// Available reports whether the tmux binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// Socket returns the socket name.
func (t *Tmux) Socket() string { return t.socket }

// BaseArgs returns the socket arguments prepended to every tmux call.
func (t *Tmux) BaseArgs() []string {
	return []string{"-L", t.socket}
}

func (t *Tmux) exec(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "tmux", append(t.BaseArgs(), args...)...)
	return cmd.CombinedOutput()
}

// SessionName maps a terminal title to a valid tmux session name. tmux
// treats '.' and ':' as target separators.
func SessionName(title string) string {
	r := strings.NewReplacer(".", "_", ":", "_", " ", "_")
	return "grove-" + r.Replace(title)
}

// AttachCommand returns the shell command a user runs to attach to title.
func (t *Tmux) AttachCommand(title string) string {
	return fmt.Sprintf("tmux -L %s attach-session -t %s", t.socket, SessionName(title))
}

// Exists reports whether a terminal called title is running.
func (t *Tmux) Exists(ctx context.Context, title string) bool {
	_, err := t.run(ctx, "has-session", "-t", SessionName(title))
	return err == nil
}

func (t *Tmux) OpenTerminal(ctx context.Context, title, cwd, cmd string) error {
	name := SessionName(title)
	if t.Exists(ctx, title) {
		return t.Focus(ctx, title)
	}

	if out, err := t.run(ctx, "new-session", "-d", "-s", name, "-c", cwd); err != nil {
		return t.fail("failed to create tmux session", name, err, out)
	}
	t.logger.Info("terminal opened", "session", name, "cwd", cwd)
	if cmd == "" {
		return nil
	}
	return t.SendText(ctx, title, cmd)
}

func (t *Tmux) SendText(ctx context.Context, title, text string) error {
	name := SessionName(title)
	if out, err := t.run(ctx, "send-keys", "-t", name, "-l", text); err != nil {
		return t.fail("failed to send text", name, err, out)
	}
	if out, err := t.run(ctx, "send-keys", "-t", name, "Enter"); err != nil {
		return t.fail("failed to send text", name, err, out)
	}
	return nil
}

// Focus switches an attached grove client to title. Without an attached
// client there is nothing to focus and the terminal keeps running detached.
func (t *Tmux) Focus(ctx context.Context, title string) error {
	name := SessionName(title)
	if !t.Exists(ctx, title) {
		return errors.NewNotFoundError("terminal", title)
	}
	if out, err := t.run(ctx, "switch-client", "-t", name); err != nil {
		t.logger.Debug("no client to focus", "session", name, "output", strings.TrimSpace(string(out)))
	}
	return nil
}

func (t *Tmux) fail(message, name string, err error, out []byte) error {
	if msg := strings.TrimSpace(string(out)); msg != "" {
		return fmt.Errorf("%s %s: %w: %s", message, name, err, msg)
	}
	return fmt.Errorf("%s %s: %w", message, name, err)
}

package host

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultGracefulStopTimeout is how long CloseTerminal waits after Ctrl+C
// before force-killing the agent.
const DefaultGracefulStopTimeout = 500 * time.Millisecond

// CloseTerminal stops the agent in title and kills its tmux session. The
// process tree is captured first so nothing survives the session.
func (t *Tmux) CloseTerminal(ctx context.Context, title string) error {
	name := SessionName(title)
	if !t.Exists(ctx, title) {
		return nil
	}

	pids := t.processTree(ctx, name)
	_, _ = t.run(ctx, "send-keys", "-t", name, "C-c")
	if len(pids) > 0 {
		waitForExit(pids[0], t.gracefulStop)
	}
	if out, err := t.run(ctx, "kill-session", "-t", name); err != nil {
		t.logger.Warn("failed to kill tmux session", "session", name, "error", err, "output", strings.TrimSpace(string(out)))
	}
	for _, pid := range pids {
		if processAlive(pid) {
			killTree(pid)
		}
	}
	t.logger.Info("terminal closed", "session", name)
	return nil
}

// processTree returns the pane PID followed by its descendants.
func (t *Tmux) processTree(ctx context.Context, name string) []int {
	out, err := t.run(ctx, "display-message", "-t", name, "-p", "#{pane_pid}")
	if err != nil {
		return nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil || pid <= 0 {
		return nil
	}
	return append([]int{pid}, descendants(pid)...)
}

func descendants(pid int) []int {
	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil
	}
	var pids []int
	for _, line := range strings.Fields(string(out)) {
		child, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, child)
		pids = append(pids, descendants(child)...)
	}
	return pids
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// killTree sends SIGKILL to pid and its descendants, deepest first.
func killTree(pid int) {
	children := descendants(pid)
	for i := len(children) - 1; i >= 0; i-- {
		if processAlive(children[i]) {
			_ = syscall.Kill(children[i], syscall.SIGKILL)
		}
	}
	if processAlive(pid) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}

// waitForExit polls until pid exits or timeout passes.
func waitForExit(pid int, timeout time.Duration) bool {
	if !processAlive(pid) {
		return true
	}
	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			return !processAlive(pid)
		case <-ticker.C:
			if !processAlive(pid) {
				return true
			}
		}
	}
}

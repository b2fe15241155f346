package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/logging"
)

// ServerLock is held by the bridge server that owns a workspace.
type ServerLock struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Workspace string    `json:"workspace"`
	Socket    string    `json:"socket,omitempty"`
	StartedAt time.Time `json:"started_at"`

	lockFile string
	logger   *logging.Logger
}

// AcquireServerLock takes the workspace's server lock. It fails with
// ErrServerLocked while another live process holds it; locks left by dead
// processes are removed. The logger may be nil.
func AcquireServerLock(layout Layout, socket string, logger *logging.Logger) (*ServerLock, error) {
	lockPath := layout.ServerLockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create lock directory")
	}

	if existing, err := ReadServerLock(lockPath); err == nil {
		if isProcessAlive(existing.PID) {
			return nil, errors.Wrapf(errors.ErrServerLocked, "PID %d on %s", existing.PID, existing.Hostname)
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "failed to remove stale lock")
		}
		if logger != nil {
			logger.Warn("stale server lock cleaned", "old_pid", existing.PID)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &ServerLock{
		PID:       os.Getpid(),
		Hostname:  hostname,
		Workspace: layout.Root,
		Socket:    socket,
		StartedAt: time.Now(),
		lockFile:  lockPath,
		logger:    logger,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal lock")
	}

	// O_EXCL loses the race cleanly against a concurrent server.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := ReadServerLock(lockPath); readErr == nil {
				return nil, errors.Wrapf(errors.ErrServerLocked, "PID %d on %s", existing.PID, existing.Hostname)
			}
			return nil, errors.ErrServerLocked
		}
		return nil, errors.Wrap(err, "failed to create lock file")
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(lockPath)
		return nil, errors.Wrap(err, "failed to write lock file")
	}

	if logger != nil {
		logger.Info("server lock acquired", "pid", lock.PID, "workspace", layout.Root)
	}
	return lock, nil
}

// Release removes the lock file if this process still owns it. Safe to call
// more than once.
func (l *ServerLock) Release() error {
	if l == nil || l.lockFile == "" {
		return nil
	}

	existing, err := ReadServerLock(l.lockFile)
	if err != nil || existing.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.lockFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	if l.logger != nil {
		l.logger.Info("server lock released", "workspace", l.Workspace)
	}
	return nil
}

// ReadServerLock reads the lock file at lockPath.
func ReadServerLock(lockPath string) (*ServerLock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var lock ServerLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, errors.Wrap(err, "failed to parse lock file")
	}
	lock.lockFile = lockPath
	return &lock, nil
}

// LiveServer returns the lock of the server currently owning layout, if
// its process is alive.
func LiveServer(layout Layout) (*ServerLock, bool) {
	lock, err := ReadServerLock(layout.ServerLockPath())
	if err != nil || !isProcessAlive(lock.PID) {
		return nil, false
	}
	return lock, true
}

// isProcessAlive sends signal 0, which checks existence without affecting
// the process.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

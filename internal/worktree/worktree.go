package worktree

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/logging"
)

// BranchPolicy decides what Create does when the session branch already exists.
type BranchPolicy string

const (
	// PolicyReuse checks the existing branch out into the new worktree.
	PolicyReuse BranchPolicy = "reuse"
	// PolicyReject fails with an AlreadyExistsError.
	PolicyReject BranchPolicy = "reject"
	// PolicyPrompt fails with a BranchExistsError so the caller can ask the
	// user and retry with PolicyReuse or PolicyReject.
	PolicyPrompt BranchPolicy = "prompt"
)

// DefaultFetchTimeout bounds remote fetches when no timeout is configured.
const DefaultFetchTimeout = 30 * time.Second

// Manager handles git worktree operations for one repository.
type Manager struct {
	repoDir      string
	worktreeDir  string
	executor     CommandExecutor
	fetchTimeout time.Duration
	logger       *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithExecutor replaces the command executor.
func WithExecutor(executor CommandExecutor) Option {
	return func(m *Manager) { m.executor = executor }
}

// WithFetchTimeout bounds how long Create waits for a remote fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.fetchTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a Manager for the repository at repoDir that keeps session
// worktrees in worktreeDir.
func New(repoDir, worktreeDir string, opts ...Option) (*Manager, error) {
	if repoDir == "" {
		return nil, errors.NewValidationError("repository directory is required").WithField("repoDir")
	}
	if worktreeDir == "" {
		return nil, errors.NewValidationError("worktree directory is required").WithField("worktreeDir")
	}

	m := &Manager{
		repoDir:      filepath.Clean(repoDir),
		worktreeDir:  filepath.Clean(worktreeDir),
		executor:     NewCLICommandExecutor(),
		fetchTimeout: DefaultFetchTimeout,
		logger:       logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("worktree")
	return m, nil
}

// RepoDir returns the main repository directory.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

// WorktreeDir returns the folder holding session worktrees.
func (m *Manager) WorktreeDir() string {
	return m.worktreeDir
}

// Path returns the worktree path for a session name.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.worktreeDir, filepath.FromSlash(name))
}

// CreateOptions describes a worktree to create.
type CreateOptions struct {
	// Name is both the worktree directory name and the branch name.
	Name string
	// SourceBranch is the branch to start from. A "<remote>/<branch>" value
	// naming a configured remote is fetched first. Empty means the branch
	// currently checked out in the main repository.
	SourceBranch string
	// Policy applies when a branch called Name already exists.
	Policy BranchPolicy
}

// Create materializes a worktree for opts.Name and returns its path. On
// failure nothing is registered with git and no directory is left behind.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (string, error) {
	if err := ValidateName(opts.Name); err != nil {
		return "", err
	}

	path := m.Path(opts.Name)
	if _, err := os.Stat(path); err == nil {
		return "", errors.NewAlreadyExistsError("worktree", path).WithCause(errors.ErrWorktreeExists)
	}

	source := opts.SourceBranch
	if source == "" {
		current, err := m.CurrentBranch(ctx)
		if err != nil {
			return "", err
		}
		source = current
	}

	if remote, branch, ok := m.splitRemoteRef(ctx, source); ok {
		if err := m.fetch(ctx, remote, branch); err != nil {
			return "", err
		}
	}

	exists, err := m.BranchExists(ctx, opts.Name)
	if err != nil {
		return "", err
	}

	var args []string
	if exists {
		switch opts.Policy {
		case PolicyReuse:
			args = []string{"worktree", "add", path, opts.Name}
		case PolicyReject:
			return "", errors.NewAlreadyExistsError("branch", opts.Name).WithCause(errors.ErrBranchExists)
		default:
			return "", errors.NewBranchExistsError(opts.Name)
		}
	} else {
		args = []string{"worktree", "add", "-b", opts.Name, path, source}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create worktree folder")
	}

	output, err := m.git(ctx, m.repoDir, args...)
	if err != nil {
		m.cleanupFailedAdd(path)
		return "", m.gitError("failed to create worktree", err, output).
			WithBranch(opts.Name).
			WithWorktree(path)
	}

	m.logger.Info("worktree created",
		"path", path,
		"branch", opts.Name,
		"source", source,
		"reused_branch", exists)
	return path, nil
}

// cleanupFailedAdd removes anything a failed `worktree add` left behind.
func (m *Manager) cleanupFailedAdd(path string) {
	if err := os.RemoveAll(path); err != nil {
		m.logger.Warn("failed to remove partial worktree", "path", path, "error", err)
	}
	if err := m.forget(context.Background(), path); err != nil {
		m.logger.Warn("failed to drop partial worktree metadata", "path", path, "error", err)
	}
}

// List returns every worktree git knows about, including the main one.
func (m *Manager) List(ctx context.Context) ([]Worktree, error) {
	output, err := m.git(ctx, m.repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, m.gitError("failed to list worktrees", err, output)
	}
	return parsePorcelain(string(output)), nil
}

// SessionWorktrees returns the registered worktrees that live inside the
// worktrees folder.
func (m *Manager) SessionWorktrees(ctx context.Context) ([]Worktree, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	var inside []Worktree
	for _, wt := range all {
		if m.contains(wt.Path) {
			inside = append(inside, wt)
		}
	}
	return inside, nil
}

// contains reports whether path lies strictly inside the worktrees folder.
func (m *Manager) contains(path string) bool {
	rel, err := filepath.Rel(canonicalPath(m.worktreeDir), canonicalPath(path))
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

// Find returns the registered worktree at path.
func (m *Manager) Find(ctx context.Context, path string) (*Worktree, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if samePath(all[i].Path, path) {
			return &all[i], nil
		}
	}
	return nil, errors.NewNotFoundError("worktree", path).WithCause(errors.ErrWorktreeNotFound)
}

// Delete force-removes the worktree at path, discarding uncommitted
// changes, and deletes its branch unless keepBranch is set.
//
// If git cannot remove the worktree the directory is deleted and its stale
// metadata dropped. A branch that cannot be deleted yields a
// BranchRetainedError after the worktree itself is gone.
func (m *Manager) Delete(ctx context.Context, path string, keepBranch bool) error {
	branch := ""
	if wt, err := m.Find(ctx, path); err == nil {
		branch = wt.Branch
	}
	if branch == "" && m.contains(path) {
		// Unregistered session directories are named after their branch.
		branch = filepath.ToSlash(mustRel(m.worktreeDir, path))
	}

	output, err := m.git(ctx, m.repoDir, "worktree", "remove", "--force", path)
	if err != nil {
		m.logger.Warn("git worktree remove failed, removing directory",
			"path", path,
			"error", err,
			"output", firstLine(output))

		if rmErr := os.RemoveAll(path); rmErr != nil {
			return m.gitError("failed to remove worktree", err, output).WithWorktree(path)
		}
		if err := m.forget(ctx, path); err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); err == nil {
		return m.gitError("worktree directory still present after removal", nil, output).WithWorktree(path)
	}

	m.logger.Info("worktree removed", "path", path, "branch", branch)

	if keepBranch || branch == "" {
		return nil
	}
	if err := m.DeleteBranch(ctx, branch); err != nil {
		m.logger.Warn("branch retained", "branch", branch, "error", err)
		return errors.NewBranchRetainedError(branch, err)
	}
	return nil
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(canonicalPath(base), canonicalPath(target))
	if err != nil {
		return filepath.Base(target)
	}
	return rel
}

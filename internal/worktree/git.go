// Package worktree manages the git worktrees that back grove sessions:
// creation with branch policies, discovery, detection and repair of broken
// worktrees, deletion, branch listing and diffs.
//
// Every git invocation goes through a CommandExecutor so tests can observe or
// replace the subprocess layer.
package worktree

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/grove/internal/errors"
)

// -----------------------------------------------------------------------------
// Command Executor
// -----------------------------------------------------------------------------

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command in dir and returns its combined output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output. Git is never allowed
// to prompt for credentials; a fetch that needs them fails instead of hanging.
func (e *CLICommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd.CombinedOutput()
}

// FindGitRoot returns the top-level directory of the repository containing
// startDir. For a linked worktree this is the worktree itself, so callers
// wanting the main repository should use FindMainRoot.
func FindGitRoot(startDir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = startDir
	output, err := cmd.Output()
	if err != nil {
		return "", errors.NewGitError("not inside a git repository", errors.ErrNotGitRepository).
			WithRepository(startDir)
	}
	return strings.TrimSpace(string(output)), nil
}

// FindMainRoot returns the working directory of the main worktree for the
// repository containing startDir.
func FindMainRoot(startDir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--path-format=absolute", "--git-common-dir")
	cmd.Dir = startDir
	output, err := cmd.Output()
	if err != nil {
		return FindGitRoot(startDir)
	}
	common := strings.TrimSpace(string(output))
	if filepath.Base(common) == ".git" {
		return filepath.Dir(common), nil
	}
	return FindGitRoot(startDir)
}

// git runs a git subcommand in dir.
func (m *Manager) git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return m.executor.Run(ctx, dir, "git", args...)
}

// gitError wraps a failed git invocation with the repository and output.
func (m *Manager) gitError(message string, err error, output []byte) *errors.GitError {
	return errors.NewGitError(message, err).
		WithRepository(m.repoDir).
		WithGitOutput(string(output))
}

// canonicalPath resolves symlinks so that paths reported by git compare
// equal to paths we build. Paths that no longer exist resolve through their
// nearest existing parent.
func canonicalPath(path string) string {
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	parent, base := filepath.Split(path)
	if parent == "" || parent == path {
		return path
	}
	return filepath.Join(canonicalPath(filepath.Clean(parent)), base)
}

// samePath reports whether a and b name the same location.
func samePath(a, b string) bool {
	return canonicalPath(a) == canonicalPath(b)
}

func firstLine(output []byte) string {
	line, _, _ := bytes.Cut(bytes.TrimSpace(output), []byte("\n"))
	return string(line)
}

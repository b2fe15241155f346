package worktree

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"

	"github.com/Iron-Ham/grove/internal/errors"
)

// Branch is a local or remote-tracking branch.
type Branch struct {
	Name      string `json:"name"`
	IsCurrent bool   `json:"isCurrent"`
	IsRemote  bool   `json:"isRemote,omitempty"`
}

// CurrentBranch returns the branch checked out in the main repository.
func (m *Manager) CurrentBranch(ctx context.Context) (string, error) {
	output, err := m.git(ctx, m.repoDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", m.gitError("failed to determine current branch", err, output)
	}
	branch := strings.TrimSpace(string(output))
	if branch == "HEAD" {
		return "", errors.NewGitError("repository is in detached HEAD state", errors.ErrBranchNotFound).
			WithRepository(m.repoDir)
	}
	return branch, nil
}

// BranchOf returns the branch checked out in the worktree at path.
func (m *Manager) BranchOf(ctx context.Context, path string) (string, error) {
	output, err := m.git(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", m.gitError("failed to get branch", err, output).WithWorktree(path)
	}
	return strings.TrimSpace(string(output)), nil
}

// BranchExists reports whether a local branch called name exists.
func (m *Manager) BranchExists(ctx context.Context, name string) (bool, error) {
	output, err := m.git(ctx, m.repoDir, "branch", "--list", "--format=%(refname:short)", name)
	if err != nil {
		return false, m.gitError("failed to look up branch", err, output).WithBranch(name)
	}
	for _, line := range strings.Split(string(output), "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

// DeleteBranch force-deletes a local branch.
func (m *Manager) DeleteBranch(ctx context.Context, name string) error {
	output, err := m.git(ctx, m.repoDir, "branch", "-D", name)
	if err != nil {
		return m.gitError("failed to delete branch", err, output).WithBranch(name)
	}
	return nil
}

// ListBranches returns local branches, followed by remote-tracking branches
// when includeRemote is set. Symbolic refs such as origin/HEAD are skipped.
func (m *Manager) ListBranches(ctx context.Context, includeRemote bool) ([]Branch, error) {
	output, err := m.git(ctx, m.repoDir, "branch", "--format=%(HEAD)%(refname:short)")
	if err != nil {
		return nil, m.gitError("failed to list branches", err, output)
	}

	var branches []Branch
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 2 {
			continue
		}
		name := strings.TrimSpace(line[1:])
		if name == "" || strings.HasPrefix(name, "(") {
			continue
		}
		branches = append(branches, Branch{Name: name, IsCurrent: line[0] == '*'})
	}

	if !includeRemote {
		return branches, nil
	}

	output, err = m.git(ctx, m.repoDir, "branch", "-r", "--format=%(refname:short)%09%(symref)")
	if err != nil {
		return nil, m.gitError("failed to list remote branches", err, output)
	}

	var remote []Branch
	for _, line := range strings.Split(string(output), "\n") {
		name, symref, _ := strings.Cut(strings.TrimSpace(line), "\t")
		if name == "" || symref != "" || !strings.Contains(name, "/") {
			continue
		}
		remote = append(remote, Branch{Name: name, IsRemote: true})
	}
	sort.Slice(remote, func(i, j int) bool { return remote[i].Name < remote[j].Name })

	return append(branches, remote...), nil
}

// remotes returns the configured remote names.
func (m *Manager) remotes(ctx context.Context) []string {
	output, err := m.git(ctx, m.repoDir, "remote")
	if err != nil {
		return nil
	}
	return strings.Fields(string(output))
}

// splitRemoteRef reports whether ref names a branch on a configured remote
// ("origin/main"). A local branch with the same name takes precedence.
func (m *Manager) splitRemoteRef(ctx context.Context, ref string) (remote, branch string, ok bool) {
	if !strings.Contains(ref, "/") {
		return "", "", false
	}
	if local, err := m.BranchExists(ctx, ref); err == nil && local {
		return "", "", false
	}
	for _, r := range m.remotes(ctx) {
		if rest, found := strings.CutPrefix(ref, r+"/"); found && rest != "" {
			return r, rest, true
		}
	}
	return "", "", false
}

// fetch updates a single remote branch, bounded by the fetch timeout.
// Timeouts are reported and never retried.
func (m *Manager) fetch(ctx context.Context, remote, branch string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	output, err := m.git(fetchCtx, m.repoDir, "fetch", remote, branch)
	if err == nil {
		return nil
	}
	if stderrors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
		return errors.NewTimeoutError("git fetch "+remote+" "+branch, m.fetchTimeout).
			WithCause(err).
			WithRetryable(false)
	}
	return m.gitError("failed to fetch remote branch", err, output).WithBranch(remote + "/" + branch)
}

// Diff returns the changes in the worktree at path relative to base. With
// includeUncommitted the diff covers the working tree, otherwise only
// committed changes since the merge base.
func (m *Manager) Diff(ctx context.Context, path, base string, includeUncommitted bool) (string, error) {
	if base == "" {
		current, err := m.CurrentBranch(ctx)
		if err != nil {
			return "", err
		}
		base = current
	}

	var args []string
	if includeUncommitted {
		mergeBase, err := m.git(ctx, path, "merge-base", base, "HEAD")
		if err != nil {
			return "", m.gitError("failed to find merge base", err, mergeBase).WithWorktree(path).WithBranch(base)
		}
		args = []string{"diff", strings.TrimSpace(string(mergeBase))}
	} else {
		args = []string{"diff", base + "...HEAD"}
	}

	output, err := m.git(ctx, path, args...)
	if err != nil {
		return "", m.gitError("failed to get diff", err, output).WithWorktree(path).WithBranch(base)
	}
	return string(output), nil
}

package worktree

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/grove/internal/errors"
)

// BrokenReason classifies a broken worktree.
type BrokenReason string

const (
	// ReasonMissingDirectory means git lists the worktree but its directory is gone.
	ReasonMissingDirectory BrokenReason = "missing working directory"
	// ReasonInconsistentMetadata means the directory exists but git's
	// administrative entry for it is missing or does not point back at it.
	ReasonInconsistentMetadata BrokenReason = "inconsistent administrative metadata"
)

// BrokenRecord describes a worktree whose directory and git metadata disagree.
type BrokenRecord struct {
	WorktreePath string       `json:"worktreePath"`
	BranchName   string       `json:"branchName"`
	Reason       BrokenReason `json:"reason"`
	RepairAction string       `json:"repairAction"`
}

// Err converts the record into a WorktreeBrokenError.
func (r BrokenRecord) Err() error {
	return errors.NewWorktreeBrokenError(r.WorktreePath, string(r.Reason)).WithBranch(r.BranchName)
}

// Tracked is a worktree that a session descriptor expects to exist.
type Tracked struct {
	Path   string
	Branch string
}

// DetectBroken compares the directories in the worktrees folder with the
// worktrees git has registered and reports every mismatch. A tracked
// worktree that is neither on disk nor registered is reported as missing.
// Healthy worktrees and worktrees outside the folder are ignored.
func (m *Manager) DetectBroken(ctx context.Context, tracked ...Tracked) ([]BrokenRecord, error) {
	registered, err := m.SessionWorktrees(ctx)
	if err != nil {
		return nil, err
	}

	var records []BrokenRecord
	byPath := make(map[string]Worktree, len(registered))
	for _, wt := range registered {
		byPath[canonicalPath(wt.Path)] = wt
		if _, err := os.Stat(wt.Path); os.IsNotExist(err) {
			records = append(records, BrokenRecord{
				WorktreePath: wt.Path,
				BranchName:   wt.Branch,
				Reason:       ReasonMissingDirectory,
				RepairAction: "check the branch out again in place of the stale entry",
			})
		}
	}

	for _, t := range tracked {
		if t.Path == "" || t.Branch == "" || !m.contains(t.Path) {
			continue
		}
		if _, known := byPath[canonicalPath(t.Path)]; known {
			continue
		}
		if _, err := os.Stat(t.Path); !os.IsNotExist(err) {
			continue
		}
		records = append(records, BrokenRecord{
			WorktreePath: t.Path,
			BranchName:   t.Branch,
			Reason:       ReasonMissingDirectory,
			RepairAction: "check the branch out again",
		})
	}

	for _, dir := range m.SessionDirs() {
		wt, known := byPath[canonicalPath(dir)]
		switch {
		case !known:
			records = append(records, BrokenRecord{
				WorktreePath: dir,
				BranchName:   m.recoverBranch(dir),
				Reason:       ReasonInconsistentMetadata,
				RepairAction: "re-register the worktree, preserving working files",
			})
		case !linkIntact(dir):
			branch := wt.Branch
			if branch == "" {
				branch = m.recoverBranch(dir)
			}
			records = append(records, BrokenRecord{
				WorktreePath: dir,
				BranchName:   branch,
				Reason:       ReasonInconsistentMetadata,
				RepairAction: "re-register the worktree, preserving working files",
			})
		}
	}

	return records, nil
}

// SessionDirs returns the session directories on disk in path order.
// Session names may contain '/', so a directory counts when it holds a .git
// entry or has no subdirectories to descend into. Empty directories are
// ignored.
func (m *Manager) SessionDirs() []string {
	var dirs []string
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if isEmptyDir(path) {
				continue
			}
			if _, err := os.Lstat(filepath.Join(path, ".git")); err == nil || depth >= 4 || !hasSubdirs(path) {
				dirs = append(dirs, path)
				continue
			}
			walk(path, depth+1)
		}
	}
	walk(m.worktreeDir, 0)
	return dirs
}

func isEmptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) == 0
}

func hasSubdirs(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			return true
		}
	}
	return false
}

// readGitLink returns the admin directory a worktree's .git file points to.
func readGitLink(dir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, ".git"))
	if err != nil {
		return "", false
	}
	target, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "gitdir:")
	if !ok {
		return "", false
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	return target, true
}

// linkIntact checks both directions of the worktree link: the .git file
// points at an existing admin dir whose gitdir file points back here.
func linkIntact(dir string) bool {
	adminDir, ok := readGitLink(dir)
	if !ok {
		return false
	}
	back, err := os.ReadFile(filepath.Join(adminDir, "gitdir"))
	if err != nil {
		return false
	}
	backPath := strings.TrimSpace(string(back))
	if !filepath.IsAbs(backPath) {
		backPath = filepath.Join(adminDir, backPath)
	}
	return samePath(backPath, filepath.Join(dir, ".git"))
}

// recoverBranch reads the branch from the worktree's admin HEAD when it is
// still reachable, falling back to the directory name.
func (m *Manager) recoverBranch(dir string) string {
	if adminDir, ok := readGitLink(dir); ok {
		if head, err := os.ReadFile(filepath.Join(adminDir, "HEAD")); err == nil {
			if ref, ok := strings.CutPrefix(strings.TrimSpace(string(head)), "ref: refs/heads/"); ok {
				return ref
			}
		}
	}
	return filepath.ToSlash(mustRel(m.worktreeDir, dir))
}

// isHealthy reports whether path is registered, present on disk and linked
// in both directions.
func (m *Manager) isHealthy(ctx context.Context, path string) (bool, error) {
	wt, err := m.Find(ctx, path)
	if err != nil {
		var notFound *errors.NotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	if wt.Prunable {
		return false, nil
	}
	if _, err := os.Stat(path); err != nil {
		return false, nil
	}
	return linkIntact(path), nil
}

// Repair fixes a broken worktree in place. A healthy worktree is left
// untouched, so repairing twice is safe. Files in the working directory,
// including untracked and modified ones, survive the repair.
func (m *Manager) Repair(ctx context.Context, record BrokenRecord) error {
	path := record.WorktreePath
	if path == "" || record.BranchName == "" {
		return errors.NewValidationError("broken record needs a path and a branch").WithValue(record)
	}
	if !m.contains(path) {
		return errors.NewValidationError("worktree is outside the worktrees folder").
			WithField("worktreePath").
			WithValue(path)
	}

	healthy, err := m.isHealthy(ctx, path)
	if err != nil {
		return err
	}
	if healthy {
		m.logger.Debug("worktree already healthy", "path", path)
		return nil
	}

	exists, err := m.BranchExists(ctx, record.BranchName)
	if err != nil {
		return err
	}
	if !exists {
		return errors.NewWorktreeBrokenError(path, string(record.Reason)).
			WithBranch(record.BranchName).
			WithCause(errors.NewNotFoundError("branch", record.BranchName).WithCause(errors.ErrBranchNotFound))
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return m.reattach(ctx, path, record.BranchName)
	}
	return m.rebuild(ctx, path, record.BranchName)
}

// reattach checks the branch out again at path. Forcing the add replaces a
// stale registration of path itself; other worktrees' entries, broken or
// not, are left alone.
func (m *Manager) reattach(ctx context.Context, path, branch string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create worktree folder")
	}
	output, err := m.git(ctx, m.repoDir, "worktree", "add", "--force", path, branch)
	if err != nil {
		return m.gitError("failed to re-add worktree", err, output).WithWorktree(path).WithBranch(branch)
	}
	m.logger.Info("worktree reattached", "path", path, "branch", branch)
	return nil
}

// rebuild moves the working files aside, recreates the worktree and copies
// the files back over the fresh checkout.
func (m *Manager) rebuild(ctx context.Context, path, branch string) error {
	aside, err := os.MkdirTemp("", "grove-repair-*")
	if err != nil {
		return errors.Wrap(err, "failed to create repair staging directory")
	}

	if err := copyTree(path, aside); err != nil {
		_ = os.RemoveAll(aside)
		return errors.Wrapf(err, "failed to stage files of %s", path)
	}
	if err := os.RemoveAll(path); err != nil {
		_ = os.RemoveAll(aside)
		return errors.Wrapf(err, "failed to clear %s", path)
	}

	repairErr := m.reattach(ctx, path, branch)
	if repairErr != nil {
		// Put the user's files back even though git could not be fixed.
		_ = os.MkdirAll(path, 0o755)
	}
	if err := copyTree(aside, path); err != nil {
		m.logger.Error("failed to restore files after repair; staged copy kept",
			"path", path,
			"staging", aside,
			"error", err)
		return errors.Join(repairErr, errors.Wrapf(err, "files preserved in %s", aside))
	}
	_ = os.RemoveAll(aside)

	if repairErr != nil {
		return repairErr
	}
	m.logger.Info("worktree rebuilt", "path", path, "branch", branch)
	return nil
}

// forget drops git's administrative entry for the worktree at path, if
// there is one. Unlike "git worktree prune" it touches no other entry.
func (m *Manager) forget(ctx context.Context, path string) error {
	output, err := m.git(ctx, m.repoDir, "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return m.gitError("failed to locate git directory", err, output)
	}
	adminRoot := filepath.Join(strings.TrimSpace(string(output)), "worktrees")

	entries, err := os.ReadDir(adminRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to read worktree metadata")
	}
	want := filepath.Join(path, ".git")
	for _, entry := range entries {
		adminDir := filepath.Join(adminRoot, entry.Name())
		data, err := os.ReadFile(filepath.Join(adminDir, "gitdir"))
		if err != nil {
			continue
		}
		if samePath(strings.TrimSpace(string(data)), want) {
			if err := os.RemoveAll(adminDir); err != nil {
				return errors.Wrapf(err, "failed to remove worktree metadata for %s", path)
			}
			m.logger.Debug("worktree metadata removed", "path", path, "entry", entry.Name())
		}
	}
	return nil
}

// copyTree copies src into dst, skipping the top-level .git entry.
// Symlinks are recreated rather than followed.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == ".git" {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target)
		default:
			return nil
		}
	})
}

// copyFile copies a regular file, preserving its permission bits.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile only applies the mode on creation and is subject to umask.
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	return nil
}

package worktree

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/testutil"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, string) {
	t.Helper()
	testutil.SkipIfNoGit(t)

	repo := testutil.SetupTestRepo(t)
	mgr, err := New(repo, filepath.Join(repo, ".grove", "worktrees"), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return mgr, repo
}

// interceptExecutor runs real git except for commands matched by intercept.
type interceptExecutor struct {
	real      CommandExecutor
	intercept func(ctx context.Context, args []string) ([]byte, error, bool)
}

func (e *interceptExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	if out, err, handled := e.intercept(ctx, args); handled {
		return out, err
	}
	return e.real.Run(ctx, dir, name, args...)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "/wt"); err == nil {
		t.Error("New() with empty repo should fail")
	}
	if _, err := New("/repo", ""); err == nil {
		t.Error("New() with empty worktree dir should fail")
	}
}

func TestManagerCreate(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()

	path, err := mgr.Create(ctx, CreateOptions{Name: "feature-x", SourceBranch: "main"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if path != mgr.Path("feature-x") {
		t.Errorf("Create() path = %q, want %q", path, mgr.Path("feature-x"))
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Errorf("worktree not checked out: %v", err)
	}

	branch, err := mgr.BranchOf(ctx, path)
	if err != nil {
		t.Fatalf("BranchOf() error = %v", err)
	}
	if branch != "feature-x" {
		t.Errorf("BranchOf() = %q, want feature-x", branch)
	}

	sessions, err := mgr.SessionWorktrees(ctx)
	if err != nil {
		t.Fatalf("SessionWorktrees() error = %v", err)
	}
	if len(sessions) != 1 || !samePath(sessions[0].Path, path) {
		t.Errorf("SessionWorktrees() = %+v", sessions)
	}

	if len(testutil.ListWorktrees(t, repo)) != 2 {
		t.Errorf("expected main + 1 worktree, got %v", testutil.ListWorktrees(t, repo))
	}
}

func TestManagerCreate_DefaultsToCurrentBranch(t *testing.T) {
	mgr, repo := newTestManager(t)
	testutil.CommitFile(t, repo, "extra.txt", "x", "extra")

	path, err := mgr.Create(context.Background(), CreateOptions{Name: "from-head"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "extra.txt")); err != nil {
		t.Errorf("worktree should start from the current branch: %v", err)
	}
}

func TestManagerCreate_NestedName(t *testing.T) {
	mgr, _ := newTestManager(t)

	path, err := mgr.Create(context.Background(), CreateOptions{Name: "feat/login", SourceBranch: "main"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasSuffix(filepath.ToSlash(path), "feat/login") {
		t.Errorf("path = %q", path)
	}
}

func TestManagerCreate_InvalidName(t *testing.T) {
	mgr, repo := newTestManager(t)

	_, err := mgr.Create(context.Background(), CreateOptions{Name: "bad name", SourceBranch: "main"})
	var verr *errors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Create() error = %v, want ValidationError", err)
	}
	if len(testutil.ListWorktrees(t, repo)) != 1 {
		t.Error("no worktree should be registered")
	}
}

func TestManagerCreate_BranchPolicies(t *testing.T) {
	tests := []struct {
		name    string
		policy  BranchPolicy
		check   func(t *testing.T, err error)
		created bool
	}{
		{
			name:   "reuse",
			policy: PolicyReuse,
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Fatalf("Create() error = %v", err)
				}
			},
			created: true,
		},
		{
			name:   "reject",
			policy: PolicyReject,
			check: func(t *testing.T, err error) {
				var exists *errors.AlreadyExistsError
				if !errors.As(err, &exists) {
					t.Fatalf("Create() error = %v, want AlreadyExistsError", err)
				}
			},
		},
		{
			name:   "prompt",
			policy: PolicyPrompt,
			check: func(t *testing.T, err error) {
				var prompt *errors.BranchExistsError
				if !errors.As(err, &prompt) {
					t.Fatalf("Create() error = %v, want BranchExistsError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, repo := newTestManager(t)
			testutil.Git(t, repo, "checkout", "-q", "-b", "existing")
			testutil.CommitFile(t, repo, "on-existing.txt", "x", "existing work")
			testutil.Git(t, repo, "checkout", "-q", "main")

			path, err := mgr.Create(context.Background(), CreateOptions{
				Name:         "existing",
				SourceBranch: "main",
				Policy:       tt.policy,
			})
			tt.check(t, err)

			_, statErr := os.Stat(filepath.Join(mgr.Path("existing"), "on-existing.txt"))
			if tt.created {
				if statErr != nil {
					t.Errorf("reused branch content missing at %s: %v", path, statErr)
				}
			} else if !os.IsNotExist(statErr) {
				t.Error("no worktree should be created")
			}
		})
	}
}

func TestManagerCreate_GitFailureLeavesNothing(t *testing.T) {
	mgr, repo := newTestManager(t)

	_, err := mgr.Create(context.Background(), CreateOptions{Name: "orphan", SourceBranch: "does-not-exist"})
	var gitErr *errors.GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("Create() error = %v, want GitError", err)
	}
	if gitErr.GitOutput == "" {
		t.Error("GitError should carry git's diagnostic output")
	}
	if _, err := os.Stat(mgr.Path("orphan")); !os.IsNotExist(err) {
		t.Error("failed create should not leave a directory behind")
	}
	if testutil.BranchExists(t, repo, "orphan") {
		t.Error("failed create should not leave a branch behind")
	}
	if len(testutil.ListWorktrees(t, repo)) != 1 {
		t.Error("failed create should not register a worktree")
	}
}

func TestManagerCreate_ExistingPath(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := os.MkdirAll(mgr.Path("taken"), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := mgr.Create(context.Background(), CreateOptions{Name: "taken", SourceBranch: "main"})
	if !errors.Is(err, errors.ErrWorktreeExists) {
		t.Errorf("Create() error = %v, want ErrWorktreeExists", err)
	}
}

func TestManagerCreate_FetchesRemoteSource(t *testing.T) {
	testutil.SkipIfNoGit(t)
	repo, _ := testutil.SetupTestRepoWithRemote(t)

	testutil.Git(t, repo, "checkout", "-q", "-b", "upstream-only")
	testutil.CommitFile(t, repo, "upstream.txt", "u", "upstream work")
	testutil.Git(t, repo, "push", "-q", "origin", "upstream-only")
	testutil.Git(t, repo, "checkout", "-q", "main")
	testutil.Git(t, repo, "branch", "-D", "upstream-only")
	testutil.Git(t, repo, "update-ref", "-d", "refs/remotes/origin/upstream-only")

	mgr, err := New(repo, filepath.Join(repo, ".grove", "worktrees"))
	if err != nil {
		t.Fatal(err)
	}

	path, err := mgr.Create(context.Background(), CreateOptions{Name: "tracking", SourceBranch: "origin/upstream-only"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "upstream.txt")); err != nil {
		t.Errorf("remote branch was not fetched: %v", err)
	}
}

func TestManagerCreate_FetchTimeout(t *testing.T) {
	testutil.SkipIfNoGit(t)
	repo, _ := testutil.SetupTestRepoWithRemote(t)

	exec := &interceptExecutor{
		real: NewCLICommandExecutor(),
		intercept: func(ctx context.Context, args []string) ([]byte, error, bool) {
			if len(args) > 0 && args[0] == "fetch" {
				<-ctx.Done()
				return nil, ctx.Err(), true
			}
			return nil, nil, false
		},
	}
	mgr, err := New(repo, filepath.Join(repo, ".grove", "worktrees"),
		WithExecutor(exec),
		WithFetchTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	_, err = mgr.Create(context.Background(), CreateOptions{Name: "slow", SourceBranch: "origin/main"})
	var timeout *errors.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Create() error = %v, want TimeoutError", err)
	}
	if errors.IsRetryable(err) {
		t.Error("fetch timeouts should not be retryable")
	}
	if _, err := os.Stat(mgr.Path("slow")); !os.IsNotExist(err) {
		t.Error("timed-out create should not leave a directory")
	}
}

func TestManagerDelete(t *testing.T) {
	t.Run("removes worktree and branch", func(t *testing.T) {
		mgr, repo := newTestManager(t)
		ctx := context.Background()
		path, err := mgr.Create(ctx, CreateOptions{Name: "doomed", SourceBranch: "main"})
		if err != nil {
			t.Fatal(err)
		}
		testutil.WriteFile(t, filepath.Join(path, "dirty.txt"), "uncommitted")

		if err := mgr.Delete(ctx, path, false); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("worktree directory should be gone")
		}
		if testutil.BranchExists(t, repo, "doomed") {
			t.Error("branch should be deleted")
		}
	})

	t.Run("keeps branch when asked", func(t *testing.T) {
		mgr, repo := newTestManager(t)
		ctx := context.Background()
		path, err := mgr.Create(ctx, CreateOptions{Name: "keeper", SourceBranch: "main"})
		if err != nil {
			t.Fatal(err)
		}

		if err := mgr.Delete(ctx, path, true); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if !testutil.BranchExists(t, repo, "keeper") {
			t.Error("branch should be kept")
		}
	})

	t.Run("reports retained branch", func(t *testing.T) {
		exec := &interceptExecutor{
			real: NewCLICommandExecutor(),
			intercept: func(ctx context.Context, args []string) ([]byte, error, bool) {
				if len(args) >= 2 && args[0] == "branch" && args[1] == "-D" {
					return []byte("error: branch is locked"), os.ErrPermission, true
				}
				return nil, nil, false
			},
		}
		mgr, repo := newTestManager(t, WithExecutor(exec))
		ctx := context.Background()
		path, err := mgr.Create(ctx, CreateOptions{Name: "sticky", SourceBranch: "main"})
		if err != nil {
			t.Fatal(err)
		}

		err = mgr.Delete(ctx, path, false)
		var retained *errors.BranchRetainedError
		if !errors.As(err, &retained) {
			t.Fatalf("Delete() error = %v, want BranchRetainedError", err)
		}
		if retained.Branch != "sticky" {
			t.Errorf("Branch = %q, want sticky", retained.Branch)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("worktree should be removed even when the branch is retained")
		}
		if !testutil.BranchExists(t, repo, "sticky") {
			t.Error("branch should still exist")
		}
	})

	t.Run("missing directory still cleans up", func(t *testing.T) {
		mgr, repo := newTestManager(t)
		ctx := context.Background()
		path, err := mgr.Create(ctx, CreateOptions{Name: "vanished", SourceBranch: "main"})
		if err != nil {
			t.Fatal(err)
		}
		if err := os.RemoveAll(path); err != nil {
			t.Fatal(err)
		}

		if err := mgr.Delete(ctx, path, false); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if len(testutil.ListWorktrees(t, repo)) != 1 {
			t.Errorf("stale registration should be dropped: %v", testutil.ListWorktrees(t, repo))
		}
	})
}

func TestManagerListBranches(t *testing.T) {
	testutil.SkipIfNoGit(t)
	repo, _ := testutil.SetupTestRepoWithRemote(t)
	testutil.CreateBranch(t, repo, "alpha")
	testutil.Git(t, repo, "push", "-q", "origin", "alpha")

	mgr, err := New(repo, filepath.Join(repo, ".grove", "worktrees"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	local, err := mgr.ListBranches(ctx, false)
	if err != nil {
		t.Fatalf("ListBranches() error = %v", err)
	}
	names := make([]string, 0, len(local))
	for _, b := range local {
		names = append(names, b.Name)
		if b.IsRemote {
			t.Errorf("local listing returned remote branch %q", b.Name)
		}
		if b.Name == "main" && !b.IsCurrent {
			t.Error("main should be current")
		}
		if b.Name == "alpha" && b.IsCurrent {
			t.Error("alpha should not be current")
		}
	}
	if !slices.Contains(names, "alpha") || !slices.Contains(names, "main") {
		t.Errorf("local branches = %v", names)
	}

	all, err := mgr.ListBranches(ctx, true)
	if err != nil {
		t.Fatalf("ListBranches(remote) error = %v", err)
	}
	var remote []string
	for _, b := range all {
		if b.IsRemote {
			remote = append(remote, b.Name)
		}
	}
	if !slices.Contains(remote, "origin/alpha") || !slices.Contains(remote, "origin/main") {
		t.Errorf("remote branches = %v", remote)
	}
	for _, name := range remote {
		if name == "origin" || strings.HasSuffix(name, "/HEAD") {
			t.Errorf("symbolic ref %q should be skipped", name)
		}
	}
}

func TestManagerDiff(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	path, err := mgr.Create(ctx, CreateOptions{Name: "diffy", SourceBranch: "main"})
	if err != nil {
		t.Fatal(err)
	}

	testutil.CommitFile(t, path, "committed.txt", "c\n", "committed change")
	testutil.WriteFile(t, filepath.Join(path, "README.md"), "# changed\n")

	committed, err := mgr.Diff(ctx, path, "main", false)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if !strings.Contains(committed, "committed.txt") || strings.Contains(committed, "# changed") {
		t.Errorf("committed diff = %q", committed)
	}

	all, err := mgr.Diff(ctx, path, "main", true)
	if err != nil {
		t.Fatalf("Diff(uncommitted) error = %v", err)
	}
	if !strings.Contains(all, "committed.txt") || !strings.Contains(all, "# changed") {
		t.Errorf("full diff = %q", all)
	}
}

package worktree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/testutil"
)

func TestDetectBroken_Healthy(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := mgr.Create(ctx, CreateOptions{Name: "fine", SourceBranch: "main"}); err != nil {
		t.Fatal(err)
	}
	// Leftover empty folders are not sessions.
	if err := os.MkdirAll(mgr.Path("empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	records, err := mgr.DetectBroken(ctx)
	if err != nil {
		t.Fatalf("DetectBroken() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("DetectBroken() = %+v, want none", records)
	}
}

func TestRepair_MissingDirectory(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	path, err := mgr.Create(ctx, CreateOptions{Name: "lost", SourceBranch: "main"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(path); err != nil {
		t.Fatal(err)
	}

	records, err := mgr.DetectBroken(ctx)
	if err != nil {
		t.Fatalf("DetectBroken() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("DetectBroken() = %+v, want 1 record", records)
	}
	rec := records[0]
	if rec.Reason != ReasonMissingDirectory {
		t.Errorf("Reason = %q, want %q", rec.Reason, ReasonMissingDirectory)
	}
	if rec.BranchName != "lost" {
		t.Errorf("BranchName = %q, want lost", rec.BranchName)
	}

	if err := mgr.Repair(ctx, rec); err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Errorf("repaired worktree not checked out: %v", err)
	}
	if got := testutil.Git(t, path, "rev-parse", "--abbrev-ref", "HEAD"); got != "lost" {
		t.Errorf("repaired worktree on %q, want lost", got)
	}

	// Repairing again is a no-op.
	if err := mgr.Repair(ctx, rec); err != nil {
		t.Errorf("second Repair() error = %v", err)
	}
	if len(testutil.ListWorktrees(t, repo)) != 2 {
		t.Errorf("worktrees = %v", testutil.ListWorktrees(t, repo))
	}

	records, err = mgr.DetectBroken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("DetectBroken() after repair = %+v", records)
	}
}

func TestRepair_InconsistentMetadataPreservesFiles(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	path, err := mgr.Create(ctx, CreateOptions{Name: "unlinked", SourceBranch: "main"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.CommitFile(t, path, "tracked.txt", "v1\n", "tracked")
	testutil.WriteFile(t, filepath.Join(path, "tracked.txt"), "v2 local edit\n")
	testutil.WriteFile(t, filepath.Join(path, "notes", "scratch.md"), "untracked\n")

	if err := os.RemoveAll(filepath.Join(repo, ".git", "worktrees", "unlinked")); err != nil {
		t.Fatal(err)
	}

	records, err := mgr.DetectBroken(ctx)
	if err != nil {
		t.Fatalf("DetectBroken() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("DetectBroken() = %+v, want 1 record", records)
	}
	rec := records[0]
	if rec.Reason != ReasonInconsistentMetadata {
		t.Errorf("Reason = %q, want %q", rec.Reason, ReasonInconsistentMetadata)
	}
	if rec.BranchName != "unlinked" {
		t.Errorf("BranchName = %q, want unlinked", rec.BranchName)
	}

	if err := mgr.Repair(ctx, rec); err != nil {
		t.Fatalf("Repair() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(path, "tracked.txt"))
	if err != nil || string(data) != "v2 local edit\n" {
		t.Errorf("modified file = %q, %v", data, err)
	}
	data, err = os.ReadFile(filepath.Join(path, "notes", "scratch.md"))
	if err != nil || string(data) != "untracked\n" {
		t.Errorf("untracked file = %q, %v", data, err)
	}
	if !linkIntact(path) {
		t.Error("worktree link should be intact after repair")
	}
	if status := testutil.Git(t, path, "status", "--porcelain"); status == "" {
		t.Error("local modifications should still show up in git status")
	}

	if err := mgr.Repair(ctx, rec); err != nil {
		t.Errorf("second Repair() error = %v", err)
	}
}

func TestRepair_LeavesOtherWorktreesAlone(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	paths := make(map[string]string)
	for _, name := range []string{"alpha", "beta", "keep"} {
		path, err := mgr.Create(ctx, CreateOptions{Name: name, SourceBranch: "main"})
		if err != nil {
			t.Fatal(err)
		}
		paths[name] = path
	}
	testutil.WriteFile(t, filepath.Join(paths["keep"], "scratch.txt"), "untracked\n")
	for _, name := range []string{"alpha", "beta"} {
		if err := os.RemoveAll(paths[name]); err != nil {
			t.Fatal(err)
		}
	}

	records, err := mgr.DetectBroken(ctx)
	if err != nil {
		t.Fatalf("DetectBroken() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("DetectBroken() = %+v, want 2 records", records)
	}
	var alpha BrokenRecord
	for _, r := range records {
		if r.BranchName == "alpha" {
			alpha = r
		}
	}
	if err := mgr.Repair(ctx, alpha); err != nil {
		t.Fatalf("Repair(alpha) error = %v", err)
	}

	records, err = mgr.DetectBroken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].BranchName != "beta" || records[0].Reason != ReasonMissingDirectory {
		t.Fatalf("DetectBroken() after repairing alpha = %+v, want only beta", records)
	}

	data, err := os.ReadFile(filepath.Join(paths["keep"], "scratch.txt"))
	if err != nil || string(data) != "untracked\n" {
		t.Errorf("healthy worktree file = %q, %v", data, err)
	}
	if !linkIntact(paths["keep"]) {
		t.Error("healthy worktree link should be untouched")
	}

	if err := mgr.Repair(ctx, records[0]); err != nil {
		t.Fatalf("Repair(beta) error = %v", err)
	}
	if records, _ := mgr.DetectBroken(ctx); len(records) != 0 {
		t.Errorf("DetectBroken() after both repairs = %+v", records)
	}
}

func TestDelete_LeavesOtherStaleEntries(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()

	gone, err := mgr.Create(ctx, CreateOptions{Name: "gone", SourceBranch: "main"})
	if err != nil {
		t.Fatal(err)
	}
	other, err := mgr.Create(ctx, CreateOptions{Name: "other", SourceBranch: "main"})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{gone, other} {
		if err := os.RemoveAll(p); err != nil {
			t.Fatal(err)
		}
	}

	if err := mgr.Delete(ctx, gone, false); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := len(testutil.ListWorktrees(t, repo)); got != 2 {
		t.Errorf("worktrees = %v, want main and other", testutil.ListWorktrees(t, repo))
	}
	records, err := mgr.DetectBroken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].BranchName != "other" {
		t.Errorf("DetectBroken() = %+v, want other", records)
	}
}

func TestDetectBroken_TrackedButUnregistered(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()

	path, err := mgr.Create(ctx, CreateOptions{Name: "orphan", SourceBranch: "main"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(path); err != nil {
		t.Fatal(err)
	}
	testutil.Git(t, repo, "worktree", "prune")

	records, err := mgr.DetectBroken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("DetectBroken() without tracked sessions = %+v", records)
	}

	tracked := []Tracked{
		{Path: path, Branch: "orphan"},
		{Path: filepath.Join(repo, "elsewhere"), Branch: "elsewhere"},
	}
	records, err = mgr.DetectBroken(ctx, tracked...)
	if err != nil {
		t.Fatalf("DetectBroken() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("DetectBroken() = %+v, want 1 record", records)
	}
	if records[0].Reason != ReasonMissingDirectory || records[0].BranchName != "orphan" {
		t.Errorf("record = %+v", records[0])
	}

	if err := mgr.Repair(ctx, records[0]); err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	if got := testutil.Git(t, path, "rev-parse", "--abbrev-ref", "HEAD"); got != "orphan" {
		t.Errorf("repaired worktree on %q, want orphan", got)
	}
	if records, _ := mgr.DetectBroken(ctx, tracked...); len(records) != 0 {
		t.Errorf("DetectBroken() after repair = %+v", records)
	}
}

func TestRepair_Rejects(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		record BrokenRecord
		check  func(error) bool
	}{
		{
			name:   "empty record",
			record: BrokenRecord{},
			check:  func(err error) bool { return errors.Is(err, errors.ErrInvalidInput) },
		},
		{
			name:   "outside worktrees folder",
			record: BrokenRecord{WorktreePath: mgr.RepoDir(), BranchName: "main"},
			check:  func(err error) bool { return errors.Is(err, errors.ErrInvalidInput) },
		},
		{
			name: "branch gone",
			record: BrokenRecord{
				WorktreePath: mgr.Path("ghost"),
				BranchName:   "ghost",
				Reason:       ReasonMissingDirectory,
			},
			check: func(err error) bool {
				var broken *errors.WorktreeBrokenError
				return errors.As(err, &broken) && errors.Is(err, errors.ErrBranchNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mgr.Repair(ctx, tt.record)
			if err == nil || !tt.check(err) {
				t.Errorf("Repair() error = %v", err)
			}
		})
	}
}

func TestBrokenRecord_Err(t *testing.T) {
	rec := BrokenRecord{WorktreePath: "/wt/x", BranchName: "x", Reason: ReasonMissingDirectory}
	var broken *errors.WorktreeBrokenError
	if !errors.As(rec.Err(), &broken) {
		t.Fatal("Err() should be a WorktreeBrokenError")
	}
	if broken.Branch != "x" {
		t.Errorf("Branch = %q", broken.Branch)
	}
}

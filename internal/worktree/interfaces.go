package worktree

import "context"

// Lifecycle creates, inspects and removes session worktrees.
type Lifecycle interface {
	WorktreeDir() string
	Path(name string) string
	SessionDirs() []string
	Create(ctx context.Context, opts CreateOptions) (string, error)
	SessionWorktrees(ctx context.Context) ([]Worktree, error)
	Delete(ctx context.Context, path string, keepBranch bool) error
}

// Doctor finds and fixes worktrees whose directory and git metadata disagree.
type Doctor interface {
	DetectBroken(ctx context.Context, tracked ...Tracked) ([]BrokenRecord, error)
	Repair(ctx context.Context, record BrokenRecord) error
}

// BranchLister lists the branches sessions can start from.
type BranchLister interface {
	ListBranches(ctx context.Context, includeRemote bool) ([]Branch, error)
	CurrentBranch(ctx context.Context) (string, error)
}

// DiffProvider renders the changes made in a worktree.
type DiffProvider interface {
	Diff(ctx context.Context, path, base string, includeUncommitted bool) (string, error)
}

// Compile-time interface assertions
var (
	_ Lifecycle       = (*Manager)(nil)
	_ Doctor          = (*Manager)(nil)
	_ BranchLister    = (*Manager)(nil)
	_ DiffProvider    = (*Manager)(nil)
	_ CommandExecutor = (*CLICommandExecutor)(nil)
)

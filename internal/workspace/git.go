package workspace

import (
	"context"

	"github.com/Iron-Ham/grove/internal/worktree"
)

// ListBranches returns the branches a session can start from.
func (s *Service) ListBranches(ctx context.Context, includeRemote bool) ([]worktree.Branch, error) {
	return s.worktrees.ListBranches(ctx, includeRemote)
}

// Diff renders the changes of a session's worktree against the branch it
// was created from.
func (s *Service) Diff(ctx context.Context, name string, includeUncommitted bool) (string, error) {
	sess, err := s.find(ctx, name)
	if err != nil {
		return "", err
	}
	return s.worktrees.Diff(ctx, sess.WorktreePath, sess.SourceBranch, includeUncommitted)
}

// DetectBroken lists worktrees whose directory and git metadata disagree,
// including sessions whose worktree git no longer knows about.
func (s *Service) DetectBroken(ctx context.Context) ([]worktree.BrokenRecord, error) {
	tracked, err := s.tracked(ctx)
	if err != nil {
		return nil, err
	}
	return s.worktrees.DetectBroken(ctx, tracked...)
}

// tracked lists the worktrees session descriptors expect.
func (s *Service) tracked(ctx context.Context) ([]worktree.Tracked, error) {
	descriptors, err := s.registry.Descriptors(ctx)
	if err != nil {
		return nil, err
	}
	tracked := make([]worktree.Tracked, 0, len(descriptors))
	for _, d := range descriptors {
		path := d.WorktreePath
		if path == "" {
			path = s.worktrees.Path(d.Name)
		}
		tracked = append(tracked, worktree.Tracked{Path: path, Branch: d.Name})
	}
	return tracked, nil
}

// Repair fixes the broken worktree at path. A path that is not broken is
// left alone. Repairs are serialized with creations and deletions of the
// same path.
func (s *Service) Repair(ctx context.Context, path string) error {
	return s.queue.Do(ctx, path, func(bool) error {
		records, err := s.DetectBroken(ctx)
		if err != nil {
			return err
		}
		for _, r := range records {
			if s.queue.Normalize(r.WorktreePath) == s.queue.Normalize(path) {
				s.logger.Info("repairing worktree", "path", path, "reason", r.Reason)
				return s.worktrees.Repair(ctx, r)
			}
		}
		s.logger.Debug("worktree is healthy, nothing to repair", "path", path)
		return nil
	})
}

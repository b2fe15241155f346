package worktree

import (
	"bufio"
	"strings"
)

// Worktree is one entry of `git worktree list --porcelain`.
type Worktree struct {
	Path           string
	Head           string
	Branch         string // short name; empty when detached or bare
	Detached       bool
	Bare           bool
	Locked         bool
	Prunable       bool
	PrunableReason string
}

// parsePorcelain parses `git worktree list --porcelain` output. Records are
// separated by blank lines and always start with a "worktree" line.
func parsePorcelain(output string) []Worktree {
	var (
		worktrees []Worktree
		current   *Worktree
	)

	flush := func() {
		if current != nil {
			worktrees = append(worktrees, *current)
			current = nil
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}

		key, value, _ := strings.Cut(line, " ")
		if key == "worktree" {
			flush()
			current = &Worktree{Path: value}
			continue
		}
		if current == nil {
			continue
		}

		switch key {
		case "HEAD":
			current.Head = value
		case "branch":
			current.Branch = strings.TrimPrefix(value, "refs/heads/")
		case "detached":
			current.Detached = true
		case "bare":
			current.Bare = true
		case "locked":
			current.Locked = true
		case "prunable":
			current.Prunable = true
			current.PrunableReason = value
		}
	}
	flush()

	return worktrees
}

package worktree

import "testing"

func TestParsePorcelain(t *testing.T) {
	output := `worktree /repo
HEAD 1111111111111111111111111111111111111111
branch refs/heads/main

worktree /repo/.grove/worktrees/feat
HEAD 2222222222222222222222222222222222222222
branch refs/heads/feat/login

worktree /repo/.grove/worktrees/gone
HEAD 3333333333333333333333333333333333333333
branch refs/heads/gone
prunable gitdir file points to non-existent location

worktree /repo/.grove/worktrees/detached
HEAD 4444444444444444444444444444444444444444
detached
locked reason here
`

	got := parsePorcelain(output)
	if len(got) != 4 {
		t.Fatalf("parsePorcelain() returned %d entries, want 4", len(got))
	}

	if got[0].Path != "/repo" || got[0].Branch != "main" {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if got[1].Branch != "feat/login" {
		t.Errorf("entry 1 branch = %q, want feat/login", got[1].Branch)
	}
	if !got[2].Prunable || got[2].PrunableReason != "gitdir file points to non-existent location" {
		t.Errorf("entry 2 = %+v", got[2])
	}
	if !got[3].Detached || !got[3].Locked || got[3].Branch != "" {
		t.Errorf("entry 3 = %+v", got[3])
	}
}

func TestParsePorcelain_NoTrailingBlank(t *testing.T) {
	got := parsePorcelain("worktree /repo\nHEAD abc\nbranch refs/heads/main")
	if len(got) != 1 || got[0].Branch != "main" {
		t.Errorf("parsePorcelain() = %+v", got)
	}
}

func TestParsePorcelain_Empty(t *testing.T) {
	if got := parsePorcelain(""); len(got) != 0 {
		t.Errorf("parsePorcelain(\"\") = %+v", got)
	}
}

//go:build integration

package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/grove/internal/testutil"
)

// setupTestEnvironment creates a test repo with an isolated config home
// and points --workspace at it.
func setupTestEnvironment(t *testing.T) string {
	t.Helper()
	testutil.SkipIfNoGit(t)

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("GROVE_AGENT_DEFAULT", "claude")

	repoDir := testutil.SetupTestRepo(t)
	t.Cleanup(func() {
		workspaceFlag = ""
		listAll = false
		createWorkflow = ""
		createOpen = false
	})
	return repoDir
}

func TestSessionsCommands(t *testing.T) {
	repo := setupTestEnvironment(t)

	output, err := executeCommand(rootCmd, "-w", repo, "sessions", "create", "feat-cli", "--prompt", "Do the thing")
	if err != nil {
		t.Fatalf("sessions create error = %v\n%s", err, output)
	}
	if !strings.Contains(output, "Created session feat-cli") {
		t.Errorf("create output = %q", output)
	}
	if _, err := os.Stat(filepath.Join(repo, ".grove", "worktrees", "feat-cli")); err != nil {
		t.Errorf("worktree missing: %v", err)
	}

	output, err = executeCommand(rootCmd, "-w", repo, "sessions", "pin", "feat-cli")
	if err != nil {
		t.Fatalf("sessions pin error = %v", err)
	}

	output, err = executeCommand(rootCmd, "-w", repo, "sessions", "list")
	if err != nil {
		t.Fatalf("sessions list error = %v", err)
	}
	if !strings.Contains(output, "* feat-cli") {
		t.Errorf("list output = %q", output)
	}

	output, err = executeCommand(rootCmd, "-w", repo, "sessions", "delete", "feat-cli")
	if err != nil {
		t.Fatalf("sessions delete error = %v\n%s", err, output)
	}
	if testutil.BranchExists(t, repo, "feat-cli") {
		t.Error("branch survived delete")
	}

	if _, err := executeCommand(rootCmd, "-w", repo, "sessions", "pin", "feat-cli"); err == nil {
		t.Error("pin after delete should fail")
	}
}

func TestWorkflowsAndAgentsCommands(t *testing.T) {
	repo := setupTestEnvironment(t)

	output, err := executeCommand(rootCmd, "-w", repo, "workflows", "list")
	if err != nil {
		t.Fatalf("workflows list error = %v", err)
	}
	for _, name := range []string{"feature", "bugfix", "refactor"} {
		if !strings.Contains(output, name) {
			t.Errorf("workflows list missing %q:\n%s", name, output)
		}
	}

	output, err = executeCommand(rootCmd, "-w", repo, "agents", "list")
	if err != nil {
		t.Fatalf("agents list error = %v", err)
	}
	for _, name := range []string{"claude", "codex", "gemini"} {
		if !strings.Contains(output, name) {
			t.Errorf("agents list missing %q:\n%s", name, output)
		}
	}
}

func TestWorktreesDoctor(t *testing.T) {
	repo := setupTestEnvironment(t)

	output, err := executeCommand(rootCmd, "-w", repo, "worktrees", "doctor")
	if err != nil {
		t.Fatalf("worktrees doctor error = %v", err)
	}
	if !strings.Contains(output, "healthy") {
		t.Errorf("doctor output = %q", output)
	}
}

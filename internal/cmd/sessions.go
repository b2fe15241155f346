package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/grove/internal/bridge"
	"github.com/Iron-Ham/grove/internal/workspace"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session", "s"},
	Short:   "Manage agent sessions",
	Long:    `Commands for creating, listing, pinning, clearing and deleting sessions.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Long: `List the sessions of this repository, pinned ones first, with their
branch, agent, status and workflow progress.

With --all, worktree folders that have no session descriptor are listed
as inactive.`,
	Args: cobra.NoArgs,
	RunE: runSessionsList,
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a session",
	Long: `Create a session: a git worktree on branch <name> (or --branch), a
session descriptor, and the command that starts the agent in it.

With --workflow the session runs through a workflow template; its first
step is added to the agent's prompt.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsCreate,
}

var sessionsOpenCmd = &cobra.Command{
	Use:   "open <name>",
	Short: "Open a session's agent in a terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsOpen,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a session",
	Long: `Delete a session. Its terminal is closed and its worktree and branch are
removed unless --keep-worktree or --keep-branch is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsDelete,
}

var sessionsPinCmd = &cobra.Command{
	Use:   "pin <name>",
	Short: "Pin a session to the top of the list",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsSimple(bridge.MethodSessionPin, "Pinned"),
}

var sessionsUnpinCmd = &cobra.Command{
	Use:   "unpin <name>",
	Short: "Unpin a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsSimple(bridge.MethodSessionUnpin, "Unpinned"),
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear <name>",
	Short: "Reset a session's agent conversation and workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsSimple(bridge.MethodSessionClear, "Cleared"),
}

var sessionsDiffCmd = &cobra.Command{
	Use:   "diff <name>",
	Short: "Show the changes a session made against its source branch",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDiff,
}

var (
	listAll bool

	createBranch     string
	createWorkflow   string
	createAgent      string
	createPrompt     string
	createAttach     []string
	createPermission string
	createPolicy     string
	createOpen       bool

	deleteKeepWorktree bool
	deleteKeepBranch   bool

	diffUncommitted bool
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsOpenCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsPinCmd)
	sessionsCmd.AddCommand(sessionsUnpinCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
	sessionsCmd.AddCommand(sessionsDiffCmd)

	sessionsListCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include worktrees without a session")

	sessionsCreateCmd.Flags().StringVarP(&createBranch, "branch", "b", "", "source branch (default is the current branch)")
	sessionsCreateCmd.Flags().StringVar(&createWorkflow, "workflow", "", "workflow template to run")
	sessionsCreateCmd.Flags().StringVar(&createAgent, "agent", "", "agent to launch (claude, codex, gemini)")
	sessionsCreateCmd.Flags().StringVarP(&createPrompt, "prompt", "p", "", "initial prompt")
	sessionsCreateCmd.Flags().StringSliceVar(&createAttach, "attach", nil, "files to reference in the prompt")
	sessionsCreateCmd.Flags().StringVar(&createPermission, "permission-mode", "", "agent permission mode")
	sessionsCreateCmd.Flags().StringVar(&createPolicy, "branch-policy", "", "reuse, reject or prompt when the branch exists")
	sessionsCreateCmd.Flags().BoolVar(&createOpen, "open", false, "open the agent in a terminal")

	sessionsDeleteCmd.Flags().BoolVar(&deleteKeepWorktree, "keep-worktree", false, "leave the worktree on disk")
	sessionsDeleteCmd.Flags().BoolVar(&deleteKeepBranch, "keep-branch", false, "keep the session branch")

	sessionsDiffCmd.Flags().BoolVar(&diffUncommitted, "uncommitted", true, "include uncommitted changes")
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	var out bridge.SessionListResult
	err := callWorkspace(cmd.Context(), bridge.MethodSessionList, bridge.SessionListParams{IncludeInactive: listAll}, &out)
	if err != nil {
		return err
	}
	renderSessions(cmd.OutOrStdout(), out.Sessions)
	return nil
}

func runSessionsCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, release, err := connectWorkspace(ctx)
	if err != nil {
		return err
	}
	defer release()

	req := workspace.CreateRequest{
		Name:           args[0],
		Branch:         createBranch,
		Workflow:       createWorkflow,
		Agent:          createAgent,
		Prompt:         createPrompt,
		Attachments:    createAttach,
		PermissionMode: createPermission,
		BranchPolicy:   createPolicy,
	}
	var res workspace.CreateResult
	if err := client.Call(ctx, bridge.MethodSessionCreate, req, &res); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created session %s\n", res.SessionName)
	fmt.Fprintf(out, "  Worktree: %s\n", res.WorktreePath)
	if res.WorkflowWarning != "" {
		fmt.Fprintf(out, "  Warning:  %s\n", res.WorkflowWarning)
	}

	if !createOpen {
		fmt.Fprintln(out, "\nStart the agent with:")
		fmt.Fprintln(out, indent(res.Command, "  "))
		return nil
	}

	var opened bridge.SessionOpenResult
	if err := client.Call(ctx, bridge.MethodSessionOpen, bridge.SessionNameParams{Name: res.SessionName}, &opened); err != nil {
		return err
	}
	printOpened(cmd, opened)
	return nil
}

func runSessionsOpen(cmd *cobra.Command, args []string) error {
	var opened bridge.SessionOpenResult
	if err := callWorkspace(cmd.Context(), bridge.MethodSessionOpen, bridge.SessionNameParams{Name: args[0]}, &opened); err != nil {
		return err
	}
	printOpened(cmd, opened)
	return nil
}

func printOpened(cmd *cobra.Command, opened bridge.SessionOpenResult) {
	out := cmd.OutOrStdout()
	if opened.Opened {
		fmt.Fprintf(out, "Opened the agent in a terminal (%s)\n", opened.WorktreePath)
		return
	}
	fmt.Fprintln(out, "No terminal host available. Run the agent yourself:")
	fmt.Fprintln(out, indent(opened.Command, "  "))
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	var res bridge.SessionDeleteResult
	params := bridge.SessionDeleteParams{
		Name:           args[0],
		DeleteWorktree: !deleteKeepWorktree,
		KeepBranch:     deleteKeepBranch,
	}
	if err := callWorkspace(cmd.Context(), bridge.MethodSessionDelete, params, &res); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Deleted session %s\n", args[0])
	if res.Warning != "" {
		fmt.Fprintf(out, "Warning: %s\n", res.Warning)
	}
	return nil
}

// runSessionsSimple runs a session method that only acknowledges.
func runSessionsSimple(method, verb string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := callWorkspace(cmd.Context(), method, bridge.SessionNameParams{Name: args[0]}, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, args[0])
		return nil
	}
}

func runSessionsDiff(cmd *cobra.Command, args []string) error {
	var res bridge.GetDiffResult
	params := bridge.GetDiffParams{Name: args[0], IncludeUncommitted: diffUncommitted}
	if err := callWorkspace(cmd.Context(), bridge.MethodGitGetDiff, params, &res); err != nil {
		return err
	}
	if res.Diff == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "No changes.")
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), res.Diff)
	return nil
}

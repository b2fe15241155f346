package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/grove/internal/bridge"
)

var worktreesCmd = &cobra.Command{
	Use:     "worktrees",
	Aliases: []string{"worktree", "wt"},
	Short:   "Inspect the repository's worktrees",
}

var worktreesDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Find broken worktrees",
	Long: `Find worktrees whose folder, git link or branch is gone. With --repair
each broken worktree is fixed the way its record suggests.`,
	Args: cobra.NoArgs,
	RunE: runWorktreesDoctor,
}

var doctorRepair bool

func init() {
	rootCmd.AddCommand(worktreesCmd)
	worktreesCmd.AddCommand(worktreesDoctorCmd)

	worktreesDoctorCmd.Flags().BoolVar(&doctorRepair, "repair", false, "repair what is found")
}

func runWorktreesDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, release, err := connectWorkspace(ctx)
	if err != nil {
		return err
	}
	defer release()

	var res bridge.DetectBrokenResult
	if err := client.Call(ctx, bridge.MethodWorktreeDetectBroken, nil, &res); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(res.Broken) == 0 {
		fmt.Fprintln(out, "All worktrees are healthy.")
		return nil
	}

	var failed int
	for _, b := range res.Broken {
		fmt.Fprintf(out, "%s (%s): %s\n", b.WorktreePath, b.BranchName, b.Reason)
		if !doctorRepair {
			fmt.Fprintf(out, "  fix: %s\n", b.RepairAction)
			continue
		}
		if err := client.Call(ctx, bridge.MethodWorktreeRepair, bridge.RepairParams{Path: b.WorktreePath}, nil); err != nil {
			fmt.Fprintf(out, "  repair failed: %v\n", err)
			failed++
			continue
		}
		fmt.Fprintln(out, "  repaired")
	}

	if !doctorRepair {
		fmt.Fprintln(out, "\nRun 'grove worktrees doctor --repair' to fix them.")
		return nil
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d worktree(s) could not be repaired", failed, len(res.Broken))
	}
	return nil
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/grove/internal/bridge"
)

var agentsCmd = &cobra.Command{
	Use:     "agents",
	Aliases: []string{"agent"},
	Short:   "Show the supported coding agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents and their permission modes",
	Args:  cobra.NoArgs,
	RunE:  runAgentsList,
}

var agentsCheck bool

func init() {
	rootCmd.AddCommand(agentsCmd)
	agentsCmd.AddCommand(agentsListCmd)

	agentsListCmd.Flags().BoolVar(&agentsCheck, "check", false, "check which agent CLIs are installed")
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	var res bridge.AgentListResult
	if err := callWorkspace(cmd.Context(), bridge.MethodAgentList, bridge.AgentListParams{CheckAvailability: agentsCheck}, &res); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, a := range res.Agents {
		line := fmt.Sprintf("%-8s %-14s %s", a.Name, a.DisplayName, mutedStyle.Render(a.CLICommand))
		if a.Available != nil {
			if *a.Available {
				line += "  installed"
			} else {
				line += "  " + mutedStyle.Render("not found")
			}
		}
		fmt.Fprintln(out, line)
		if len(a.PermissionModes) > 0 {
			fmt.Fprintf(out, "         modes: %s\n", strings.Join(a.PermissionModes, ", "))
		}
	}
	return nil
}

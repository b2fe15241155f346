package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/grove/internal/bridge"
	"github.com/Iron-Ham/grove/internal/workflow"
)

var workflowsCmd = &cobra.Command{
	Use:     "workflows",
	Aliases: []string{"workflow", "wf"},
	Short:   "Manage workflow templates",
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow templates",
	Args:  cobra.NoArgs,
	RunE:  runWorkflowsList,
}

var workflowsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a custom workflow template",
	Long: `Create a custom workflow template in the repository. The YAML comes from
--file, or from stdin when --file is "-". Without either a starter
template is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflowsCreate,
}

var workflowsStatusCmd = &cobra.Command{
	Use:   "status <session>",
	Short: "Show a session's workflow progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowsStatus,
}

var (
	workflowsBuiltinOnly bool
	workflowsCustomOnly  bool
	workflowFile         string
)

func init() {
	rootCmd.AddCommand(workflowsCmd)
	workflowsCmd.AddCommand(workflowsListCmd)
	workflowsCmd.AddCommand(workflowsCreateCmd)
	workflowsCmd.AddCommand(workflowsStatusCmd)

	workflowsListCmd.Flags().BoolVar(&workflowsBuiltinOnly, "builtin", false, "only builtin templates")
	workflowsListCmd.Flags().BoolVar(&workflowsCustomOnly, "custom", false, "only custom templates")
	workflowsListCmd.MarkFlagsMutuallyExclusive("builtin", "custom")

	workflowsCreateCmd.Flags().StringVarP(&workflowFile, "file", "f", "", "template file, or - for stdin")
}

func runWorkflowsList(cmd *cobra.Command, args []string) error {
	var params bridge.WorkflowListParams
	if workflowsBuiltinOnly || workflowsCustomOnly {
		params.IncludeBuiltin = &workflowsBuiltinOnly
		params.IncludeCustom = &workflowsCustomOnly
	}

	var res bridge.WorkflowListResult
	if err := callWorkspace(cmd.Context(), bridge.MethodWorkflowList, params, &res); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(res.Workflows) == 0 {
		fmt.Fprintln(out, "No workflows found.")
		return nil
	}
	for _, w := range res.Workflows {
		kind := "custom"
		if w.IsBuiltin {
			kind = "builtin"
		}
		fmt.Fprintf(out, "%s %s\n", headerStyle.Render(w.Name), mutedStyle.Render("("+kind+")"))
		if w.Description != "" {
			fmt.Fprintln(out, indent(w.Description, "    "))
		}
	}
	return nil
}

func runWorkflowsCreate(cmd *cobra.Command, args []string) error {
	content, err := readWorkflowContent(cmd.InOrStdin(), workflowFile)
	if err != nil {
		return err
	}

	var res bridge.WorkflowCreateResult
	params := bridge.WorkflowCreateParams{Name: args[0], Content: content}
	if err := callWorkspace(cmd.Context(), bridge.MethodWorkflowCreate, params, &res); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created workflow %s at %s\n", args[0], res.Path)
	return nil
}

// readWorkflowContent returns the template text for path. An empty path
// yields "" so the server writes its starter template.
func readWorkflowContent(stdin io.Reader, path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read workflow from stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read workflow file: %w", err)
		}
		return string(data), nil
	}
}

func runWorkflowsStatus(cmd *cobra.Command, args []string) error {
	var report workflow.Report
	if err := callWorkspace(cmd.Context(), bridge.MethodWorkflowStatus, bridge.SessionNameParams{Name: args[0]}, &report); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Workflow: %s\n", report.Workflow)
	fmt.Fprintf(out, "Status:   %s\n", report.Status)
	if report.CurrentStepID != "" {
		fmt.Fprintf(out, "Step:     %s\n", report.CurrentStepID)
	}
	if report.ProgressSummary != "" {
		fmt.Fprintf(out, "Progress: %s\n", report.ProgressSummary)
	}
	if report.FailureReason != "" {
		fmt.Fprintf(out, "Failure:  %s\n", report.FailureReason)
	}
	if len(report.TaskList) > 0 {
		fmt.Fprintln(out, "\nTasks:")
		for _, t := range report.TaskList {
			mark := " "
			if t.Implemented {
				mark = "x"
			}
			if t.ID == report.CurrentTaskID {
				mark = ">"
			}
			fmt.Fprintf(out, "  [%s] %s %s\n", mark, t.ID, strings.TrimSpace(t.Description))
		}
	}
	return nil
}

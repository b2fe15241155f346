package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Iron-Ham/grove/internal/status"
	"github.com/Iron-Ham/grove/internal/workspace"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	statusColors = map[status.Status]lipgloss.Color{
		status.Working:        lipgloss.Color("11"),
		status.WaitingForUser: lipgloss.Color("13"),
		status.Idle:           lipgloss.Color("10"),
		status.Error:          lipgloss.Color("9"),
	}
)

// renderSessions draws the session table.
func renderSessions(w io.Writer, sessions []workspace.SessionSummary) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		fmt.Fprintln(w, "Run 'grove sessions create <name>' to start one.")
		return
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		name := s.Name
		if s.IsPinned {
			name = "* " + name
		}
		state := string(s.Status)
		if !s.Tracked {
			state = "inactive"
		}
		rows = append(rows, []string{name, s.Branch, s.Agent, state, s.WorkflowStatus})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("NAME", "BRANCH", "AGENT", "STATUS", "WORKFLOW").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 3 && row >= 0 && row < len(sessions) {
				s := sessions[row]
				if !s.Tracked {
					return cellStyle.Inherit(mutedStyle)
				}
				if c, ok := statusColors[s.Status]; ok {
					return cellStyle.Foreground(c)
				}
			}
			return cellStyle
		})

	fmt.Fprintln(w, t.Render())
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d session(s), * = pinned", len(sessions))))
}

// indent prefixes every line of s.
func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

package session

import (
	"runtime"
	"strings"
	"time"

	"github.com/Iron-Ham/grove/internal/status"
)

// Descriptor is the persisted record of a session, stored as
// current-sessions/<name>/session.json.
type Descriptor struct {
	Name           string    `json:"name"`
	WorktreePath   string    `json:"worktreePath"`
	SourceBranch   string    `json:"sourceBranch"`
	CreatedAt      time.Time `json:"createdAt"`
	AgentName      string    `json:"agentName"`
	WorkflowName   string    `json:"workflowName,omitempty"`
	SessionID      string    `json:"sessionId"`
	PermissionMode string    `json:"permissionMode,omitempty"`
}

// Session is a discovered session: its descriptor, when one exists, plus
// state gathered from the rest of the state folder.
type Session struct {
	Descriptor
	Tracked         bool          `json:"tracked"`
	Pinned          bool          `json:"pinned"`
	Status          status.Status `json:"status"`
	StatusMessage   string        `json:"statusMessage,omitempty"`
	StatusTimestamp *time.Time    `json:"statusTimestamp,omitempty"`
}

// Branch returns the session's branch. Sessions are named after their branch.
func (s Session) Branch() string {
	return s.Name
}

// FoldCase reports whether session names compare case-insensitively, which
// is the case on the default filesystems of macOS and Windows.
func FoldCase() bool {
	return runtime.GOOS == "darwin" || runtime.GOOS == "windows"
}

// NormalizeName maps a session name to the form used for uniqueness checks.
func NormalizeName(name string) string {
	if FoldCase() {
		return strings.ToLower(name)
	}
	return name
}

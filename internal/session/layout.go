// Package session keeps track of the agent sessions that live in a
// repository: their descriptors under the state folder, the pin set, the
// display order and the lock that guarantees a single bridge server.
package session

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/grove/internal/errors"
)

// Names of the entries inside the state folder.
const (
	DefaultStateDirName    = ".grove"
	SessionsDirName        = "current-sessions"
	PendingSessionsDirName = "pending-sessions"
	ClearRequestsDirName   = "clear-requests"
	PromptsDirName         = "prompts"
	WorkflowsDirName       = "workflows"
	PinsFileName           = "pins.json"
	IgnoreFileName         = ".gitignore"
	ServerLockFileName     = ".server.lock"

	DescriptorFileName   = "session.json"
	StatusFileName       = "status.json"
	AgentSessionFileName = "agent-session.json"
	WorkflowStateFile    = "workflow-state.json"
	TranscriptFileName   = "transcript.jsonl"
)

// ignoredEntries are kept out of version control in every repository.
var ignoredEntries = []string{
	SessionsDirName + "/",
	PendingSessionsDirName + "/",
	ClearRequestsDirName + "/",
	PromptsDirName + "/",
}

// Layout locates grove's files for one repository.
type Layout struct {
	Root     string
	StateDir string
}

// NewLayout returns the layout for the repository at root. An empty
// stateDir means <root>/.grove.
func NewLayout(root, stateDir string) Layout {
	if stateDir == "" {
		stateDir = filepath.Join(root, DefaultStateDirName)
	}
	return Layout{Root: filepath.Clean(root), StateDir: filepath.Clean(stateDir)}
}

func (l Layout) SessionsDir() string        { return filepath.Join(l.StateDir, SessionsDirName) }
func (l Layout) PendingSessionsDir() string { return filepath.Join(l.StateDir, PendingSessionsDirName) }
func (l Layout) ClearRequestsDir() string   { return filepath.Join(l.StateDir, ClearRequestsDirName) }
func (l Layout) PromptsDir() string         { return filepath.Join(l.StateDir, PromptsDirName) }
func (l Layout) WorkflowsDir() string       { return filepath.Join(l.StateDir, WorkflowsDirName) }
func (l Layout) PinsPath() string           { return filepath.Join(l.StateDir, PinsFileName) }
func (l Layout) IgnorePath() string         { return filepath.Join(l.StateDir, IgnoreFileName) }
func (l Layout) ServerLockPath() string     { return filepath.Join(l.SessionsDir(), ServerLockFileName) }

// SessionDir returns the state folder of one session.
func (l Layout) SessionDir(name string) string {
	return filepath.Join(l.SessionsDir(), filepath.FromSlash(name))
}

func (l Layout) DescriptorPath(name string) string {
	return filepath.Join(l.SessionDir(name), DescriptorFileName)
}

func (l Layout) StatusPath(name string) string {
	return filepath.Join(l.SessionDir(name), StatusFileName)
}

func (l Layout) AgentSessionPath(name string) string {
	return filepath.Join(l.SessionDir(name), AgentSessionFileName)
}

func (l Layout) WorkflowStatePath(name string) string {
	return filepath.Join(l.SessionDir(name), WorkflowStateFile)
}

func (l Layout) TranscriptPath(name string) string {
	return filepath.Join(l.SessionDir(name), TranscriptFileName)
}

// PromptPath returns the file holding the initial prompt of a session.
func (l Layout) PromptPath(name string) string {
	return filepath.Join(l.PromptsDir(), filepath.FromSlash(name)+".md")
}

// EnsureIgnoreFile makes sure the state folder's .gitignore lists every
// transient entry. Existing lines are preserved and never duplicated.
func (l Layout) EnsureIgnoreFile(fs afero.Fs) error {
	path := l.IgnorePath()
	if err := fs.MkdirAll(l.StateDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", l.StateDir)
	}

	existing, err := afero.ReadFile(fs, path)
	if err != nil && !isNotExist(err) {
		return errors.Wrapf(err, "failed to read %s", path)
	}

	present := make(map[string]bool)
	for _, line := range strings.Split(string(existing), "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var missing []string
	for _, entry := range ignoredEntries {
		if !present[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		buf.WriteByte('\n')
	}
	for _, entry := range missing {
		buf.WriteString(entry)
		buf.WriteByte('\n')
	}
	return writeFileAtomic(fs, path, buf.Bytes(), 0o644)
}

package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/session"
	"github.com/Iron-Ham/grove/internal/status"
)

// SettingsPath is where Claude Code reads worktree-local settings.
const SettingsPath = ".claude/settings.local.json"

// hookMarker tags the hook commands grove owns so reinstalling replaces
// them instead of piling up duplicates.
const hookMarker = "# grove-status"

type hookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

type hookMatcher struct {
	Matcher string        `json:"matcher,omitempty"`
	Hooks   []hookCommand `json:"hooks"`
}

// statusHook writes a status descriptor with the current unix time.
func statusHook(path string, st status.Status) string {
	return fmt.Sprintf(`printf '{"status":"%s","timestamp":%%s}' "$(date +%%s)" > %q %s`, st, path, hookMarker)
}

// hookSet returns the hooks that report the status of session name.
func hookSet(layout session.Layout, name string) map[string][]hookMatcher {
	statusPath := layout.StatusPath(name)
	one := func(cmd string) []hookMatcher {
		return []hookMatcher{{Hooks: []hookCommand{{Type: "command", Command: cmd}}}}
	}
	return map[string][]hookMatcher{
		"SessionStart":     one(fmt.Sprintf("cat > %q && %s", layout.AgentSessionPath(name), statusHook(statusPath, status.Idle))),
		"UserPromptSubmit": one(statusHook(statusPath, status.Working)),
		"PreToolUse":       one(statusHook(statusPath, status.Working)),
		"Notification":     one(statusHook(statusPath, status.WaitingForUser)),
		"Stop":             one(statusHook(statusPath, status.WaitingForUser)),
	}
}

// InstallHooks writes Claude Code hooks into the worktree's local settings
// so the agent keeps the session's status descriptor and agent-session file
// current. Settings and hooks that grove does not own are preserved.
func InstallHooks(fs afero.Fs, worktreePath string, layout session.Layout, name string) error {
	path := filepath.Join(worktreePath, filepath.FromSlash(SettingsPath))

	settings := map[string]any{}
	data, err := afero.ReadFile(fs, path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &settings); err != nil {
			return errors.NewValidationError(fmt.Sprintf("%s is not valid JSON", path)).WithCause(err)
		}
	case !os.IsNotExist(err):
		return errors.Wrapf(err, "failed to read %s", path)
	}

	hooks, _ := settings["hooks"].(map[string]any)
	if hooks == nil {
		hooks = map[string]any{}
	}
	for event, ours := range hookSet(layout, name) {
		existing, _ := hooks[event].([]any)
		kept := make([]any, 0, len(existing)+len(ours))
		for _, entry := range existing {
			if !ownedEntry(entry) {
				kept = append(kept, entry)
			}
		}
		for _, m := range ours {
			kept = append(kept, m)
		}
		hooks[event] = kept
	}
	settings["hooks"] = hooks

	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(settings); err != nil {
		return errors.Wrap(err, "failed to marshal agent settings")
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	if err := afero.WriteFile(fs, path, out.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// ownedEntry reports whether a hook matcher entry was written by grove.
func ownedEntry(entry any) bool {
	m, ok := entry.(map[string]any)
	if !ok {
		return false
	}
	list, _ := m["hooks"].([]any)
	for _, h := range list {
		cmd, _ := h.(map[string]any)
		if s, _ := cmd["command"].(string); strings.Contains(s, hookMarker) {
			return true
		}
	}
	return false
}

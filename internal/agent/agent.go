// Package agent describes the coding-agent CLIs grove can launch in a
// session worktree: how to start them, which permission modes they accept
// and how their activity is observed.
package agent

import (
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/status"
)

// Name identifies a supported agent.
type Name string

const (
	Claude Name = "claude"
	Codex  Name = "codex"
	Gemini Name = "gemini"
)

// TranscriptEnv is the environment variable through which hookless agents
// learn where to append their transcript.
const TranscriptEnv = "GROVE_TRANSCRIPT"

// SessionEnv carries the session name into the agent's environment.
const SessionEnv = "GROVE_SESSION"

// LaunchOptions configures the command that starts an agent.
type LaunchOptions struct {
	Session        string
	PromptFile     string
	PermissionMode string
	SessionID      string
	TranscriptPath string
	// ResumeID continues an earlier agent session instead of starting a
	// new one. Agents without session ids ignore it.
	ResumeID string
}

// Agent provides agent-specific launch behavior.
type Agent interface {
	Name() Name
	DisplayName() string
	CLICommand() string
	// PermissionModes lists accepted modes; the first one is the default.
	PermissionModes() []string
	// StatusSource tells whether the agent reports status through hooks
	// (push) or has to be observed through its transcript (pull).
	StatusSource() status.Source
	SupportsSessionID() bool
	Command(opts LaunchOptions) (string, error)
}

// Info is the catalog entry reported to clients.
type Info struct {
	Name            Name     `json:"name"`
	DisplayName     string   `json:"displayName"`
	CLICommand      string   `json:"cliCommand"`
	PermissionModes []string `json:"permissionModes"`
	Available       *bool    `json:"available,omitempty"`
}

// Catalog holds the known agents.
type Catalog struct {
	agents   []Agent
	lookPath func(string) (string, error)
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithLookPath replaces exec.LookPath for availability checks.
func WithLookPath(fn func(string) (string, error)) CatalogOption {
	return func(c *Catalog) { c.lookPath = fn }
}

// WithAgents replaces the builtin agents.
func WithAgents(agents ...Agent) CatalogOption {
	return func(c *Catalog) { c.agents = agents }
}

// NewCatalog returns the builtin agents.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		agents:   []Agent{NewClaude(""), NewCodex(""), NewGemini("")},
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List describes every agent. With checkAvailability each CLI is looked up
// on PATH.
func (c *Catalog) List(checkAvailability bool) []Info {
	out := make([]Info, 0, len(c.agents))
	for _, a := range c.agents {
		info := Info{
			Name:            a.Name(),
			DisplayName:     a.DisplayName(),
			CLICommand:      a.CLICommand(),
			PermissionModes: a.PermissionModes(),
		}
		if checkAvailability {
			_, err := c.lookPath(a.CLICommand())
			available := err == nil
			info.Available = &available
		}
		out = append(out, info)
	}
	return out
}

// Get returns the agent called name. Lookup is case-insensitive.
func (c *Catalog) Get(name string) (Agent, error) {
	for _, a := range c.agents {
		if strings.EqualFold(string(a.Name()), name) {
			return a, nil
		}
	}
	return nil, errors.NewNotFoundError("agent", name)
}

// ResolvePermissionMode returns mode if the agent accepts it, the agent's
// default for an empty mode, and a ValidationError otherwise.
func ResolvePermissionMode(a Agent, mode string) (string, error) {
	modes := a.PermissionModes()
	if len(modes) == 0 {
		return "", nil
	}
	if mode == "" {
		return modes[0], nil
	}
	if !slices.Contains(modes, mode) {
		return "", errors.NewValidationError(fmt.Sprintf("%s does not support permission mode %q (supported: %s)",
			a.DisplayName(), mode, strings.Join(modes, ", "))).WithField("permissionMode").WithValue(mode)
	}
	return mode, nil
}

// withPrompt appends the prompt file contents as the initial prompt.
func withPrompt(cmd, promptFile string) string {
	if promptFile == "" {
		return cmd
	}
	return fmt.Sprintf("%s \"$(cat %q)\"", cmd, promptFile)
}

// withEnv prefixes cmd with the grove environment variables.
func withEnv(cmd string, opts LaunchOptions, transcript bool) string {
	var env []string
	if opts.Session != "" {
		env = append(env, fmt.Sprintf("%s=%q", SessionEnv, opts.Session))
	}
	if transcript && opts.TranscriptPath != "" {
		env = append(env, fmt.Sprintf("%s=%q", TranscriptEnv, opts.TranscriptPath))
	}
	if len(env) == 0 {
		return cmd
	}
	return strings.Join(env, " ") + " " + cmd
}

// ClaudeAgent launches Claude Code. It reports status through hooks.
type ClaudeAgent struct {
	command string
}

// NewClaude creates a Claude agent. An empty command uses "claude".
func NewClaude(command string) *ClaudeAgent {
	if command == "" {
		command = "claude"
	}
	return &ClaudeAgent{command: command}
}

func (c *ClaudeAgent) Name() Name { return Claude }

func (c *ClaudeAgent) DisplayName() string { return "Claude Code" }

func (c *ClaudeAgent) CLICommand() string { return c.command }

func (c *ClaudeAgent) PermissionModes() []string {
	return []string{"default", "acceptEdits", "plan", "bypassPermissions"}
}

func (c *ClaudeAgent) StatusSource() status.Source { return status.SourcePush }

func (c *ClaudeAgent) SupportsSessionID() bool { return true }

func (c *ClaudeAgent) Command(opts LaunchOptions) (string, error) {
	mode, err := ResolvePermissionMode(c, opts.PermissionMode)
	if err != nil {
		return "", err
	}

	cmd := c.command
	if mode != "default" {
		cmd += " --permission-mode " + mode
	}
	if opts.ResumeID != "" {
		return withEnv(cmd+fmt.Sprintf(" --resume %q", opts.ResumeID), opts, false), nil
	}
	if opts.SessionID != "" {
		cmd += fmt.Sprintf(" --session-id %q", opts.SessionID)
	}
	return withEnv(withPrompt(cmd, opts.PromptFile), opts, false), nil
}

// CodexAgent launches the Codex CLI. It has no hooks, so its transcript is
// observed instead.
type CodexAgent struct {
	command string
}

// NewCodex creates a Codex agent. An empty command uses "codex".
func NewCodex(command string) *CodexAgent {
	if command == "" {
		command = "codex"
	}
	return &CodexAgent{command: command}
}

func (c *CodexAgent) Name() Name { return Codex }

func (c *CodexAgent) DisplayName() string { return "Codex" }

func (c *CodexAgent) CLICommand() string { return c.command }

func (c *CodexAgent) PermissionModes() []string {
	return []string{"suggest", "auto-edit", "full-auto"}
}

func (c *CodexAgent) StatusSource() status.Source { return status.SourcePull }

func (c *CodexAgent) SupportsSessionID() bool { return false }

func (c *CodexAgent) Command(opts LaunchOptions) (string, error) {
	mode, err := ResolvePermissionMode(c, opts.PermissionMode)
	if err != nil {
		return "", err
	}

	cmd := c.command
	switch mode {
	case "auto-edit":
		cmd += " --sandbox workspace-write --ask-for-approval on-request"
	case "full-auto":
		cmd += " --full-auto"
	}
	return withEnv(withPrompt(cmd, opts.PromptFile), opts, true), nil
}

// GeminiAgent launches the Gemini CLI. Like Codex it is hookless.
type GeminiAgent struct {
	command string
}

// NewGemini creates a Gemini agent. An empty command uses "gemini".
func NewGemini(command string) *GeminiAgent {
	if command == "" {
		command = "gemini"
	}
	return &GeminiAgent{command: command}
}

func (g *GeminiAgent) Name() Name { return Gemini }

func (g *GeminiAgent) DisplayName() string { return "Gemini CLI" }

func (g *GeminiAgent) CLICommand() string { return g.command }

func (g *GeminiAgent) PermissionModes() []string { return []string{"default", "yolo"} }

func (g *GeminiAgent) StatusSource() status.Source { return status.SourcePull }

func (g *GeminiAgent) SupportsSessionID() bool { return false }

func (g *GeminiAgent) Command(opts LaunchOptions) (string, error) {
	mode, err := ResolvePermissionMode(g, opts.PermissionMode)
	if err != nil {
		return "", err
	}

	cmd := g.command
	if mode == "yolo" {
		cmd += " --yolo"
	}
	if opts.PromptFile != "" {
		cmd = fmt.Sprintf("%s --prompt-interactive \"$(cat %q)\"", cmd, opts.PromptFile)
	}
	return withEnv(cmd, opts, true), nil
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete grove configuration
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Worktree WorktreeConfig `mapstructure:"worktree"`
	Status   StatusConfig   `mapstructure:"status"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PathsConfig controls where grove keeps worktrees and per-session state
type PathsConfig struct {
	// WorktreeDir is the folder that holds session worktrees.
	// Relative paths resolve against the repository root; ~ expands to home.
	// Default: .grove/worktrees
	WorktreeDir string `mapstructure:"worktree_dir"`
	// StateDir is the repo-relative directory holding session descriptors,
	// pending requests, prompts and custom workflows. Default: .grove
	StateDir string `mapstructure:"state_dir"`
}

// WorktreeConfig controls worktree creation
type WorktreeConfig struct {
	// BranchPolicy decides what happens when the session branch already exists.
	// Options: "reuse", "reject", "prompt"
	BranchPolicy string `mapstructure:"branch_policy"`
	// FetchTimeoutSeconds bounds the fetch of a remote source branch.
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`
}

// StatusConfig controls agent activity detection for hookless agents
type StatusConfig struct {
	// DebounceMs collapses bursts of transcript writes into a single "working" signal.
	DebounceMs int `mapstructure:"debounce_ms"`
	// QuietTimeoutMs is how long a transcript must stay untouched before the
	// agent is considered idle or waiting for the user.
	QuietTimeoutMs int `mapstructure:"quiet_timeout_ms"`
}

// AgentConfig selects the default coding agent
type AgentConfig struct {
	// Default is the agent used when a session does not name one.
	Default string `mapstructure:"default"`
	// DefaultPermissionMode is passed to agents that support permission modes.
	DefaultPermissionMode string `mapstructure:"default_permission_mode"`
}

// BridgeConfig controls the per-workspace bridge server
type BridgeConfig struct {
	// SocketDir is where workspace sockets are created. Empty uses the OS temp dir.
	SocketDir string `mapstructure:"socket_dir"`
	// StartTimeoutSeconds bounds how long a client waits for a spawned server.
	StartTimeoutSeconds int `mapstructure:"start_timeout_seconds"`
}

// LoggingConfig controls the bridge server log file
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
	// MaxSizeMB is the size at which the log file rotates
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress"`
}

// Branch policies
const (
	BranchPolicyReuse  = "reuse"
	BranchPolicyReject = "reject"
	BranchPolicyPrompt = "prompt"
)

// ValidBranchPolicies returns the accepted worktree.branch_policy values
func ValidBranchPolicies() []string {
	return []string{BranchPolicyReuse, BranchPolicyReject, BranchPolicyPrompt}
}

// ResolveWorktreeDir returns the absolute worktree folder for a repository root.
func (p *PathsConfig) ResolveWorktreeDir(repoRoot string) string {
	if p.WorktreeDir == "" {
		return filepath.Join(p.ResolveStateDir(repoRoot), "worktrees")
	}
	return resolvePath(p.WorktreeDir, repoRoot)
}

// ResolveStateDir returns the absolute state directory for a repository root.
func (p *PathsConfig) ResolveStateDir(repoRoot string) string {
	if p.StateDir == "" {
		return filepath.Join(repoRoot, ".grove")
	}
	return resolvePath(p.StateDir, repoRoot)
}

func resolvePath(path, base string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return filepath.Clean(path)
}

// FetchTimeout returns the remote fetch bound as a duration
func (c *WorktreeConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// Debounce returns the transcript debounce window as a duration
func (c *StatusConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// QuietTimeout returns the transcript quiet period as a duration
func (c *StatusConfig) QuietTimeout() time.Duration {
	return time.Duration(c.QuietTimeoutMs) * time.Millisecond
}

// StartTimeout returns how long clients wait for a spawned server
func (c *BridgeConfig) StartTimeout() time.Duration {
	return time.Duration(c.StartTimeoutSeconds) * time.Second
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			WorktreeDir: "",
			StateDir:    ".grove",
		},
		Worktree: WorktreeConfig{
			BranchPolicy:        BranchPolicyPrompt,
			FetchTimeoutSeconds: 30,
		},
		Status: StatusConfig{
			DebounceMs:     1500,
			QuietTimeoutMs: 3000,
		},
		Agent: AgentConfig{
			Default:               "claude",
			DefaultPermissionMode: "default",
		},
		Bridge: BridgeConfig{
			SocketDir:           "",
			StartTimeoutSeconds: 10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("paths.worktree_dir", defaults.Paths.WorktreeDir)
	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)

	viper.SetDefault("worktree.branch_policy", defaults.Worktree.BranchPolicy)
	viper.SetDefault("worktree.fetch_timeout_seconds", defaults.Worktree.FetchTimeoutSeconds)

	viper.SetDefault("status.debounce_ms", defaults.Status.DebounceMs)
	viper.SetDefault("status.quiet_timeout_ms", defaults.Status.QuietTimeoutMs)

	viper.SetDefault("agent.default", defaults.Agent.Default)
	viper.SetDefault("agent.default_permission_mode", defaults.Agent.DefaultPermissionMode)

	viper.SetDefault("bridge.socket_dir", defaults.Bridge.SocketDir)
	viper.SetDefault("bridge.start_timeout_seconds", defaults.Bridge.StartTimeoutSeconds)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v and validates it
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is invalid.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "grove")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".grove"
	}
	return filepath.Join(home, ".config", "grove")
}

// ConfigFile returns the path to the user config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

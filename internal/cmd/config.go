package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/grove/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify grove configuration",
	Long: `View or modify grove configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  grove config set worktree.branch_policy reuse
  grove config set agent.default codex

Valid keys:
  paths.worktree_dir               - Folder for session worktrees
  paths.state_dir                  - State folder, relative to the repository
  worktree.branch_policy           - What to do when a branch exists
                                     Options: reuse, reject, prompt
  worktree.fetch_timeout_seconds   - Bound on remote fetches
  status.debounce_ms               - Transcript debounce window
  status.quiet_timeout_ms          - Quiet period before an agent counts as idle
  agent.default                    - Agent used when none is requested
  agent.default_permission_mode    - Permission mode used when none is requested
  bridge.socket_dir                - Folder for workspace sockets
  bridge.start_timeout_seconds     - How long clients wait for a server to start
  logging.level                    - debug, info, warn or error
  logging.max_size_mb              - Log size before rotation
  logging.max_backups              - Rotated logs to keep
  logging.compress                 - Gzip rotated logs (true/false)`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/grove/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// configKeys maps every settable key to its value kind.
var configKeys = map[string]string{
	"paths.worktree_dir":             "string",
	"paths.state_dir":                "string",
	"worktree.branch_policy":         "string",
	"worktree.fetch_timeout_seconds": "int",
	"status.debounce_ms":             "int",
	"status.quiet_timeout_ms":        "int",
	"agent.default":                  "string",
	"agent.default_permission_mode":  "string",
	"bridge.socket_dir":              "string",
	"bridge.start_timeout_seconds":   "int",
	"logging.level":                  "string",
	"logging.max_size_mb":            "int",
	"logging.max_backups":            "int",
	"logging.compress":               "bool",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "paths:")
	fmt.Fprintf(out, "  worktree_dir: %s\n", cfg.Paths.WorktreeDir)
	fmt.Fprintf(out, "  state_dir: %s\n", cfg.Paths.StateDir)

	fmt.Fprintln(out, "worktree:")
	fmt.Fprintf(out, "  branch_policy: %s\n", cfg.Worktree.BranchPolicy)
	fmt.Fprintf(out, "  fetch_timeout_seconds: %d\n", cfg.Worktree.FetchTimeoutSeconds)

	fmt.Fprintln(out, "status:")
	fmt.Fprintf(out, "  debounce_ms: %d\n", cfg.Status.DebounceMs)
	fmt.Fprintf(out, "  quiet_timeout_ms: %d\n", cfg.Status.QuietTimeoutMs)

	fmt.Fprintln(out, "agent:")
	fmt.Fprintf(out, "  default: %s\n", cfg.Agent.Default)
	fmt.Fprintf(out, "  default_permission_mode: %s\n", cfg.Agent.DefaultPermissionMode)

	fmt.Fprintln(out, "bridge:")
	fmt.Fprintf(out, "  socket_dir: %s\n", cfg.Bridge.SocketDir)
	fmt.Fprintf(out, "  start_timeout_seconds: %d\n", cfg.Bridge.StartTimeoutSeconds)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Fprintf(out, "  max_backups: %d\n", cfg.Logging.MaxBackups)
	fmt.Fprintf(out, "  compress: %v\n", cfg.Logging.Compress)

	return nil
}

// parseConfigValue checks value against the kind of key.
func parseConfigValue(key, value string) (any, error) {
	kind, ok := configKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'grove config set --help' to see valid keys", key)
	}

	switch kind {
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	}

	switch key {
	case "worktree.branch_policy":
		if !slices.Contains(config.ValidBranchPolicies(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidBranchPolicies(), ", "))
		}
	case "logging.level":
		if !slices.Contains(config.ValidLogLevels(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
	}
	return value, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseConfigValue(key, args[1])
	if err != nil {
		return err
	}

	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set(key, typedValue)

	// The result has to load cleanly before it is written.
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("refusing to save an invalid configuration: %w", err)
	}

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

const defaultConfigFile = `# grove configuration

paths:
  # Folder for session worktrees. Empty means <state_dir>/worktrees.
  worktree_dir: ""
  # State folder, relative to the repository root
  state_dir: .grove

worktree:
  # What to do when the session branch already exists
  # Options: reuse, reject, prompt
  branch_policy: prompt
  # Bound on remote fetches before a worktree is created
  fetch_timeout_seconds: 30

status:
  # Transcript changes closer together than this are merged
  debounce_ms: 1500
  # A transcript quiet for this long means the agent is waiting
  quiet_timeout_ms: 3000

agent:
  # claude, codex or gemini
  default: claude
  default_permission_mode: default

bridge:
  # Folder for workspace sockets. Empty means the OS temp dir.
  socket_dir: ""
  start_timeout_seconds: 10

logging:
  level: info
  max_size_mb: 10
  max_backups: 3
  compress: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'grove config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to customize grove's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. <repository>/.grove/config.yaml (merged over the first)\n")
	fmt.Fprintln(out, "\nEnvironment variables: GROVE_* (e.g., GROVE_WORKTREE_BRANCH_POLICY)")
	return nil
}

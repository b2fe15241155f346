package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/grove/internal/bridge"
	"github.com/Iron-Ham/grove/internal/config"
	"github.com/Iron-Ham/grove/internal/logging"
	"github.com/Iron-Ham/grove/internal/worktree"
)

// Version is reported to bridge clients and by --version.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "grove",
	Short: "Parallel coding agents in git worktrees",
	Long: `Grove runs coding agents side by side on one repository. Every session
gets its own git worktree and branch, its agent status is tracked, and an
optional workflow walks the agent through planned steps.

Editors talk to grove through 'grove serve'; the other commands are the
same operations from the shell.`,
	SilenceUsage: true,
}

var workspaceFlag string

// Execute runs the root command
func Execute() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/grove/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "repository to operate on (default is the current directory)")
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		_ = viper.ReadInConfig()
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		_ = viper.ReadInConfig()

		// A repository config overrides the user config key by key.
		if root, err := resolveRoot(); err == nil {
			repoConfig := filepath.Join(root, ".grove", "config.yaml")
			if _, err := os.Stat(repoConfig); err == nil {
				viper.SetConfigFile(repoConfig)
				_ = viper.MergeInConfig()
			}
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GROVE")
	// GROVE_STATUS_DEBOUNCE_MS sets status.debounce_ms
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
}

// resolveRoot returns the main repository root for --workspace or the
// current directory.
func resolveRoot() (string, error) {
	start := workspaceFlag
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		start = cwd
	}
	return worktree.FindMainRoot(start)
}

// logPath is where the process serving root writes its log.
func logPath(root string) string {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	return filepath.Join(cacheDir, "grove", bridge.WorkspaceHash(root), "bridge.log")
}

// openLogger opens the rotating log for root.
func openLogger(cfg *config.Config, root string) *logging.Logger {
	rotation := logging.DefaultRotationConfig()
	rotation.MaxSizeMB = cfg.Logging.MaxSizeMB
	rotation.MaxBackups = cfg.Logging.MaxBackups
	rotation.Compress = cfg.Logging.Compress

	logger, err := logging.NewLogger(logPath(root), cfg.Logging.Level, rotation)
	if err != nil {
		return logging.NopLogger()
	}
	return logger
}

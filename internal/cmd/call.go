package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/grove/internal/bridge"
	"github.com/Iron-Ham/grove/internal/config"
	"github.com/Iron-Ham/grove/internal/errors"
)

var callCmd = &cobra.Command{
	Use:   "call <method> [params]",
	Short: "Send one bridge request and print the result",
	Long: `Send a raw request to the workspace's bridge server and print the JSON
result. A server is started in the background when none is running.

Example:
  grove call session.list '{"includeInactive":true}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	var params json.RawMessage
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return errors.NewValidationError("params are not valid JSON").WithField("params").WithValue(args[1])
		}
		params = json.RawMessage(args[1])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	root, err := resolveRoot()
	if err != nil {
		return err
	}

	launcherOpts := []bridge.LauncherOption{bridge.WithClientVersion(Version)}
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		launcherOpts = append(launcherOpts, bridge.WithServeArgs("--config", cfgFile))
	}
	pool := bridge.NewPool(bridge.NewLauncher(cfg, launcherOpts...))
	defer pool.Close()

	ctx := cmd.Context()
	client, err := pool.Get(ctx, root)
	if err != nil {
		return err
	}

	var result json.RawMessage
	if err := client.Call(ctx, args[0], params, &result); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		buf.Reset()
		buf.Write(result)
	}
	fmt.Fprintln(cmd.OutOrStdout(), buf.String())
	return nil
}

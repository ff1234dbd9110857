package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolguard/internal/config"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting toolguard configuration and setup.`,
}

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE:  runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths",
	RunE:  runDebugPaths,
}

func init() {
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(struct {
		*config.Config
		Sources []string `json:"sources"`
	}{cfg, cfg.Sources}, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "toolguard paths:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Config:   %s\n", paths.Config)
	fmt.Fprintf(out, "  Data:     %s\n", paths.Data)
	fmt.Fprintf(out, "  State:    %s\n", paths.State)
	fmt.Fprintf(out, "  Storage:  %s\n", paths.StoragePath())
	fmt.Fprintf(out, "  Logs:     %s\n", paths.LogPath())
	return nil
}

// Package commands provides the CLI commands for toolguard.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolguard/internal/config"
	"github.com/opencode-ai/toolguard/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs  bool
	logLevel   string
	envFile    string
	configPath string
	workDir    string

	enforceLimits bool
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

var rootCmd = &cobra.Command{
	Use:   "toolguard",
	Short: "toolguard - gatekeeper for agent shell commands",
	Long: `toolguard decides whether a shell command proposed by a coding agent may run,
asks a human when policy says so, and runs approved commands in a sandbox.

Run 'toolguard check <command>' to see a verdict, 'toolguard run <command>'
to execute through the gate, or 'toolguard serve' to expose the HTTP API.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR), overrides the config")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from a .env file first")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file to use instead of the search path")
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Project directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&enforceLimits, "enforce-limits", false, "Apply rlimits to sandboxed commands (linux)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("toolguard %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(backendCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// loadConfig loads the explicit --config file or searches from the project
// directory, then initializes logging from it.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		var dir string
		dir, err = GetWorkDir(workDir)
		if err != nil {
			return nil, err
		}
		cfg, err = config.Load(dir)
	}
	if err != nil {
		return nil, err
	}
	initLogging(cfg)
	return cfg, nil
}

// initLogging prints logs only with --print-logs; otherwise they go to a
// file under the state directory.
func initLogging(cfg *config.Config) {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(level)
	if printLogs {
		lc.Pretty = true
	} else {
		lc.Output = io.Discard
		paths := config.GetPaths()
		if err := paths.EnsurePaths(); err == nil {
			lc.LogToFile = true
			lc.LogDir = paths.LogPath()
		}
	}
	logging.Init(lc)
}

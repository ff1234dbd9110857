package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolguard/internal/detector"
	"github.com/opencode-ai/toolguard/internal/gate"
)

var checkCmd = &cobra.Command{
	Use:   "check <command...>",
	Short: "Print the security verdict for a command",
	Long: `Evaluate a command against the dangerous-pattern table and the configured
policy without running it. The verdict is printed as JSON; the exit status is
2 when the command is forbidden.

Examples:
  toolguard check 'rm -rf /'
  toolguard check git push origin main`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	evaluator, stop, err := buildPolicy(cfg, nil)
	if err != nil {
		return err
	}
	defer stop()

	g := &gate.Gate{Detector: detector.Default(), Policy: evaluator}
	res := g.Check(strings.Join(args, " "))

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	if !res.Allowed {
		return &ExitError{Code: 2}
	}
	return nil
}

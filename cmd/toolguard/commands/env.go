package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolguard/internal/hardening"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the environment a sandboxed command would inherit",
	Long: `Print the current environment after sanitization: loader and interpreter
injection variables and credential-looking entries are removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env := hardening.SanitizeEnvironment(hardening.Environ(os.Environ()))
		for _, kv := range hardening.ToList(env) {
			fmt.Fprintln(cmd.OutOrStdout(), kv)
		}
		return nil
	},
}

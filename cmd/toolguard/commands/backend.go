package commands

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolguard/internal/sandbox"
)

// BackendReport is printed by the backend command.
type BackendReport struct {
	OS         string              `json:"os"`
	Detected   sandbox.BackendKind `json:"detected"`
	Configured sandbox.BackendKind `json:"configured,omitempty"`
	Available  bool                `json:"available"`
	Error      string              `json:"error,omitempty"`
	Reasons    map[string]string   `json:"reasons"`
}

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Show which sandbox backend would be used",
	Args:  cobra.NoArgs,
	RunE:  runBackend,
}

func runBackend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	report := BackendReport{
		OS:         runtime.GOOS,
		Detected:   sandbox.DetectBackend(),
		Configured: cfg.Sandbox.Backend,
		Available:  true,
		Reasons: map[string]string{
			"linux":   sandbox.LinuxSandboxReason(),
			"darwin":  sandbox.DarwinSandboxReason(),
			"windows": sandbox.WindowsSandboxReason(),
		},
	}
	if _, err := sandbox.NewBackend(cfg.Sandbox.Backend, cfg.Sandbox); err != nil {
		report.Available = false
		report.Error = err.Error()
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolguard/internal/event"
	"github.com/opencode-ai/toolguard/internal/gate"
	"github.com/opencode-ai/toolguard/internal/permission"
)

var (
	runSession     string
	runDir         string
	runAutoApprove bool
)

var runCmd = &cobra.Command{
	Use:   "run <command...>",
	Short: "Run a command through the gate",
	Long: `Check a command, ask for approval on the terminal when policy requires it,
and run it in the sandbox. Answer y to approve once, a to approve this and
similar commands for the session, n to reject.

Examples:
  toolguard run ls -la
  toolguard run --dir src 'go test ./...'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGate,
}

func init() {
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID (default: a new one)")
	runCmd.Flags().StringVar(&runDir, "dir", "", "Working directory of the command")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "Approve every permission request once without asking")
}

func runGate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	bus := event.NewBus()
	defer bus.Close()

	g, stop, err := buildGate(cfg, bus)
	if err != nil {
		return err
	}
	defer stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	asked := make(chan event.PermissionAskedData, 1)
	unsub := bus.Subscribe(event.PermissionAsked, func(e event.Event) {
		if data, ok := e.Data.(event.PermissionAskedData); ok {
			asked <- data
		}
	})
	defer unsub()

	session := runSession
	if session == "" {
		session = ulid.Make().String()
	}
	call := gate.Call{
		SessionID: session,
		CallID:    ulid.Make().String(),
		Command:   strings.Join(args, " "),
		WorkDir:   runDir,
	}

	type result struct {
		out gate.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := g.Execute(ctx, call)
		done <- result{out, err}
	}()

	stderr := cmd.ErrOrStderr()
	lines := readLines(cmd.InOrStdin())
	var pending *event.PermissionAskedData
	for {
		select {
		case req := <-asked:
			if runAutoApprove {
				g.Registry.Respond(req.ID, permission.ResponseOnce)
				continue
			}
			if lines == nil {
				g.Registry.Respond(req.ID, permission.ResponseReject)
				continue
			}
			pending = &req
			fmt.Fprintf(stderr, "Allow %q? [y] once, [a] always, [n] reject: ", req.Title)
		case line, ok := <-lines:
			if !ok {
				// stdin closed, nobody can answer
				lines = nil
				if pending != nil {
					g.Registry.Respond(pending.ID, permission.ResponseReject)
					pending = nil
				}
				continue
			}
			if pending == nil {
				continue
			}
			resp, valid := parseAnswer(line)
			if !valid {
				fmt.Fprint(stderr, "Please answer y, a or n: ")
				continue
			}
			g.Registry.Respond(pending.ID, resp)
			pending = nil
		case r := <-done:
			if pending != nil {
				fmt.Fprintln(stderr)
			}
			return report(cmd, r.out, r.err)
		}
	}
}

func parseAnswer(line string) (permission.Response, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "once":
		return permission.ResponseOnce, true
	case "a", "always":
		return permission.ResponseAlways, true
	case "n", "no", "reject":
		return permission.ResponseReject, true
	}
	return "", false
}

// report copies the command output and maps the outcome to an exit status:
// the command's own code when it ran, 2 when it was refused, 124 on timeout.
func report(cmd *cobra.Command, out gate.Outcome, err error) error {
	if err != nil {
		return err
	}
	if out.Exec != nil {
		io.WriteString(cmd.OutOrStdout(), out.Exec.Stdout)
		io.WriteString(cmd.ErrOrStderr(), out.Exec.Stderr)
		if out.Exec.Truncated {
			fmt.Fprintln(cmd.ErrOrStderr(), "toolguard: output truncated")
		}
	}

	switch out.Status {
	case gate.StatusExecuted:
		if out.Exec.ExitCode != 0 {
			return &ExitError{Code: out.Exec.ExitCode}
		}
		return nil
	case gate.StatusTimedOut:
		return &ExitError{Code: 124, Message: "toolguard: " + out.Reason}
	case gate.StatusCancelled:
		return &ExitError{Code: 130, Message: "toolguard: " + out.Reason}
	default:
		return &ExitError{Code: 2, Message: fmt.Sprintf("toolguard: %s: %s", out.Status, out.Reason)}
	}
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yeahnangua/claude-code-bridge/internal/cli/ui"
	"github.com/yeahnangua/claude-code-bridge/internal/core/exchange"
	"github.com/yeahnangua/claude-code-bridge/internal/rpc"
)

var askCmd = &cobra.Command{
	Use:   "ask [message...]",
	Short: "Send a message to the agent session for a directory and print its reply",
	Long: `Send a message to the agent session registered for a work directory and wait
for its reply. With no message arguments, or a single "-", the message is read
from stdin.

Exit codes: 0 on a complete reply, 1 on error, 2 on timeout.`,
	Example: `  askd ask "2+2?"
  git diff | askd ask --timeout 10m -
  askd ask --work-dir ~/src/app --output reply.md "Summarize the open TODOs"`,
	RunE: runAsk,
}

var (
	askWorkDir string
	askTimeout time.Duration
	askQuiet   bool
	askOutput  string
)

func init() {
	askCmd.Flags().StringVarP(&askWorkDir, "work-dir", "C", "", "Project directory of the target session (default current directory)")
	askCmd.Flags().DurationVarP(&askTimeout, "timeout", "t", 0, "How long to wait for the reply (default from config)")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "Do not print the reply")
	askCmd.Flags().StringVarP(&askOutput, "output", "o", "", "Have the daemon also write the reply to this file")
}

// readMessage joins args, or reads stdin when there are none.
func readMessage(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read message from stdin: %w", err)
	}
	return string(data), nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	message, err := readMessage(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("message is empty")
	}

	workDir := askWorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	timeout := askTimeout
	if timeout <= 0 {
		timeout = cfg.Request.DefaultTimeout
	}

	resp, err := newClient(cfg).Ask(cmd.Context(), rpc.AskRequest{
		WorkDir:    workDir,
		Message:    message,
		Timeout:    timeout,
		Quiet:      askQuiet,
		OutputPath: askOutput,
	})
	if err != nil {
		return describeDaemonError(err)
	}

	if ui.GlobalFormatter.IsJSON() {
		if err := ui.GlobalFormatter.Output(resp); err != nil {
			return err
		}
	} else if !askQuiet && resp.Reply != "" {
		if err := ui.GlobalFormatter.Output(strings.TrimRight(resp.Reply, "\n") + "\n"); err != nil {
			return err
		}
	}

	switch resp.ExitCode {
	case exchange.ExitOK:
		return nil
	case exchange.ExitTimeout:
		return &ExitCodeError{Code: exchange.ExitTimeout, Err: fmt.Errorf("no complete reply within %s", timeout)}
	default:
		if !ui.GlobalFormatter.IsJSON() && askQuiet && resp.Reply != "" {
			return &ExitCodeError{Code: resp.ExitCode, Err: errors.New(resp.Reply)}
		}
		return &ExitCodeError{Code: resp.ExitCode}
	}
}

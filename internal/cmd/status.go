package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	iface "github.com/kamui-project/kamui-session/internal/service/interface"
)

// StatusCommand represents the status command
type StatusCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewStatusCommand creates a new status command
func NewStatusCommand(root *RootCommand) *StatusCommand {
	s := &StatusCommand{
		root: root,
	}

	s.cmd = &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Long: `Show the state of your stored Kamui credentials.

By default the status is computed locally from the stored token. With
--validate the token is also checked with the Kamui Platform.

Examples:
  kamui status
  kamui status --validate
  kamui status -o json`,
		RunE: s.Run,
	}

	s.cmd.Flags().Bool("validate", false, "Confirm the stored token with the Kamui Platform")

	return s
}

// Command returns the underlying cobra command
func (s *StatusCommand) Command() *cobra.Command {
	return s.cmd
}

// Run executes the status command
func (s *StatusCommand) Run(cmd *cobra.Command, args []string) error {
	validate, _ := cmd.Flags().GetBool("validate")
	status, err := s.root.Container().AuthService().Status(cmd.Context(), validate)
	if err != nil {
		return err
	}

	return render(cmd, status, func(w io.Writer) error {
		return writeStatus(w, status)
	})
}

func writeStatus(w io.Writer, status *iface.AuthStatus) error {
	rows := [][]string{
		{"Logged in:", yesNo(status.LoggedIn)},
		{"Validated:", yesNo(status.Validated)},
	}
	if status.Subject != "" {
		rows = append(rows, []string{"Account:", status.Subject})
	}
	if !status.ExpiresAt.IsZero() {
		rows = append(rows, []string{"Expires:", status.ExpiresAt.Local().Format(timeLayout)})
	}
	if err := table(w, []string{"Status:", status.Status}, rows); err != nil {
		return err
	}

	if !status.LoggedIn {
		fmt.Fprintln(w, "\nRun 'kamui login' to authenticate.")
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

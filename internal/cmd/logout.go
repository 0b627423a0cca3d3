package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// LogoutCommand represents the logout command
type LogoutCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewLogoutCommand creates a new logout command
func NewLogoutCommand(root *RootCommand) *LogoutCommand {
	l := &LogoutCommand{
		root: root,
	}

	l.cmd = &cobra.Command{
		Use:   "logout",
		Short: "Log out from Kamui Platform",
		Long: `Revoke the stored tokens and remove them from this machine.

Local credentials are removed even when the platform cannot be reached.
The command never prompts, so it is safe to call from scripts.

Example:
  kamui logout`,
		Args: cobra.NoArgs,
		RunE: l.Run,
	}

	return l
}

// Command returns the underlying cobra command
func (l *LogoutCommand) Command() *cobra.Command {
	return l.cmd
}

// Run executes the logout command
func (l *LogoutCommand) Run(cmd *cobra.Command, args []string) error {
	authService := l.root.Container().AuthService()
	ctx := cmd.Context()

	// Read the account before its record is gone
	account := ""
	if status, err := authService.Status(ctx, false); err == nil {
		account = status.Subject
	}

	if err := authService.Logout(ctx); err != nil {
		return err
	}

	if account != "" {
		fmt.Printf("✓ Successfully logged out %s from Kamui Platform!\n", account)
		return nil
	}
	fmt.Println("✓ Successfully logged out from Kamui Platform!")
	return nil
}

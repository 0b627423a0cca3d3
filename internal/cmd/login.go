package cmd

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// LoginCommand represents the login command
type LoginCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewLoginCommand creates a new login command
func NewLoginCommand(root *RootCommand) *LoginCommand {
	l := &LoginCommand{
		root: root,
	}

	l.cmd = &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Kamui Platform",
		Long: `Authenticate with the Kamui Platform using your GitHub account.

This command will open a browser window for you to authenticate with GitHub.
After successful authentication, your credentials will be stored locally.

If you are already logged in, you will be asked to confirm before the stored
account is replaced.

Example:
  kamui login
  kamui login --yes`,
		RunE: l.Run,
	}

	l.cmd.Flags().BoolP("yes", "y", false, "Replace the current account without asking")

	return l
}

// Command returns the underlying cobra command
func (l *LoginCommand) Command() *cobra.Command {
	return l.cmd
}

// Run executes the login command
func (l *LoginCommand) Run(cmd *cobra.Command, args []string) error {
	// Get auth service from DI container
	authService := l.root.Container().AuthService()
	ctx := cmd.Context()

	skipConfirm, _ := cmd.Flags().GetBool("yes")
	if authService.IsLoggedIn(ctx) && !skipConfirm {
		var confirm bool
		if err := survey.AskOne(&survey.Confirm{
			Message: "You are already logged in. Log in with a different account?",
			Default: false,
		}, &confirm); err != nil {
			return err
		}

		if !confirm {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	// Perform login
	if err := authService.Login(ctx); err != nil {
		return err
	}

	fmt.Println("✓ Successfully logged in to Kamui Platform!")
	return nil
}

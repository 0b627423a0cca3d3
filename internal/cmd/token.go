package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// TokenCommand represents the token command
type TokenCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewTokenCommand creates a new token command
func NewTokenCommand(root *RootCommand) *TokenCommand {
	t := &TokenCommand{
		root: root,
	}

	t.cmd = &cobra.Command{
		Use:   "token",
		Short: "Print an access token",
		Long: `Print a valid access token for the Kamui API.

The stored token is refreshed first if it has expired. Useful for scripts:

Example:
  curl -H "Authorization: Bearer $(kamui token)" https://api.kamui-platform.com/api/projects`,
		Args: cobra.NoArgs,
		RunE: t.Run,
	}

	return t
}

// Command returns the underlying cobra command
func (t *TokenCommand) Command() *cobra.Command {
	return t.cmd
}

// Run executes the token command
func (t *TokenCommand) Run(cmd *cobra.Command, args []string) error {
	authService := t.root.Container().AuthService()

	token, err := authService.GetAccessToken(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}

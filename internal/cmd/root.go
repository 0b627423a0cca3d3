// Package cmd provides the command-line interface for the Kamui CLI.
// It contains all cobra commands and their implementations.
package cmd

import (
	"context"
	"fmt"
	"io"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/kamui-project/kamui-session/internal/di"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

// RootCommand represents the root CLI command
type RootCommand struct {
	container *di.Container
	cmd       *cobra.Command

	// Subcommands
	loginCmd    *LoginCommand
	logoutCmd   *LogoutCommand
	statusCmd   *StatusCommand
	tokenCmd    *TokenCommand
	projectsCmd *ProjectsCommand
}

// NewRootCommand creates a new root command
func NewRootCommand() *RootCommand {
	r := &RootCommand{}

	r.cmd = &cobra.Command{
		Use:   "kamui",
		Short: "Kamui CLI - Command line interface for Kamui Platform",
		Long: `Kamui CLI is a command-line tool for interacting with the Kamui Platform.

Kamui Platform is a PaaS (Platform as a Service) that allows you to deploy
and manage applications, databases, and cron jobs with ease.

To get started, run:
  kamui login    - Authenticate with your Kamui account
  kamui status   - Check your stored credentials
  kamui projects list - View your projects`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return r.initialize(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if err := r.dumpMetrics(cmd); err != nil {
				return err
			}
			if r.container == nil {
				return nil
			}
			return r.container.Close(cmd.Context())
		},
	}

	// Global flags
	r.cmd.PersistentFlags().StringP("output", "o", "text", "Output format (text, json)")
	r.cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	r.cmd.PersistentFlags().Bool("metrics", false, "Print session metrics to stderr on exit")

	// Initialize subcommands (will be wired after container init)
	r.loginCmd = NewLoginCommand(r)
	r.logoutCmd = NewLogoutCommand(r)
	r.statusCmd = NewStatusCommand(r)
	r.tokenCmd = NewTokenCommand(r)
	r.projectsCmd = NewProjectsCommand(r)

	// Add subcommands
	r.cmd.AddCommand(r.loginCmd.Command())
	r.cmd.AddCommand(r.logoutCmd.Command())
	r.cmd.AddCommand(r.statusCmd.Command())
	r.cmd.AddCommand(r.tokenCmd.Command())
	r.cmd.AddCommand(r.projectsCmd.Command())

	return r
}

// initialize sets up the DI container
func (r *RootCommand) initialize(cmd *cobra.Command) error {
	// Skip if container is already set (e.g., for testing)
	if r.container != nil {
		return nil
	}

	verbose, _ := cmd.Flags().GetBool("verbose")

	var err error
	r.container, err = di.NewContainer(cmd.Context(), di.Options{
		Verbose:   verbose,
		LogOutput: cmd.ErrOrStderr(),
		Version:   Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	return nil
}

// dumpMetrics writes the session metrics when --metrics is set
func (r *RootCommand) dumpMetrics(cmd *cobra.Command) error {
	enabled, _ := cmd.Flags().GetBool("metrics")
	if !enabled || r.container == nil || r.container.MetricsRegistry() == nil {
		return nil
	}

	families, err := r.container.MetricsRegistry().Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	return writeMetrics(cmd.ErrOrStderr(), families)
}

// writeMetrics encodes families in the Prometheus text exposition format
func writeMetrics(w io.Writer, families []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	return nil
}

// Execute runs the root command
func (r *RootCommand) Execute() error {
	return r.cmd.Execute()
}

// Command returns the underlying cobra command
func (r *RootCommand) Command() *cobra.Command {
	return r.cmd
}

// Container returns the DI container
func (r *RootCommand) Container() *di.Container {
	return r.container
}

// SetContainer sets a custom container (for testing)
func (r *RootCommand) SetContainer(c *di.Container) {
	r.container = c
}

// Execute is the main entry point for the CLI
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	return root.cmd.ExecuteContext(ctx)
}

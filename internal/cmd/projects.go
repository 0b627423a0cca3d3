package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05"

// ProjectsCommand groups the read-only project commands. They exist mainly
// to exercise an authorized API call end to end.
type ProjectsCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewProjectsCommand creates the projects command group
func NewProjectsCommand(root *RootCommand) *ProjectsCommand {
	p := &ProjectsCommand{
		root: root,
	}

	p.cmd = &cobra.Command{
		Use:   "projects",
		Short: "List and inspect Kamui projects",
	}

	p.cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all projects",
		Long: `List the projects of the logged in account.

Examples:
  kamui projects list
  kamui projects list -o json`,
		Args: cobra.NoArgs,
		RunE: p.runList,
	})
	p.cmd.AddCommand(&cobra.Command{
		Use:   "get <project-id>",
		Short: "Show one project",
		Long: `Show a single project of the logged in account.

Example:
  kamui projects get 5f809f2f-0787-40ca-9a43-a3a59edb5400`,
		Args: cobra.ExactArgs(1),
		RunE: p.runGet,
	})

	return p
}

// Command returns the underlying cobra command
func (p *ProjectsCommand) Command() *cobra.Command {
	return p.cmd
}

func (p *ProjectsCommand) runList(cmd *cobra.Command, args []string) error {
	projects, err := p.root.Container().ProjectService().ListProjects(cmd.Context())
	if err != nil {
		return err
	}

	return render(cmd, projects, func(w io.Writer) error {
		if len(projects) == 0 {
			fmt.Fprintln(w, "No projects found.")
			fmt.Fprintln(w, "\nCreate a new project in the Kamui Platform dashboard.")
			return nil
		}

		rows := make([][]string, 0, len(projects))
		for _, pr := range projects {
			rows = append(rows, []string{
				pr.ID, pr.Name, pr.PlanType, pr.Region,
				strconv.Itoa(len(pr.Apps)), strconv.Itoa(len(pr.Databases)),
			})
		}
		return table(w, []string{"ID", "NAME", "PLAN", "REGION", "APPS", "DATABASES"}, rows)
	})
}

func (p *ProjectsCommand) runGet(cmd *cobra.Command, args []string) error {
	project, err := p.root.Container().ProjectService().GetProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	return render(cmd, project, func(w io.Writer) error {
		rows := [][]string{
			{"ID:", project.ID},
			{"Plan:", project.PlanType},
			{"Region:", project.Region},
		}
		if project.Description != "" {
			rows = append(rows, []string{"Description:", project.Description})
		}
		rows = append(rows,
			[]string{"Apps:", strconv.Itoa(len(project.Apps))},
			[]string{"Databases:", strconv.Itoa(len(project.Databases))},
		)
		if !project.CreatedAt.IsZero() {
			rows = append(rows, []string{"Created:", project.CreatedAt.Local().Format(timeLayout)})
		}
		return table(w, []string{"Project:", project.Name}, rows)
	})
}

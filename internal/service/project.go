package service

import (
	"context"
	"fmt"

	"github.com/kamui-project/kamui-session/internal/api"
	iface "github.com/kamui-project/kamui-session/internal/service/interface"
)

// projectService implements iface.ProjectService
type projectService struct {
	client *api.Client
}

// NewProjectService creates a new project service. The client authorizes
// its own requests through the session coordinator.
func NewProjectService(client *api.Client) iface.ProjectService {
	return &projectService{
		client: client,
	}
}

// ListProjects returns all projects for the authenticated user
func (s *projectService) ListProjects(ctx context.Context) ([]iface.Project, error) {
	var projects []iface.Project
	if err := s.client.Get(ctx, "/api/projects", &projects); err != nil {
		return nil, fmt.Errorf("failed to fetch projects: %w", explain(err))
	}

	return projects, nil
}

// GetProject returns a project by ID
func (s *projectService) GetProject(ctx context.Context, id string) (*iface.Project, error) {
	var project iface.Project
	if err := s.client.Get(ctx, fmt.Sprintf("/api/projects/%s", id), &project); err != nil {
		return nil, fmt.Errorf("failed to fetch project: %w", explain(err))
	}

	return &project, nil
}

package iface

import (
	"context"
	"time"
)

// Project is a Kamui project as returned by the projects listing
type Project struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	PlanType    string     `json:"plan_type"`
	Region      string     `json:"region"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Apps        []Resource `json:"apps,omitempty"`
	Databases   []Resource `json:"database,omitempty"`
}

// Resource is an app or database that belongs to a project.
// Only the identifying fields are decoded.
type Resource struct {
	ID string `json:"id"`
}

// ProjectService defines the interface for project operations.
// Every call is authorized with the current session.
type ProjectService interface {
	// ListProjects returns all projects for the authenticated user
	ListProjects(ctx context.Context) ([]Project, error)

	// GetProject returns a project by ID
	GetProject(ctx context.Context, id string) (*Project, error)
}

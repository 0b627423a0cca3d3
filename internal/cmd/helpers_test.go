package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/kamui-project/kamui-session/internal/di"
	iface "github.com/kamui-project/kamui-session/internal/service/interface"
)

// MockAuthService is a mock implementation of iface.AuthService
type MockAuthService struct {
	LoginFunc          func(ctx context.Context) error
	LogoutFunc         func(ctx context.Context) error
	IsLoggedInFunc     func(ctx context.Context) bool
	StatusFunc         func(ctx context.Context, validate bool) (*iface.AuthStatus, error)
	GetAccessTokenFunc func(ctx context.Context) (string, error)
}

func (m *MockAuthService) Login(ctx context.Context) error {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx)
	}
	return nil
}

func (m *MockAuthService) Logout(ctx context.Context) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx)
	}
	return nil
}

func (m *MockAuthService) IsLoggedIn(ctx context.Context) bool {
	if m.IsLoggedInFunc != nil {
		return m.IsLoggedInFunc(ctx)
	}
	return true
}

func (m *MockAuthService) Status(ctx context.Context, validate bool) (*iface.AuthStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, validate)
	}
	return &iface.AuthStatus{Status: "priorCredentialsSaved", LoggedIn: true}, nil
}

func (m *MockAuthService) GetAccessToken(ctx context.Context) (string, error) {
	if m.GetAccessTokenFunc != nil {
		return m.GetAccessTokenFunc(ctx)
	}
	return "test-token", nil
}

// MockProjectService is a mock implementation of iface.ProjectService
type MockProjectService struct {
	ListProjectsFunc func(ctx context.Context) ([]iface.Project, error)
	GetProjectFunc   func(ctx context.Context, id string) (*iface.Project, error)
}

func (m *MockProjectService) ListProjects(ctx context.Context) ([]iface.Project, error) {
	if m.ListProjectsFunc != nil {
		return m.ListProjectsFunc(ctx)
	}
	return nil, nil
}

func (m *MockProjectService) GetProject(ctx context.Context, id string) (*iface.Project, error) {
	if m.GetProjectFunc != nil {
		return m.GetProjectFunc(ctx, id)
	}
	return nil, nil
}

// execute runs the CLI with args against the given services and returns
// what the command wrote to stdout
func execute(t *testing.T, auth iface.AuthService, projects iface.ProjectService, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand()
	root.SetContainer(di.NewContainerWithServices(auth, projects))
	root.Command().SetArgs(args)

	// Capture stdout
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	execErr := root.Command().Execute()

	// Restore stdout and read output
	w.Close()
	os.Stdout = oldStdout
	return <-done, execErr
}

package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	iface "github.com/kamui-project/kamui-session/internal/service/interface"
	"github.com/kamui-project/kamui-session/internal/session/metrics"
)

func TestLoginCommand_Run(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		loggedIn   bool
		loginErr   error
		wantLogin  bool
		wantOutput string
		wantErr    bool
	}{
		{
			name:       "logs in when signed out",
			args:       []string{"login"},
			wantLogin:  true,
			wantOutput: "Successfully logged in",
		},
		{
			name:       "replaces account with --yes",
			args:       []string{"login", "--yes"},
			loggedIn:   true,
			wantLogin:  true,
			wantOutput: "Successfully logged in",
		},
		{
			name:      "returns login error",
			args:      []string{"login"},
			loginErr:  errors.New("authentication failed: access_denied"),
			wantLogin: true,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			mockAuth := &MockAuthService{
				IsLoggedInFunc: func(ctx context.Context) bool { return tt.loggedIn },
				LoginFunc: func(ctx context.Context) error {
					called = true
					return tt.loginErr
				},
			}

			output, err := execute(t, mockAuth, &MockProjectService{}, tt.args...)

			if (err != nil) != tt.wantErr {
				t.Errorf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if called != tt.wantLogin {
				t.Errorf("Login called = %v, want %v", called, tt.wantLogin)
			}
			if !strings.Contains(output, tt.wantOutput) {
				t.Errorf("Output should contain %q, got: %s", tt.wantOutput, output)
			}
		})
	}
}

func TestLogoutCommand_Run(t *testing.T) {
	tests := []struct {
		name       string
		subject    string
		logoutErr  error
		wantOutput string
		wantErr    bool
	}{
		{
			name:       "logs out",
			wantOutput: "Successfully logged out",
		},
		{
			name:       "names the account",
			subject:    "user-1",
			wantOutput: "Successfully logged out user-1",
		},
		{
			name:      "returns error when not logged in",
			logoutErr: errors.New("not logged in"),
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &MockAuthService{
				LogoutFunc: func(ctx context.Context) error { return tt.logoutErr },
				StatusFunc: func(ctx context.Context, validate bool) (*iface.AuthStatus, error) {
					if validate {
						t.Error("logout must not validate online")
					}
					return &iface.AuthStatus{Status: "priorCredentialsSaved", LoggedIn: true, Subject: tt.subject}, nil
				},
			}

			output, err := execute(t, mockAuth, &MockProjectService{}, "logout")

			if (err != nil) != tt.wantErr {
				t.Errorf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(output, tt.wantOutput) {
				t.Errorf("Output should contain %q, got: %s", tt.wantOutput, output)
			}
		})
	}
}

func TestStatusCommand_Run(t *testing.T) {
	expiresAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		args          []string
		status        *iface.AuthStatus
		wantValidate  bool
		wantOutput    []string
		wantNotOutput []string
	}{
		{
			name: "shows saved credentials",
			args: []string{"status"},
			status: &iface.AuthStatus{
				Status:    "priorCredentialsSaved",
				LoggedIn:  true,
				Subject:   "user-1",
				ExpiresAt: expiresAt,
			},
			wantOutput:    []string{"priorCredentialsSaved", "Logged in:  yes", "Validated:  no", "user-1"},
			wantNotOutput: []string{"kamui login"},
		},
		{
			name:         "validates online",
			args:         []string{"status", "--validate"},
			status:       &iface.AuthStatus{Status: "credentialsValidated", LoggedIn: true, Validated: true},
			wantValidate: true,
			wantOutput:   []string{"credentialsValidated", "Validated:  yes"},
		},
		{
			name:       "suggests login when signed out",
			args:       []string{"status"},
			status:     &iface.AuthStatus{Status: "signedOut"},
			wantOutput: []string{"signedOut", "Logged in:  no", "kamui login"},
		},
		{
			name:       "outputs JSON format",
			args:       []string{"status", "-o", "json"},
			status:     &iface.AuthStatus{Status: "expired"},
			wantOutput: []string{`"status": "expired"`, `"logged_in": false`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &MockAuthService{
				StatusFunc: func(ctx context.Context, validate bool) (*iface.AuthStatus, error) {
					if validate != tt.wantValidate {
						t.Errorf("Status called with validate = %v, want %v", validate, tt.wantValidate)
					}
					return tt.status, nil
				},
			}

			output, err := execute(t, mockAuth, &MockProjectService{}, tt.args...)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			for _, want := range tt.wantOutput {
				if !strings.Contains(output, want) {
					t.Errorf("Output should contain %q, got: %s", want, output)
				}
			}
			for _, notWant := range tt.wantNotOutput {
				if strings.Contains(output, notWant) {
					t.Errorf("Output should not contain %q, got: %s", notWant, output)
				}
			}
		})
	}
}

func TestTokenCommand_Run(t *testing.T) {
	mockAuth := &MockAuthService{
		GetAccessTokenFunc: func(ctx context.Context) (string, error) {
			return "access-123", nil
		},
	}

	output, err := execute(t, mockAuth, &MockProjectService{}, "token")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(output) != "access-123" {
		t.Errorf("Output = %q, want %q", output, "access-123")
	}

	mockAuth.GetAccessTokenFunc = func(ctx context.Context) (string, error) {
		return "", errors.New("not logged in. Please run 'kamui login' first")
	}
	if _, err := execute(t, mockAuth, &MockProjectService{}, "token"); err == nil {
		t.Error("expected error when not logged in")
	}
}

func TestMetricsFlagWithoutRegistry(t *testing.T) {
	if _, err := execute(t, &MockAuthService{}, &MockProjectService{}, "token", "--metrics"); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestWriteMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.IncrementIdentityChanges()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var buf bytes.Buffer
	if err := writeMetrics(&buf, families); err != nil {
		t.Fatalf("writeMetrics() error = %v", err)
	}
	if !strings.Contains(buf.String(), "kamui_session_identity_changes_total 1") {
		t.Errorf("unexpected metrics output: %s", buf.String())
	}
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kamui-project/kamui-session/internal/api"
	iface "github.com/kamui-project/kamui-session/internal/service/interface"
	"github.com/kamui-project/kamui-session/internal/session"
)

// authService implements iface.AuthService on top of the session coordinator
type authService struct {
	coordinator *session.Coordinator
	presenter   session.Presenter
}

// NewAuthService creates a new authentication service. presenter may be nil
// when no terminal is attached, in which case Login fails.
func NewAuthService(coordinator *session.Coordinator, presenter session.Presenter) iface.AuthService {
	return &authService{
		coordinator: coordinator,
		presenter:   presenter,
	}
}

// Login performs OAuth authentication and saves credentials
func (s *authService) Login(ctx context.Context) error {
	if err := s.coordinator.PerformInteractiveAuthentication(ctx, s.presenter); err != nil {
		if errors.Is(err, session.ErrPresentationUnavailable) {
			return fmt.Errorf("login requires an interactive terminal: %w", err)
		}
		return fmt.Errorf("authentication failed: %w", err)
	}
	return nil
}

// Logout signs out and clears stored credentials
func (s *authService) Logout(ctx context.Context) error {
	if !s.IsLoggedIn(ctx) {
		return fmt.Errorf("not logged in")
	}

	if err := s.coordinator.SignOut(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// IsLoggedIn checks if any credentials are stored
// Note: This only checks if tokens exist, not if they're valid
func (s *authService) IsLoggedIn(ctx context.Context) bool {
	status, err := s.coordinator.CurrentStatus(ctx)
	return err == nil && status != session.SignedOut
}

// Status reports the stored credentials. With validate set, usable
// credentials are confirmed with the identity provider.
func (s *authService) Status(ctx context.Context, validate bool) (*iface.AuthStatus, error) {
	status, err := s.coordinator.CurrentStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	if validate && status.Usable() {
		status, err = s.coordinator.UpdateAuthenticationStatus(ctx, session.RequireOnlineValidation)
		if err != nil {
			return nil, fmt.Errorf("failed to validate credentials: %w", err)
		}
	}

	result := &iface.AuthStatus{
		Status:    status.String(),
		LoggedIn:  status.Usable() || status == session.ExpiredRefreshAvailable,
		Validated: status == session.CredentialsValidated,
	}

	if rec, err := s.coordinator.CurrentRecord(ctx); err == nil && rec != nil {
		result.Subject = rec.Subject
		result.ExpiresAt = rec.ExpiresAt
	}
	return result, nil
}

// GetAccessToken returns the current access token, refreshing if needed
func (s *authService) GetAccessToken(ctx context.Context) (string, error) {
	tok, err := s.coordinator.TokenSource(ctx).Token()
	if err != nil {
		return "", explain(err)
	}
	return tok.AccessToken, nil
}

// explain turns session and API errors into messages that tell the user
// what to do next
func explain(err error) error {
	if blocked, ok := session.IsBlocked(err); ok {
		if blocked.Status == session.SignedOut {
			return fmt.Errorf("not logged in. Please run 'kamui login' first")
		}
		return fmt.Errorf("session expired. Please run 'kamui login' again: %w", err)
	}

	if errors.Is(err, session.ErrPresentationUnavailable) {
		return fmt.Errorf("not logged in. Please run 'kamui login' first: %w", err)
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.IsUnauthorized() {
		return fmt.Errorf("%w. Please run 'kamui login' again", err)
	}
	return err
}

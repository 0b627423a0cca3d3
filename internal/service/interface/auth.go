// Package iface defines service interfaces for the Kamui CLI.
// These interfaces enable dependency injection and mocking for tests.
package iface

import (
	"context"
	"time"
)

// AuthStatus describes the stored credentials
type AuthStatus struct {
	// Status is the session state name, e.g. "priorCredentialsSaved"
	Status string `json:"status"`

	// LoggedIn is true when API requests can be authorized without user interaction
	LoggedIn bool `json:"logged_in"`

	// Validated is true when the identity provider confirmed the token in this process
	Validated bool `json:"validated"`

	Subject   string    `json:"subject,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// AuthService defines the interface for authentication operations
type AuthService interface {
	// Login performs interactive OAuth authentication and saves credentials.
	// Logging in while already logged in replaces the stored account.
	Login(ctx context.Context) error

	// Logout signs out from the identity provider and clears stored credentials
	Logout(ctx context.Context) error

	// IsLoggedIn reports whether any credentials are stored, valid or not
	IsLoggedIn(ctx context.Context) bool

	// Status reports the stored credentials, optionally confirming them online
	Status(ctx context.Context, validate bool) (*AuthStatus, error)

	// GetAccessToken returns a usable access token, refreshing if needed
	GetAccessToken(ctx context.Context) (string, error)
}

// Package token defines the token record persisted by credential stores
// and consumed by the session coordinator.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ErrInvalidRecord is returned by credential stores when a stored record
// exists but cannot be decoded
var ErrInvalidRecord = errors.New("invalid token record")

// ExpirySkew is subtracted from a token's expiry when checking validity,
// so a token about to expire is treated as already expired
const ExpirySkew = time.Minute

// Record is a single set of OAuth tokens for one authenticated principal
type Record struct {
	// ID identifies the record inside a credential store
	ID string `json:"id"`

	// AccessToken is the bearer credential for API calls
	AccessToken string `json:"access_token"`

	// TokenType is the OAuth token type, usually "Bearer"
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain a new access token without user interaction
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the raw OIDC ID token, if the provider issued one
	IDToken string `json:"id_token,omitempty"`

	// ExpiresAt is the expiration time of the access token
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Subject is the stable identifier of the authenticated principal
	Subject string `json:"subject,omitempty"`

	// Scope is the space separated list of granted scopes
	Scope string `json:"scope,omitempty"`

	// IssuedAt is when the record was created
	IssuedAt time.Time `json:"issued_at"`
}

// New creates a record with a fresh identifier
func New(accessToken, refreshToken string, expiresAt time.Time) *Record {
	return &Record{
		ID:           uuid.NewString(),
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		IssuedAt:     time.Now(),
	}
}

// FromOAuth2 converts an oauth2 token into a new record.
// The id_token and scope extras are carried over when present.
func FromOAuth2(tok *oauth2.Token) *Record {
	rec := New(tok.AccessToken, tok.RefreshToken, tok.Expiry)
	if tok.TokenType != "" {
		rec.TokenType = tok.TokenType
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		rec.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		rec.Scope = scope
	}
	return rec
}

// AccessTokenValid reports whether the access token has not expired at now.
// This is a clock check only; the server may still reject the token.
func (r *Record) AccessTokenValid(now time.Time) bool {
	if r == nil || r.AccessToken == "" {
		return false
	}
	if r.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(ExpirySkew).Before(r.ExpiresAt)
}

// RefreshTokenPresent reports whether a non-empty refresh token accompanies the record
func (r *Record) RefreshTokenPresent() bool {
	return r != nil && strings.TrimSpace(r.RefreshToken) != ""
}

// OAuth2 returns the record as an oauth2 token
func (r *Record) OAuth2() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
		Expiry:       r.ExpiresAt,
	}
	if r.IDToken != "" {
		tok = tok.WithExtra(map[string]interface{}{"id_token": r.IDToken})
	}
	return tok
}

// Clone returns a copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kamui-project/kamui-session/internal/token"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		rec       *token.Record
		validated bool
		want      Status
	}{
		{
			name: "no record",
			rec:  nil,
			want: SignedOut,
		},
		{
			name: "valid unvalidated",
			rec:  token.New("access", "refresh", now.Add(time.Hour)),
			want: PriorCredentialsSaved,
		},
		{
			name:      "valid and validated",
			rec:       token.New("access", "refresh", now.Add(time.Hour)),
			validated: true,
			want:      CredentialsValidated,
		},
		{
			name: "no expiry counts as valid",
			rec:  token.New("access", "", time.Time{}),
			want: PriorCredentialsSaved,
		},
		{
			name: "expired with refresh token",
			rec:  token.New("access", "refresh", now.Add(-time.Hour)),
			want: ExpiredRefreshAvailable,
		},
		{
			name:      "expired ignores validated flag",
			rec:       token.New("access", "refresh", now.Add(-time.Hour)),
			validated: true,
			want:      ExpiredRefreshAvailable,
		},
		{
			name: "expiring within skew",
			rec:  token.New("access", "refresh", now.Add(30*time.Second)),
			want: ExpiredRefreshAvailable,
		},
		{
			name: "expired without refresh token",
			rec:  token.New("access", "", now.Add(-time.Hour)),
			want: Expired,
		},
		{
			name: "blank refresh token",
			rec:  token.New("access", "  ", now.Add(-time.Hour)),
			want: Expired,
		},
		{
			name: "missing access token",
			rec:  token.New("", "refresh", now.Add(time.Hour)),
			want: ExpiredRefreshAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.rec, tt.validated, now))
		})
	}
}

func TestStatusUsable(t *testing.T) {
	usable := map[Status]bool{
		Unknown:                 false,
		SignedOut:               false,
		CredentialsInvalid:      false,
		Expired:                 false,
		ExpiredRefreshAvailable: false,
		PriorCredentialsSaved:   true,
		CredentialsValidated:    true,
	}
	for status, want := range usable {
		assert.Equal(t, want, status.Usable(), status.String())
	}
}

func TestOptionsString(t *testing.T) {
	assert.Equal(t, "none", Options(0).String())
	assert.Equal(t, "refreshIfNeeded", RefreshIfNeeded.String())
	assert.Equal(t, "refreshIfNeeded|reauthenticateIfNeeded|requireOnlineValidation",
		(RefreshIfNeeded | ReauthenticateIfNeeded | RequireOnlineValidation).String())
	assert.True(t, (RefreshIfNeeded | RequireOnlineValidation).Has(RequireOnlineValidation))
	assert.False(t, RefreshIfNeeded.Has(ReauthenticateIfNeeded))
}

func TestBlockedError(t *testing.T) {
	cause := errors.New("invalid_grant")
	var err error = &BlockedError{Requiring: ReauthenticateIfNeeded, Status: ExpiredRefreshAvailable, Cause: cause}

	blocked, ok := IsBlocked(err)
	assert.True(t, ok)
	assert.Equal(t, ReauthenticateIfNeeded, blocked.Requiring)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "expiredRefreshAvailable")

	_, ok = IsBlocked(errors.New("other"))
	assert.False(t, ok)
}

func TestImplausible(t *testing.T) {
	err := implausible("status %s", Unknown)
	assert.ErrorIs(t, err, ErrImplausibleState)
	assert.Contains(t, err.Error(), "status unknown")
}

package session

import (
	"strings"
	"time"

	"github.com/kamui-project/kamui-session/internal/token"
)

// Status is the derived authentication state. It is recomputed on demand
// from the credential store and never persisted.
type Status int

const (
	// Unknown is never produced by a working coordinator
	Unknown Status = iota
	SignedOut
	CredentialsInvalid
	Expired
	ExpiredRefreshAvailable
	PriorCredentialsSaved
	CredentialsValidated
)

var statusNames = map[Status]string{
	Unknown:                 "unknown",
	SignedOut:               "signedOut",
	CredentialsInvalid:      "credentialsInvalid",
	Expired:                 "expired",
	ExpiredRefreshAvailable: "expiredRefreshAvailable",
	PriorCredentialsSaved:   "priorCredentialsSaved",
	CredentialsValidated:    "credentialsValidated",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Usable reports whether requests may be authorized in this state
func (s Status) Usable() bool {
	return s == PriorCredentialsSaved || s == CredentialsValidated
}

// Options is a set of permissions gating the remedial actions a status
// update may take without the caller's knowledge
type Options uint8

const (
	RefreshIfNeeded Options = 1 << iota
	ReauthenticateIfNeeded
	RequireOnlineValidation
)

// Has reports whether every flag in o is set
func (opts Options) Has(o Options) bool {
	return opts&o == o
}

func (opts Options) String() string {
	var parts []string
	if opts.Has(RefreshIfNeeded) {
		parts = append(parts, "refreshIfNeeded")
	}
	if opts.Has(ReauthenticateIfNeeded) {
		parts = append(parts, "reauthenticateIfNeeded")
	}
	if opts.Has(RequireOnlineValidation) {
		parts = append(parts, "requireOnlineValidation")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// DeriveStatus classifies a stored record. It has no side effects.
// validated is the process-local "introspected since restoration" flag.
func DeriveStatus(rec *token.Record, validated bool, now time.Time) Status {
	switch {
	case rec == nil:
		return SignedOut
	case rec.AccessTokenValid(now):
		if validated {
			return CredentialsValidated
		}
		return PriorCredentialsSaved
	case rec.RefreshTokenPresent():
		return ExpiredRefreshAvailable
	default:
		return Expired
	}
}

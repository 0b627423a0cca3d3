package session

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"github.com/kamui-project/kamui-session/internal/events"
	"github.com/kamui-project/kamui-session/internal/token"
)

// CredentialStore persists token records. The coordinator is the only
// writer of the default record.
type CredentialStore interface {
	// Current returns the default record, nil if none is stored, or an error
	// wrapping token.ErrInvalidRecord if the stored record is unreadable
	Current(ctx context.Context) (*token.Record, error)

	// Store saves rec under rec.ID without changing the default
	Store(ctx context.Context, rec *token.Record) error

	// Remove deletes the record with the given ID. Removing the default
	// record clears the default.
	Remove(ctx context.Context, id string) error

	// SetDefault marks the record with the given ID as the default
	SetDefault(ctx context.Context, id string) error
}

// Gateway talks to the identity provider. Every call may block on the
// network or on the user.
type Gateway interface {
	// SignIn runs the interactive sign-in flow using p to reach the user
	SignIn(ctx context.Context, p Presenter) (*token.Record, error)

	// Refresh exchanges rec's refresh token for a new record
	Refresh(ctx context.Context, rec *token.Record) (*token.Record, error)

	// Introspect asks the provider whether rec's access token is still active
	Introspect(ctx context.Context, rec *token.Record) (active bool, err error)

	// SignOut ends the provider-side session for rec. It may be best-effort.
	SignOut(ctx context.Context, rec *token.Record) error
}

// Presenter shows the interactive sign-in step to the user, usually by
// opening a browser at authURL
type Presenter interface {
	Present(ctx context.Context, authURL string) error
}

// PresenterFunc adapts a function to Presenter
type PresenterFunc func(ctx context.Context, authURL string) error

func (f PresenterFunc) Present(ctx context.Context, authURL string) error {
	return f(ctx, authURL)
}

// Publisher broadcasts identity-change notifications
type Publisher interface {
	Publish(e events.Event)
}

// MarkerStore persists one-shot boolean markers outside the credential store
type MarkerStore interface {
	Marker(name string) (bool, error)
	SetMarker(name string) error
}

// LegacyImporter reads a credential written by an older storage scheme.
// ImportLegacy returns nil, nil when there is nothing to import and must
// not modify the old storage; ClearLegacy removes the credential once it
// has been stored in the current format.
type LegacyImporter interface {
	ImportLegacy(ctx context.Context) (*token.Record, error)
	ClearLegacy(ctx context.Context) error
}

const (
	// MarkerLegacyMigration records that legacy credential import was attempted
	MarkerLegacyMigration = "legacy_migration_attempted"

	// MarkerReinstallChecked records that leftover credentials from a
	// previous installation were cleaned up
	MarkerReinstallChecked = "reinstall_checked"
)

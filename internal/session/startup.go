package session

import (
	"context"
	"errors"

	"github.com/kamui-project/kamui-session/internal/token"
)

// reconcile runs the one-time startup hygiene. Reinstall cleanup runs
// before migration so that a freshly imported legacy credential is never
// mistaken for a leftover. Both steps only log their failures.
func (c *Coordinator) reconcile(ctx context.Context) {
	if c.markers == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupAfterReinstallLocked(ctx)
	c.migrateLegacyLocked(ctx)
}

// cleanupAfterReinstallLocked removes credentials that survived a reinstall.
// The marker lives next to the CLI config, so a missing marker alongside a
// stored record means the record belongs to a previous installation.
func (c *Coordinator) cleanupAfterReinstallLocked(ctx context.Context) {
	checked, err := c.markers.Marker(MarkerReinstallChecked)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to read reinstall marker", "error", err)
		return
	}
	if checked {
		return
	}

	rec, err := c.store.Current(ctx)
	invalid := errors.Is(err, token.ErrInvalidRecord)
	if err != nil && !invalid {
		// Leave the marker unset so the check runs again next time
		c.logger.WarnContext(ctx, "failed to inspect credentials for reinstall cleanup", "error", err)
		return
	}

	if rec != nil || invalid {
		c.logger.InfoContext(ctx, "removing credentials left over from a previous installation")
		if rec != nil {
			if err := c.store.Remove(ctx, rec.ID); err != nil {
				c.logger.WarnContext(ctx, "failed to remove leftover credentials", "record_id", rec.ID, "error", err)
			}
		}
		if err := c.store.SetDefault(ctx, ""); err != nil {
			c.logger.WarnContext(ctx, "failed to clear leftover default credentials", "error", err)
		}
		c.validated = false
		c.publishIdentityChanged(ctx, "reinstall-cleanup")
	}

	if err := c.markers.SetMarker(MarkerReinstallChecked); err != nil {
		c.logger.WarnContext(ctx, "failed to persist reinstall marker", "error", err)
	}
}

// migrateLegacyLocked imports a credential written by the old config
// format when no current-format record exists. The old credential is
// cleared, and the attempt recorded, only once the record is stored; a
// failed store write leaves both in place so the next start retries.
func (c *Coordinator) migrateLegacyLocked(ctx context.Context) {
	if c.legacy == nil {
		return
	}

	attempted, err := c.markers.Marker(MarkerLegacyMigration)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to read legacy migration marker", "error", err)
		return
	}
	if attempted {
		return
	}

	if current, err := c.store.Current(ctx); err == nil && current != nil {
		c.markLegacyMigrationLocked(ctx)
		return
	}

	rec, err := c.legacy.ImportLegacy(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "legacy credential migration failed", "error", err)
		c.markLegacyMigrationLocked(ctx)
		return
	}
	if rec == nil {
		c.markLegacyMigrationLocked(ctx)
		return
	}

	rec = ensureID(rec.Clone())
	if err := c.store.Store(ctx, rec); err != nil {
		c.logger.WarnContext(ctx, "failed to store migrated credentials", "error", err)
		return
	}
	if err := c.store.SetDefault(ctx, rec.ID); err != nil {
		c.logger.WarnContext(ctx, "failed to set migrated credentials as default", "error", err)
		if err := c.store.Remove(ctx, rec.ID); err != nil {
			c.logger.WarnContext(ctx, "failed to remove partially migrated credentials", "record_id", rec.ID, "error", err)
		}
		return
	}
	c.validated = false
	c.logger.InfoContext(ctx, "migrated credentials from legacy config", "record_id", rec.ID)

	if err := c.legacy.ClearLegacy(ctx); err != nil {
		c.logger.WarnContext(ctx, "failed to clear legacy credentials", "error", err)
	}
	c.markLegacyMigrationLocked(ctx)
}

func (c *Coordinator) markLegacyMigrationLocked(ctx context.Context) {
	if err := c.markers.SetMarker(MarkerLegacyMigration); err != nil {
		c.logger.WarnContext(ctx, "failed to persist legacy migration marker", "error", err)
	}
}

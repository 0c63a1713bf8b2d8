// Package source defines the mailbox capability the sync engine consumes.
// Transports (IMAP, POP3) implement it; the engine never sees protocol types.
package source

import (
	"context"

	"emails-sync/internal/models"
	"emails-sync/internal/policy"
)

// MessageSource opens scoped sessions against one remote mailbox
type MessageSource interface {
	// Open connects, authenticates and selects the mailbox. The caller must Close
	// the returned session on every path.
	Open(ctx context.Context) (Session, error)
	// Name is the provenance tag of records produced from this source.
	Name() string
	// Supports reports whether the transport can apply a disposition in a mode.
	Supports(mode policy.Mode, d policy.Disposition) error
}

// Session is one authenticated connection with the mailbox selected
type Session interface {
	// List returns refs matching sel, ascending by arrival then UID, at most sel.Limit.
	List(ctx context.Context, sel policy.Selection) ([]models.MessageRef, error)
	// Fetch downloads the full message without marking it seen.
	Fetch(ctx context.Context, ref models.MessageRef) (models.RawMessage, error)
	// Dispose applies the disposition to a message whose record is stored.
	Dispose(ctx context.Context, ref models.MessageRef, d policy.Disposition) error
	// Close releases the connection (logout).
	Close() error
}

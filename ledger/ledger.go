// Package ledger maintains the bidirectional user-device authorization
// relation. A user's assigned_devices list is the canonical side; each
// device's assigned_users list is a mirrored view. The store applies every
// assignment change to both sides in one transaction, so the two views can
// never diverge and no resync procedure is needed.
package ledger

import (
	"context"

	"labpower/models"
)

// Store is the slice of the persistence layer the ledger needs.
type Store interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUserByName(ctx context.Context, name string) (*models.User, error)
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	ReplaceAssignments(ctx context.Context, userID string, deviceIDs []string) error
	RemoveAssignments(ctx context.Context, userID string, deviceIDs []string) error
}

// Ledger exposes the assignment operations.
type Ledger struct {
	store Store
}

// New creates a ledger over the given store
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Assign replaces the user's assigned device set with deviceIDs. Every
// device must exist; on success both sides of the relation are updated
// atomically by the store.
func (l *Ledger) Assign(ctx context.Context, userID string, deviceIDs []string) error {
	// The store re-validates inside its transaction; this early check just
	// produces the not-found error without burning a transaction attempt.
	for _, deviceID := range deviceIDs {
		if _, err := l.store.GetDevice(ctx, deviceID); err != nil {
			return err
		}
	}
	return l.store.ReplaceAssignments(ctx, userID, deviceIDs)
}

// Unassign removes deviceIDs from the user and removes the user from each
// named device's mirror, atomically.
func (l *Ledger) Unassign(ctx context.Context, userID string, deviceIDs []string) error {
	return l.store.RemoveAssignments(ctx, userID, deviceIDs)
}

// IsAuthorized reports whether the named user may operate the device. Only
// the user side of the relation is consulted: it is the canonical direction.
func (l *Ledger) IsAuthorized(ctx context.Context, userName, deviceID string) (bool, error) {
	user, err := l.store.GetUserByName(ctx, userName)
	if err != nil {
		return false, err
	}
	for _, id := range user.AssignedDevices {
		if id == deviceID {
			return true, nil
		}
	}
	return false, nil
}

// AssignmentsOf returns the user's assigned device IDs (canonical side).
func (l *Ledger) AssignmentsOf(ctx context.Context, userID string) ([]string, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), user.AssignedDevices...), nil
}

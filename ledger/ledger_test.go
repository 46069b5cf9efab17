package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labpower/apperrors"
	"labpower/db"
	"labpower/models"
)

func setupLedger(t *testing.T) (*Ledger, *db.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()

	for _, id := range []string{"SRV-01", "SRV-02", "OSC-01"} {
		device := &models.Device{DeviceID: id, Name: id, Status: models.StatusOn}
		require.NoError(t, store.CreateDevice(ctx, device))
	}

	users := []models.User{
		{UserID: "user-jane", Name: "jane", Role: models.RoleEngineer},
		{UserID: "user-omar", Name: "omar", Role: models.RoleEngineer},
	}
	for i := range users {
		require.NoError(t, store.CreateUser(ctx, &users[i]))
	}

	return New(store), store
}

func TestAssignUpdatesBothSides(t *testing.T) {
	l, store := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Assign(ctx, "user-jane", []string{"SRV-01", "OSC-01"}))

	assigned, err := l.AssignmentsOf(ctx, "user-jane")
	require.NoError(t, err)
	assert.Equal(t, []string{"SRV-01", "OSC-01"}, assigned)

	// Mirror side carries the username.
	for _, id := range []string{"SRV-01", "OSC-01"} {
		device, err := store.GetDevice(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, device.AssignedUsers, "jane")
	}
	device, err := store.GetDevice(ctx, "SRV-02")
	require.NoError(t, err)
	assert.NotContains(t, device.AssignedUsers, "jane")
}

func TestAssignReplacesExistingSet(t *testing.T) {
	l, store := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Assign(ctx, "user-jane", []string{"SRV-01"}))
	require.NoError(t, l.Assign(ctx, "user-jane", []string{"SRV-02"}))

	assigned, err := l.AssignmentsOf(ctx, "user-jane")
	require.NoError(t, err)
	assert.Equal(t, []string{"SRV-02"}, assigned)

	// The dropped device's mirror no longer names the user.
	device, err := store.GetDevice(ctx, "SRV-01")
	require.NoError(t, err)
	assert.NotContains(t, device.AssignedUsers, "jane")
}

func TestAssignUnknownDevice(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	err := l.Assign(ctx, "user-jane", []string{"SRV-01", "SRV-99"})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	// Nothing applied: the assignment is all-or-nothing.
	assigned, err := l.AssignmentsOf(ctx, "user-jane")
	require.NoError(t, err)
	assert.Empty(t, assigned)
}

func TestUnassignClearsBothSides(t *testing.T) {
	l, store := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Assign(ctx, "user-jane", []string{"SRV-01", "SRV-02"}))
	require.NoError(t, l.Unassign(ctx, "user-jane", []string{"SRV-01"}))

	assigned, err := l.AssignmentsOf(ctx, "user-jane")
	require.NoError(t, err)
	assert.Equal(t, []string{"SRV-02"}, assigned)

	device, err := store.GetDevice(ctx, "SRV-01")
	require.NoError(t, err)
	assert.NotContains(t, device.AssignedUsers, "jane")
}

func TestSharedDeviceKeepsOtherHolders(t *testing.T) {
	l, store := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Assign(ctx, "user-jane", []string{"SRV-01"}))
	require.NoError(t, l.Assign(ctx, "user-omar", []string{"SRV-01"}))
	require.NoError(t, l.Unassign(ctx, "user-jane", []string{"SRV-01"}))

	device, err := store.GetDevice(ctx, "SRV-01")
	require.NoError(t, err)
	assert.NotContains(t, device.AssignedUsers, "jane")
	assert.Contains(t, device.AssignedUsers, "omar")
}

func TestIsAuthorized(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Assign(ctx, "user-jane", []string{"SRV-01"}))

	ok, err := l.IsAuthorized(ctx, "jane", "SRV-01")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.IsAuthorized(ctx, "jane", "SRV-02")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.IsAuthorized(ctx, "nobody", "SRV-01")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

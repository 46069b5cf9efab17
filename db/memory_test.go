package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labpower/apperrors"
	"labpower/models"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()

	for _, id := range []string{"SRV-01", "SRV-02"} {
		device := &models.Device{DeviceID: id, Name: id, Status: models.StatusOn}
		require.NoError(t, store.CreateDevice(ctx, device))
	}
	item := &models.ChecklistItem{TaskID: "CHK-BACKUP", Description: "Verify backups", IsCritical: true}
	require.NoError(t, store.CreateChecklistItem(ctx, item))

	user := &models.User{UserID: "user-jane", Name: "jane", Role: models.RoleEngineer}
	require.NoError(t, store.CreateUser(ctx, user))
	return store
}

func TestCreateDeviceDuplicate(t *testing.T) {
	store := seedStore(t)
	err := store.CreateDevice(context.Background(), &models.Device{DeviceID: "SRV-01"})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestCreateUserDuplicateName(t *testing.T) {
	store := seedStore(t)
	err := store.CreateUser(context.Background(), &models.User{UserID: "user-other", Name: "jane"})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestPowerOffConditional(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	at := time.Now()

	device, err := store.PowerOff(ctx, "SRV-01", at)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOff, device.Status)
	require.NotNil(t, device.LastShutdown)
	assert.True(t, device.LastShutdown.Equal(at))

	// The transition is conditional: a second power-off must not succeed.
	_, err = store.PowerOff(ctx, "SRV-01", time.Now())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidState))

	_, err = store.PowerOff(ctx, "SRV-99", time.Now())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestPowerOffAllSkipsOffDevices(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	_, err := store.PowerOff(ctx, "SRV-01", time.Now())
	require.NoError(t, err)

	transitioned, err := store.PowerOffAll(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"SRV-02"}, transitioned)

	transitioned, err = store.PowerOffAll(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, transitioned)
}

func TestCompleteChecklistItemIdempotent(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	item, err := store.CompleteChecklistItem(ctx, "CHK-BACKUP", "jane")
	require.NoError(t, err)
	assert.True(t, item.Completed)
	assert.Equal(t, "jane", item.CompletedBy)
	require.NotNil(t, item.CompletedAt)
	firstCompletion := *item.CompletedAt

	// Completing an already-complete item keeps the original completer.
	item, err = store.CompleteChecklistItem(ctx, "CHK-BACKUP", "omar")
	require.NoError(t, err)
	assert.Equal(t, "jane", item.CompletedBy)
	assert.True(t, item.CompletedAt.Equal(firstCompletion))
}

func TestReopenChecklistItem(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	_, err := store.CompleteChecklistItem(ctx, "CHK-BACKUP", "jane")
	require.NoError(t, err)

	item, err := store.ReopenChecklistItem(ctx, "CHK-BACKUP")
	require.NoError(t, err)
	assert.False(t, item.Completed)
	assert.Empty(t, item.CompletedBy)
	assert.Nil(t, item.CompletedAt)
}

func TestDeleteDeviceClearsAssignments(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceAssignments(ctx, "user-jane", []string{"SRV-01", "SRV-02"}))
	require.NoError(t, store.DeleteDevice(ctx, "SRV-01"))

	user, err := store.GetUser(ctx, "user-jane")
	require.NoError(t, err)
	assert.Equal(t, []string{"SRV-02"}, user.AssignedDevices)

	_, err = store.GetDevice(ctx, "SRV-01")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestRenameUserRewritesMirrors(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceAssignments(ctx, "user-jane", []string{"SRV-01"}))

	user, err := store.RenameUser(ctx, "user-jane", "jane.doe")
	require.NoError(t, err)
	assert.Equal(t, "jane.doe", user.Name)

	device, err := store.GetDevice(ctx, "SRV-01")
	require.NoError(t, err)
	assert.Contains(t, device.AssignedUsers, "jane.doe")
	assert.NotContains(t, device.AssignedUsers, "jane")

	// The old name is free again, the new one is taken.
	_, err = store.GetUserByName(ctx, "jane")
	require.Error(t, err)
	other := &models.User{UserID: "user-other", Name: "omar"}
	require.NoError(t, store.CreateUser(ctx, other))
	_, err = store.RenameUser(ctx, "user-other", "jane.doe")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestQueryShutdownLogs(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	entries := []models.ShutdownLogEntry{
		{LogID: "log-1", Device: "SRV-01", User: "user-jane", Status: models.ShutdownSuccess, Timestamp: base},
		{LogID: "log-2", Device: "SRV-02", User: "user-jane", Status: models.ShutdownFailed, Timestamp: base.Add(10 * time.Minute)},
		{LogID: "log-3", Device: "SRV-01", User: "user-omar", Status: models.ShutdownSuccess, Timestamp: base.Add(20 * time.Minute)},
	}
	for i := range entries {
		require.NoError(t, store.AppendShutdownLog(ctx, &entries[i]))
	}

	t.Run("NewestFirst", func(t *testing.T) {
		logs, err := store.QueryShutdownLogs(ctx, models.LogFilter{})
		require.NoError(t, err)
		require.Len(t, logs, 3)
		assert.Equal(t, "log-3", logs[0].LogID)
		assert.Equal(t, "log-1", logs[2].LogID)
	})

	t.Run("ByDevice", func(t *testing.T) {
		logs, err := store.QueryShutdownLogs(ctx, models.LogFilter{Device: "SRV-01"})
		require.NoError(t, err)
		require.Len(t, logs, 2)
	})

	t.Run("ByUser", func(t *testing.T) {
		logs, err := store.QueryShutdownLogs(ctx, models.LogFilter{User: "user-omar"})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "log-3", logs[0].LogID)
	})

	t.Run("ByDateRange", func(t *testing.T) {
		start := base.Add(5 * time.Minute)
		end := base.Add(15 * time.Minute)
		logs, err := store.QueryShutdownLogs(ctx, models.LogFilter{StartDate: &start, EndDate: &end})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "log-2", logs[0].LogID)
	})

	t.Run("Limit", func(t *testing.T) {
		logs, err := store.QueryShutdownLogs(ctx, models.LogFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "log-3", logs[0].LogID)
	})

	t.Run("DuplicateLogID", func(t *testing.T) {
		err := store.AppendShutdownLog(ctx, &models.ShutdownLogEntry{LogID: "log-1"})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	})
}

func TestLastShutdownLogForDevice(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	entry, err := store.LastShutdownLogForDevice(ctx, "SRV-01")
	require.NoError(t, err)
	assert.Nil(t, entry, "no history yet")

	require.NoError(t, store.AppendShutdownLog(ctx, &models.ShutdownLogEntry{LogID: "log-1", Device: "SRV-01", Timestamp: time.Now()}))
	require.NoError(t, store.AppendShutdownLog(ctx, &models.ShutdownLogEntry{LogID: "log-2", Device: "SRV-01", Timestamp: time.Now()}))

	entry, err = store.LastShutdownLogForDevice(ctx, "SRV-01")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "log-2", entry.LogID)
}

package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labpower/apperrors"
	"labpower/db"
	"labpower/ledger"
	"labpower/models"
)

// setupGate builds a gate over a fresh in-memory store with two devices, two
// critical checklist items and one engineer assigned to SRV-01 only.
func setupGate(t *testing.T) (*Gate, *db.MemoryStore, *models.User) {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()

	devices := []models.Device{
		{DeviceID: "SRV-01", Name: "Rack Server 1", Location: "Lab A", Status: models.StatusOn},
		{DeviceID: "SRV-02", Name: "Rack Server 2", Location: "Lab A", Status: models.StatusOn},
	}
	for i := range devices {
		require.NoError(t, store.CreateDevice(ctx, &devices[i]))
	}

	items := []models.ChecklistItem{
		{TaskID: "CHK-BACKUP", Description: "Verify backups", IsCritical: true},
		{TaskID: "CHK-SAFETY", Description: "Confirm no active experiments", IsCritical: true},
		{TaskID: "CHK-TIDY", Description: "Clear benches", IsCritical: false},
	}
	for i := range items {
		require.NoError(t, store.CreateChecklistItem(ctx, &items[i]))
	}

	user := &models.User{UserID: "user-jane", Name: "jane", Role: models.RoleEngineer}
	require.NoError(t, store.CreateUser(ctx, user))
	require.NoError(t, store.ReplaceAssignments(ctx, user.UserID, []string{"SRV-01"}))

	g := New(store, store, store, ledger.New(store), Delays{})
	return g, store, user
}

func completeCriticalItems(t *testing.T, store *db.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	items, err := store.ListCriticalItems(ctx)
	require.NoError(t, err)
	for _, item := range items {
		_, err := store.CompleteChecklistItem(ctx, item.TaskID, "jane")
		require.NoError(t, err)
	}
}

func countLogs(t *testing.T, store *db.MemoryStore) int {
	t.Helper()
	logs, err := store.QueryShutdownLogs(context.Background(), models.LogFilter{})
	require.NoError(t, err)
	return len(logs)
}

func TestValidateChecklist(t *testing.T) {
	g, store, _ := setupGate(t)
	ctx := context.Background()

	t.Run("Incomplete", func(t *testing.T) {
		validation, err := g.ValidateChecklist(ctx)
		require.NoError(t, err)
		assert.False(t, validation.AllCompleted)
		assert.Equal(t, 2, validation.TotalCriticalItems)
		assert.Equal(t, 0, validation.CompletedItems)
		require.Len(t, validation.IncompleteItems, 2)
		assert.Equal(t, "CHK-BACKUP", validation.IncompleteItems[0].TaskID)
		assert.Equal(t, "CHK-SAFETY", validation.IncompleteItems[1].TaskID)
	})

	t.Run("NonCriticalIgnored", func(t *testing.T) {
		// CHK-TIDY stays incomplete throughout and must never block.
		completeCriticalItems(t, store)
		validation, err := g.ValidateChecklist(ctx)
		require.NoError(t, err)
		assert.True(t, validation.AllCompleted)
		assert.Equal(t, 2, validation.CompletedItems)
		assert.Empty(t, validation.IncompleteItems)
	})
}

func TestInitiateShutdownSuccess(t *testing.T) {
	g, store, user := setupGate(t)
	ctx := context.Background()
	completeCriticalItems(t, store)

	result, err := g.InitiateShutdown(ctx, "SRV-01", user)
	require.NoError(t, err)
	assert.Equal(t, "SRV-01", result.DeviceID)
	assert.Equal(t, models.ShutdownSuccess, result.Status)
	assert.False(t, result.AllDevicesOff, "SRV-02 is still on")

	device, err := store.GetDevice(ctx, "SRV-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOff, device.Status)
	require.NotNil(t, device.LastShutdown)

	logs, err := store.QueryShutdownLogs(ctx, models.LogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "SRV-01", logs[0].Device)
	assert.Equal(t, user.UserID, logs[0].User)
	assert.Equal(t, "jane", logs[0].UserName)
	assert.Equal(t, models.ShutdownSuccess, logs[0].Status)
}

func TestInitiateShutdownLastDeviceReportsAllOff(t *testing.T) {
	g, store, user := setupGate(t)
	ctx := context.Background()
	completeCriticalItems(t, store)
	require.NoError(t, store.ReplaceAssignments(ctx, user.UserID, []string{"SRV-01", "SRV-02"}))

	_, err := g.InitiateShutdown(ctx, "SRV-01", user)
	require.NoError(t, err)

	result, err := g.InitiateShutdown(ctx, "SRV-02", user)
	require.NoError(t, err)
	assert.True(t, result.AllDevicesOff)
}

func TestInitiateShutdownBlocked(t *testing.T) {
	g, store, user := setupGate(t)
	ctx := context.Background()

	_, err := g.InitiateShutdown(ctx, "SRV-01", user)
	require.Error(t, err)

	var blocked *apperrors.ChecklistBlockedError
	require.ErrorAs(t, err, &blocked)
	// The complete incomplete list, not just the first offender.
	require.Len(t, blocked.IncompleteItems, 2)
	assert.Equal(t, "CHK-BACKUP", blocked.IncompleteItems[0].TaskID)
	assert.Equal(t, "CHK-SAFETY", blocked.IncompleteItems[1].TaskID)

	// Device untouched, exactly one failure entry in the audit trail.
	device, err := store.GetDevice(ctx, "SRV-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, device.Status)
	assert.Nil(t, device.LastShutdown)

	logs, err := store.QueryShutdownLogs(ctx, models.LogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ShutdownFailed, logs[0].Status)
	assert.Contains(t, logs[0].Reason, "CHK-BACKUP")
	assert.Contains(t, logs[0].Reason, "CHK-SAFETY")
}

func TestInitiateShutdownUnknownDevice(t *testing.T) {
	g, store, user := setupGate(t)

	_, err := g.InitiateShutdown(context.Background(), "SRV-99", user)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
	assert.Equal(t, 0, countLogs(t, store))
}

func TestInitiateShutdownForbidden(t *testing.T) {
	g, store, user := setupGate(t)
	completeCriticalItems(t, store)

	// jane is assigned SRV-01 only; SRV-02 is off limits.
	_, err := g.InitiateShutdown(context.Background(), "SRV-02", user)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))

	// Denied authorization is not a shutdown attempt: no log entry.
	assert.Equal(t, 0, countLogs(t, store))
}

func TestInitiateShutdownAlreadyOff(t *testing.T) {
	g, store, user := setupGate(t)
	ctx := context.Background()
	completeCriticalItems(t, store)

	_, err := g.InitiateShutdown(ctx, "SRV-01", user)
	require.NoError(t, err)
	require.Equal(t, 1, countLogs(t, store))

	_, err = g.InitiateShutdown(ctx, "SRV-01", user)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidState))
	assert.Equal(t, 1, countLogs(t, store), "repeat attempt must not add a log entry")
}

func TestInitiateShutdownCancelled(t *testing.T) {
	g, store, user := setupGate(t)
	completeCriticalItems(t, store)
	g.delays.Shutdown = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.InitiateShutdown(ctx, "SRV-01", user)
	require.ErrorIs(t, err, context.Canceled)

	// The state flips only after the delay completes, so a cancelled request
	// leaves the device fully on and the audit trail empty.
	device, err := store.GetDevice(context.Background(), "SRV-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, device.Status)
	assert.Equal(t, 0, countLogs(t, store))
}

func TestInitiateShutdownAll(t *testing.T) {
	g, store, user := setupGate(t)
	ctx := context.Background()
	completeCriticalItems(t, store)

	result, err := g.InitiateShutdownAll(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)
	assert.ElementsMatch(t, []string{"SRV-01", "SRV-02"}, result.Transitioned)

	// One success entry per transitioned device.
	logs, err := store.QueryShutdownLogs(ctx, models.LogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, entry := range logs {
		assert.Equal(t, models.ShutdownSuccess, entry.Status)
	}

	t.Run("Repeat", func(t *testing.T) {
		result, err := g.InitiateShutdownAll(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Count)
		assert.Equal(t, 2, countLogs(t, store), "nothing transitioned, nothing logged")
	})
}

func TestInitiateShutdownAllBlocked(t *testing.T) {
	g, store, user := setupGate(t)
	ctx := context.Background()

	_, err := g.InitiateShutdownAll(ctx, user)
	require.Error(t, err)

	var blocked *apperrors.ChecklistBlockedError
	require.ErrorAs(t, err, &blocked)

	// A blocked batch writes a single failure entry against the batch device.
	logs, err := store.QueryShutdownLogs(ctx, models.LogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, BatchDeviceID, logs[0].Device)
	assert.Equal(t, models.ShutdownFailed, logs[0].Status)

	for _, id := range []string{"SRV-01", "SRV-02"} {
		device, err := store.GetDevice(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusOn, device.Status)
	}
}

func TestStartDevice(t *testing.T) {
	g, store, user := setupGate(t)
	ctx := context.Background()
	completeCriticalItems(t, store)

	_, err := g.InitiateShutdown(ctx, "SRV-01", user)
	require.NoError(t, err)

	device, err := g.StartDevice(ctx, "SRV-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, device.Status)
	require.NotNil(t, device.LastStartup)

	t.Run("AlreadyOn", func(t *testing.T) {
		_, err := g.StartDevice(ctx, "SRV-01")
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidState))
	})

	// Startup has no checklist gate, so no new audit entries appear.
	assert.Equal(t, 1, countLogs(t, store))
}

func TestStartAllDevices(t *testing.T) {
	g, store, user := setupGate(t)
	ctx := context.Background()
	completeCriticalItems(t, store)

	_, err := g.InitiateShutdownAll(ctx, user)
	require.NoError(t, err)

	result, err := g.StartAllDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)
	assert.ElementsMatch(t, []string{"SRV-01", "SRV-02"}, result.Transitioned)

	t.Run("Repeat", func(t *testing.T) {
		result, err := g.StartAllDevices(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Count)
		assert.Equal(t, "All devices are already powered on", result.Message)
	})
}

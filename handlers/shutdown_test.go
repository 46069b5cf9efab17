package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labpower/db"
	"labpower/gate"
	"labpower/ledger"
	"labpower/middleware"
	"labpower/models"
)

// newShutdownFixture seeds a store with one device, one critical checklist
// item and one engineer assigned to it, and wires the gate with zero delays.
func newShutdownFixture(t *testing.T) (*ShutdownHandler, *db.MemoryStore, *models.User) {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()

	device := &models.Device{DeviceID: "SRV-01", Name: "Rack Server 1", Status: models.StatusOn}
	require.NoError(t, store.CreateDevice(ctx, device))

	item := &models.ChecklistItem{TaskID: "CHK-BACKUP", Description: "Verify backups", IsCritical: true}
	require.NoError(t, store.CreateChecklistItem(ctx, item))

	user := &models.User{UserID: "user-jane", Name: "jane", Role: models.RoleEngineer}
	require.NoError(t, store.CreateUser(ctx, user))
	require.NoError(t, store.ReplaceAssignments(ctx, user.UserID, []string{"SRV-01"}))

	g := gate.New(store, store, store, ledger.New(store), gate.Delays{})
	return NewShutdownHandler(store, g), store, user
}

func initiateRequest(user *models.User, deviceID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/shutdown/initiate/"+deviceID, nil)
	req.SetPathValue("deviceID", deviceID)
	if user != nil {
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserContextKey, user))
	}
	return req
}

func TestInitiateEndpoint(t *testing.T) {
	t.Run("Blocked", func(t *testing.T) {
		h, _, user := newShutdownFixture(t)

		rec := httptest.NewRecorder()
		h.Initiate(rec, initiateRequest(user, "SRV-01"))
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body struct {
			Kind            string                  `json:"kind"`
			IncompleteItems []models.IncompleteTask `json:"incompleteItems"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "CHECKLIST_BLOCKED", body.Kind)
		require.Len(t, body.IncompleteItems, 1)
		assert.Equal(t, "CHK-BACKUP", body.IncompleteItems[0].TaskID)
	})

	t.Run("Success", func(t *testing.T) {
		h, store, user := newShutdownFixture(t)
		_, err := store.CompleteChecklistItem(context.Background(), "CHK-BACKUP", "jane")
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		h.Initiate(rec, initiateRequest(user, "SRV-01"))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Status        models.ShutdownStatus `json:"status"`
			DeviceID      string                `json:"deviceId"`
			AllDevicesOff bool                  `json:"allDevicesOff"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, models.ShutdownSuccess, body.Status)
		assert.Equal(t, "SRV-01", body.DeviceID)
		assert.True(t, body.AllDevicesOff, "the only device is now off")

		device, err := store.GetDevice(context.Background(), "SRV-01")
		require.NoError(t, err)
		assert.Equal(t, models.StatusOff, device.Status)
	})

	t.Run("Forbidden", func(t *testing.T) {
		h, store, user := newShutdownFixture(t)
		ctx := context.Background()
		other := &models.Device{DeviceID: "SRV-02", Name: "Rack Server 2", Status: models.StatusOn}
		require.NoError(t, store.CreateDevice(ctx, other))
		_, err := store.CompleteChecklistItem(ctx, "CHK-BACKUP", "jane")
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		h.Initiate(rec, initiateRequest(user, "SRV-02"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("UnknownDevice", func(t *testing.T) {
		h, _, user := newShutdownFixture(t)
		rec := httptest.NewRecorder()
		h.Initiate(rec, initiateRequest(user, "SRV-99"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("NoContextUser", func(t *testing.T) {
		h, _, _ := newShutdownFixture(t)
		rec := httptest.NewRecorder()
		h.Initiate(rec, initiateRequest(nil, "SRV-01"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestValidateChecklistEndpoint(t *testing.T) {
	h, store, _ := newShutdownFixture(t)

	rec := httptest.NewRecorder()
	h.ValidateChecklist(rec, httptest.NewRequest(http.MethodPost, "/api/v1/shutdown/validate-checklist", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var validation models.ChecklistValidation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&validation))
	assert.False(t, validation.AllCompleted)
	require.Len(t, validation.IncompleteItems, 1)

	_, err := store.CompleteChecklistItem(context.Background(), "CHK-BACKUP", "jane")
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	h.ValidateChecklist(rec, httptest.NewRequest(http.MethodPost, "/api/v1/shutdown/validate-checklist", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&validation))
	assert.True(t, validation.AllCompleted)
}

func TestStatusEndpoint(t *testing.T) {
	h, store, user := newShutdownFixture(t)

	statusRequest := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/shutdown/status/SRV-01", nil)
		req.SetPathValue("deviceID", "SRV-01")
		return req
	}

	rec := httptest.NewRecorder()
	h.Status(rec, statusRequest())
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "SRV-01", body["deviceId"])
	assert.Equal(t, string(models.StatusOn), body["currentStatus"])
	assert.Equal(t, "never", body["lastShutdownStatus"])

	// After a real shutdown the status reflects the latest log entry.
	ctx := context.Background()
	_, err := store.CompleteChecklistItem(ctx, "CHK-BACKUP", "jane")
	require.NoError(t, err)
	recInit := httptest.NewRecorder()
	h.Initiate(recInit, initiateRequest(user, "SRV-01"))
	require.Equal(t, http.StatusOK, recInit.Code)

	rec = httptest.NewRecorder()
	h.Status(rec, statusRequest())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, string(models.StatusOff), body["currentStatus"])
	assert.Equal(t, string(models.ShutdownSuccess), body["lastShutdownStatus"])
	assert.Equal(t, "jane", body["lastShutdownBy"])
}

package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"labpower/db"
	"labpower/ledger"
	"labpower/middleware"
	"labpower/models"
)

type UserHandler struct {
	store  db.Store
	ledger *ledger.Ledger
}

func NewUserHandler(store db.Store, l *ledger.Ledger) *UserHandler {
	return &UserHandler{
		store:  store,
		ledger: l,
	}
}

type AssignDevicesRequest struct {
	DeviceIDs []string `json:"deviceIds"`
}

// List returns all users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		log.Printf("❌ Failed to list users: %v", err)
		writeError(w, "Failed to retrieve users", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// Get returns a single user
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// AssignDevices replaces a user's assigned device set through the ledger
func (h *UserHandler) AssignDevices(w http.ResponseWriter, r *http.Request) {
	adminUser, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, "User not found in context", http.StatusUnauthorized)
		return
	}

	var req AssignDevicesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceIDs == nil {
		writeError(w, "Device IDs are required", http.StatusBadRequest)
		return
	}

	userID := r.PathValue("userID")
	if err := h.ledger.Assign(r.Context(), userID, req.DeviceIDs); err != nil {
		writeAppError(w, err)
		return
	}

	log.Printf("✅ Devices assigned by %s: user %s -> %v", adminUser.Name, userID, req.DeviceIDs)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":         "Devices assigned successfully",
		"assignedDevices": req.DeviceIDs,
	})
}

// RemoveDevices removes devices from a user through the ledger
func (h *UserHandler) RemoveDevices(w http.ResponseWriter, r *http.Request) {
	adminUser, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, "User not found in context", http.StatusUnauthorized)
		return
	}

	var req AssignDevicesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.DeviceIDs) == 0 {
		writeError(w, "Device IDs are required", http.StatusBadRequest)
		return
	}

	userID := r.PathValue("userID")
	if err := h.ledger.Unassign(r.Context(), userID, req.DeviceIDs); err != nil {
		writeAppError(w, err)
		return
	}

	log.Printf("✅ Devices removed by %s: user %s -> %v", adminUser.Name, userID, req.DeviceIDs)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "Devices removed successfully",
		"removedDevices": req.DeviceIDs,
	})
}

type engineerWithDevices struct {
	models.User
	AssignedDeviceDetails []models.Device `json:"assignedDeviceDetails"`
}

// EngineersWithDevices returns every engineer joined with the details of
// their assigned devices.
func (h *UserHandler) EngineersWithDevices(w http.ResponseWriter, r *http.Request) {
	engineers, err := h.store.ListUsersByRole(r.Context(), models.RoleEngineer)
	if err != nil {
		log.Printf("❌ Failed to list engineers: %v", err)
		writeError(w, "Failed to retrieve engineers", http.StatusInternalServerError)
		return
	}

	result := make([]engineerWithDevices, 0, len(engineers))
	for _, engineer := range engineers {
		details := make([]models.Device, 0, len(engineer.AssignedDevices))
		for _, deviceID := range engineer.AssignedDevices {
			device, err := h.store.GetDevice(r.Context(), deviceID)
			if err != nil {
				log.Printf("Warning: engineer %s references device %s: %v", engineer.Name, deviceID, err)
				continue
			}
			details = append(details, *device)
		}
		result = append(result, engineerWithDevices{
			User:                  engineer,
			AssignedDeviceDetails: details,
		})
	}

	writeJSON(w, http.StatusOK, result)
}

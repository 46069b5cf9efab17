package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"labpower/db"
	"labpower/gate"
	"labpower/middleware"
	"labpower/models"
)

type DeviceHandler struct {
	store db.Store
	gate  *gate.Gate
}

func NewDeviceHandler(store db.Store, g *gate.Gate) *DeviceHandler {
	return &DeviceHandler{
		store: store,
		gate:  g,
	}
}

type CreateDeviceRequest struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

type UpdateDeviceRequest struct {
	Name     *string `json:"name,omitempty"`
	Location *string `json:"location,omitempty"`
}

// List returns all devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.store.ListDevices(r.Context())
	if err != nil {
		log.Printf("❌ Failed to list devices: %v", err)
		writeError(w, "Failed to retrieve devices", http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// Create creates a new device. New devices start powered on.
func (h *DeviceHandler) Create(w http.ResponseWriter, r *http.Request) {
	adminUser, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, "User not found in context", http.StatusUnauthorized)
		return
	}

	var req CreateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" || req.Name == "" {
		writeError(w, "Device ID and name are required", http.StatusBadRequest)
		return
	}

	now := time.Now()
	device := &models.Device{
		DeviceID:      req.DeviceID,
		Name:          req.Name,
		Location:      req.Location,
		Status:        models.StatusOn,
		AssignedUsers: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.store.CreateDevice(r.Context(), device); err != nil {
		writeAppError(w, err)
		return
	}

	log.Printf("✅ Device created by %s: %s (%s)", adminUser.Name, device.DeviceID, device.Name)
	writeJSON(w, http.StatusCreated, device)
}

// Get returns a single device
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	device, err := h.store.GetDevice(r.Context(), r.PathValue("deviceID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// Update changes a device's name or location. Power state is not updatable
// here; it only moves through the gate and the start operations.
func (h *DeviceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	device, err := h.store.UpdateDeviceInfo(r.Context(), r.PathValue("deviceID"), req.Name, req.Location)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// Delete removes a device and clears it from every user's assignments
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	adminUser, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, "User not found in context", http.StatusUnauthorized)
		return
	}

	deviceID := r.PathValue("deviceID")
	if err := h.store.DeleteDevice(r.Context(), deviceID); err != nil {
		writeAppError(w, err)
		return
	}

	log.Printf("✅ Device deleted by %s: %s", adminUser.Name, deviceID)
	w.WriteHeader(http.StatusNoContent)
}

// Start powers on a single device
func (h *DeviceHandler) Start(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceID")
	device, err := h.gate.StartDevice(r.Context(), deviceID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	log.Printf("✅ Device started: %s", deviceID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"message":   "Device " + deviceID + " started successfully",
		"deviceId":  deviceID,
		"newStatus": device.Status,
	})
}

// StartAll powers on every device that is currently off or in maintenance
func (h *DeviceHandler) StartAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.gate.StartAllDevices(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}

	log.Printf("✅ Started %d devices", result.Count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "success",
		"message":        result.Message,
		"devicesStarted": result.Count,
		"startedDevices": result.Transitioned,
	})
}

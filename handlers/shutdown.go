package handlers

import (
	"log"
	"net/http"

	"labpower/db"
	"labpower/gate"
	"labpower/middleware"
	"labpower/models"
)

type ShutdownHandler struct {
	store db.Store
	gate  *gate.Gate
}

func NewShutdownHandler(store db.Store, g *gate.Gate) *ShutdownHandler {
	return &ShutdownHandler{
		store: store,
		gate:  g,
	}
}

// ValidateChecklist is the read-only gate precheck
func (h *ShutdownHandler) ValidateChecklist(w http.ResponseWriter, r *http.Request) {
	validation, err := h.gate.ValidateChecklist(r.Context())
	if err != nil {
		log.Printf("❌ Checklist validation failed: %v", err)
		writeError(w, "Failed to validate checklist", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, validation)
}

// Initiate runs the shutdown gate for one device
func (h *ShutdownHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, "User not found in context", http.StatusUnauthorized)
		return
	}

	deviceID := r.PathValue("deviceID")
	result, err := h.gate.InitiateShutdown(r.Context(), deviceID, user)
	if err != nil {
		writeAppError(w, err)
		return
	}

	log.Printf("✅ Device shut down by %s: %s", user.Name, deviceID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        result.Status,
		"message":       result.Message,
		"deviceId":      result.DeviceID,
		"duration":      result.Duration,
		"allDevicesOff": result.AllDevicesOff,
	})
}

// InitiateAll shuts down every running device behind one global checklist check
func (h *ShutdownHandler) InitiateAll(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, "User not found in context", http.StatusUnauthorized)
		return
	}

	result, err := h.gate.InitiateShutdownAll(r.Context(), user)
	if err != nil {
		writeAppError(w, err)
		return
	}

	log.Printf("✅ Batch shutdown by %s: %d devices", user.Name, result.Count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "success",
		"message":         result.Message,
		"devicesShutdown": result.Count,
		"shutdownDevices": result.Transitioned,
	})
}

// Status returns a device's power state and its most recent shutdown log
func (h *ShutdownHandler) Status(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceID")
	device, err := h.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	lastLog, err := h.store.LastShutdownLogForDevice(r.Context(), deviceID)
	if err != nil {
		log.Printf("❌ Failed to get last shutdown log for %s: %v", deviceID, err)
		writeError(w, "Failed to retrieve shutdown status", http.StatusInternalServerError)
		return
	}

	status := map[string]interface{}{
		"deviceId":      device.DeviceID,
		"deviceName":    device.Name,
		"currentStatus": device.Status,
		"lastShutdown":  device.LastShutdown,
	}
	if lastLog != nil {
		status["lastShutdownStatus"] = lastLog.Status
		status["lastShutdownBy"] = lastLog.UserName
	} else {
		status["lastShutdownStatus"] = models.ShutdownStatus("never")
	}

	writeJSON(w, http.StatusOK, status)
}

package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"labpower/apperrors"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeAppError renders a domain error as a structured response with a
// machine-readable kind. A checklist block additionally carries the full
// incomplete-item list so callers can render the remediation checklist.
func writeAppError(w http.ResponseWriter, err error) {
	var blocked *apperrors.ChecklistBlockedError
	if errors.As(err, &blocked) {
		writeJSON(w, apperrors.HTTPStatus(err), map[string]interface{}{
			"error":           "Cannot shutdown: critical checklist items incomplete",
			"kind":            apperrors.KindChecklistBlocked,
			"incompleteItems": blocked.IncompleteItems,
		})
		return
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		writeJSON(w, apperrors.HTTPStatus(err), map[string]interface{}{
			"error": appErr.Message,
			"kind":  appErr.Kind,
		})
		return
	}

	log.Printf("❌ Internal error: %v", err)
	writeError(w, "Internal server error", http.StatusInternalServerError)
}

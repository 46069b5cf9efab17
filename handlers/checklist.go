package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"labpower/db"
	"labpower/middleware"
	"labpower/models"
)

type ChecklistHandler struct {
	store db.Store
}

func NewChecklistHandler(store db.Store) *ChecklistHandler {
	return &ChecklistHandler{store: store}
}

type CreateChecklistRequest struct {
	TaskID      string `json:"taskId"`
	Description string `json:"description"`
	Category    string `json:"category"`
	IsCritical  *bool  `json:"isCritical,omitempty"`
}

type UpdateChecklistRequest struct {
	Completed *bool `json:"completed,omitempty"`
}

// List returns all checklist items in creation order
func (h *ChecklistHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListChecklistItems(r.Context())
	if err != nil {
		log.Printf("❌ Failed to list checklist: %v", err)
		writeError(w, "Failed to retrieve checklist", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.ChecklistItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Create adds a new checklist item. Items default to critical.
func (h *ChecklistHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateChecklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TaskID == "" || req.Description == "" {
		writeError(w, "Task ID and description are required", http.StatusBadRequest)
		return
	}

	isCritical := true
	if req.IsCritical != nil {
		isCritical = *req.IsCritical
	}

	now := time.Now()
	item := &models.ChecklistItem{
		TaskID:      req.TaskID,
		Description: req.Description,
		Category:    req.Category,
		IsCritical:  isCritical,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.store.CreateChecklistItem(r.Context(), item); err != nil {
		writeAppError(w, err)
		return
	}

	log.Printf("✅ Checklist item created: %s (critical: %v)", item.TaskID, item.IsCritical)
	writeJSON(w, http.StatusCreated, item)
}

// Get returns a single checklist item
func (h *ChecklistHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.store.GetChecklistItem(r.Context(), r.PathValue("taskID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Update toggles completion. Completing records the authenticated user and
// the time, and is idempotent; reopening clears both.
func (h *ChecklistHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, "User not found in context", http.StatusUnauthorized)
		return
	}

	var req UpdateChecklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Completed == nil {
		writeError(w, "Completed flag is required", http.StatusBadRequest)
		return
	}

	taskID := r.PathValue("taskID")
	var (
		item *models.ChecklistItem
		err  error
	)
	if *req.Completed {
		item, err = h.store.CompleteChecklistItem(r.Context(), taskID, user.Name)
	} else {
		item, err = h.store.ReopenChecklistItem(r.Context(), taskID)
	}
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

// Delete removes a checklist item
func (h *ChecklistHandler) Delete(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskID")
	if err := h.store.DeleteChecklistItem(r.Context(), taskID); err != nil {
		writeAppError(w, err)
		return
	}

	log.Printf("✅ Checklist item deleted: %s", taskID)
	w.WriteHeader(http.StatusNoContent)
}

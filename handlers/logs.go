package handlers

import (
	"encoding/csv"
	"log"
	"net/http"
	"strconv"
	"time"

	"labpower/db"
	"labpower/middleware"
	"labpower/models"
)

type LogsHandler struct {
	store db.Store
}

func NewLogsHandler(store db.Store) *LogsHandler {
	return &LogsHandler{store: store}
}

// List returns shutdown log entries, newest first, filterable by device,
// user and date range.
func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLogFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := h.store.QueryShutdownLogs(r.Context(), filter)
	if err != nil {
		log.Printf("❌ Failed to query shutdown logs: %v", err)
		writeError(w, "Failed to retrieve shutdown logs", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.ShutdownLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Get returns a single log entry by ID
func (h *LogsHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.GetShutdownLog(r.Context(), r.PathValue("logID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Export streams the filtered audit trail as CSV
func (h *LogsHandler) Export(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, "User not found in context", http.StatusUnauthorized)
		return
	}

	filter, err := parseLogFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := h.store.QueryShutdownLogs(r.Context(), filter)
	if err != nil {
		log.Printf("❌ Failed to query shutdown logs: %v", err)
		writeError(w, "Failed to export shutdown logs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="shutdown-logs.csv"`)

	writer := csv.NewWriter(w)
	defer writer.Flush()

	writer.Write([]string{"LogID", "Device", "User", "UserName", "Status", "Reason", "Duration", "Timestamp"})
	for _, entry := range entries {
		writer.Write([]string{
			entry.LogID,
			entry.Device,
			entry.User,
			entry.UserName,
			string(entry.Status),
			entry.Reason,
			strconv.Itoa(entry.Duration),
			entry.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	log.Printf("✅ Audit trail exported by %s (%d entries)", user.Name, len(entries))
}

func parseLogFilter(r *http.Request) (models.LogFilter, error) {
	q := r.URL.Query()
	filter := models.LogFilter{
		Device: q.Get("device"),
		User:   q.Get("user"),
	}

	if v := q.Get("start_date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return filter, err
		}
		filter.StartDate = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return filter, err
		}
		filter.EndDate = &t
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return filter, errInvalidLimit
		}
		filter.Limit = limit
	}
	return filter, nil
}

var errInvalidLimit = &logFilterError{"limit must be a positive integer"}

type logFilterError struct{ msg string }

func (e *logFilterError) Error() string { return e.msg }

// parseDate accepts RFC 3339 timestamps or plain dates.
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, &logFilterError{"dates must be RFC 3339 or YYYY-MM-DD"}
	}
	return t, nil
}

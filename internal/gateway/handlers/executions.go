package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"pybox/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ListExecutionsResponse is the body of an execution list response.
type ListExecutionsResponse struct {
	Executions []*storage.ExecutionRecord `json:"executions"`
	Total      int                        `json:"total"`
}

// ListExecutionsHandler returns recent execution records, newest first.
// Supports user, limit, and offset query parameters.
func ListExecutionsHandler(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			SendError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "execution history is disabled")
			return
		}

		limit := parseIntParam(r, "limit", defaultListLimit)
		if limit <= 0 || limit > maxListLimit {
			limit = defaultListLimit
		}
		offset := parseIntParam(r, "offset", 0)
		if offset < 0 {
			offset = 0
		}
		userID := r.URL.Query().Get("user")

		records, err := db.ListExecutions(userID, limit, offset)
		if err != nil {
			SendError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list executions")
			return
		}
		total, err := db.CountExecutions()
		if err != nil {
			SendError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to count executions")
			return
		}

		SendJSON(w, http.StatusOK, ListExecutionsResponse{
			Executions: records,
			Total:      total,
		})
	}
}

// GetExecutionHandler returns a single execution record by ID.
func GetExecutionHandler(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			SendError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "execution history is disabled")
			return
		}

		id := mux.Vars(r)["id"]
		rec, err := db.GetExecution(id)
		if errors.Is(err, storage.ErrNotFound) {
			SendError(w, http.StatusNotFound, ErrCodeNotFound, "execution not found")
			return
		}
		if err != nil {
			SendError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load execution")
			return
		}

		SendJSON(w, http.StatusOK, rec)
	}
}

func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

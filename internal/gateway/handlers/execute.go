package handlers

import (
	"encoding/json"
	"net/http"

	"pybox/internal/pyexec"
	"pybox/internal/storage"
	"pybox/pkg/logger"
)

// ExecuteRequest is the body of a code execution request.
type ExecuteRequest struct {
	Code    string         `json:"code"`
	Context map[string]any `json:"context,omitempty"`
	UserID  string         `json:"user_id,omitempty"`
}

// ExecuteHandler runs submitted code through the execution pipeline and
// returns the full result. Pipeline failures (syntax errors, blocked
// imports, runtime errors) are reported in the result body with HTTP 200;
// only malformed requests produce error status codes.
func ExecuteHandler(executor *pyexec.Executor, db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
			return
		}
		if req.Code == "" {
			SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "code is required")
			return
		}

		result := executor.Execute(r.Context(), req.Code, req.Context)

		if db != nil {
			rec := storage.NewExecutionRecord(req.Code, req.UserID, result)
			if err := db.SaveExecution(rec); err != nil {
				logger.Warn().Err(err).Str("execution_id", result.ID).Msg("failed to save execution record")
			}
		}

		SendJSON(w, http.StatusOK, result)
	}
}

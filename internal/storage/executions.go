package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"pybox/internal/pyexec"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("not found")

// ExecutionRecord is one persisted pipeline call.
type ExecutionRecord struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id,omitempty"`
	Code            string    `json:"code"`
	Success         bool      `json:"success"`
	Stdout          string    `json:"stdout"`
	Stderr          string    `json:"stderr,omitempty"`
	ReturnValue     string    `json:"return_value,omitempty"` // JSON-encoded
	ErrorType       string    `json:"error_type,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	TotalTimeMs     int64     `json:"total_time_ms"`
	ViolationCount  int       `json:"violation_count"`
	OutputRedacted  bool      `json:"output_redacted"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewExecutionRecord builds a record from a pipeline result. Only the
// sanitized artifact is persisted; the raw output never reaches the store.
func NewExecutionRecord(code, userID string, res *pyexec.ExecutionResult) *ExecutionRecord {
	returnValue := ""
	if res.ReturnValue != nil {
		if data, err := json.Marshal(res.ReturnValue); err == nil {
			returnValue = string(data)
		}
	}
	return &ExecutionRecord{
		ID:              res.ID,
		UserID:          userID,
		Code:            code,
		Success:         res.Success,
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		ReturnValue:     returnValue,
		ErrorType:       res.ErrorType,
		ErrorMessage:    res.ErrorMessage,
		ExecutionTimeMs: res.ExecutionTime.Milliseconds(),
		TotalTimeMs:     res.TotalTime.Milliseconds(),
		ViolationCount:  len(res.ValidationViolations) + len(res.OutputViolations),
		OutputRedacted:  res.WasOutputRedacted,
		CreatedAt:       time.Now(),
	}
}

// SaveExecution persists an execution record.
func (db *DB) SaveExecution(rec *ExecutionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO executions
		(id, user_id, code, success, stdout, stderr, return_value,
		 error_type, error_message, execution_time_ms, total_time_ms,
		 violation_count, output_redacted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Code, rec.Success, rec.Stdout, rec.Stderr,
		rec.ReturnValue, rec.ErrorType, rec.ErrorMessage,
		rec.ExecutionTimeMs, rec.TotalTimeMs, rec.ViolationCount,
		rec.OutputRedacted, rec.CreatedAt,
	)
	return err
}

const executionColumns = `id, user_id, code, success, stdout, stderr,
	return_value, error_type, error_message, execution_time_ms,
	total_time_ms, violation_count, output_redacted, created_at`

func scanExecution(row interface{ Scan(...any) error }) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Code, &rec.Success, &rec.Stdout,
		&rec.Stderr, &rec.ReturnValue, &rec.ErrorType, &rec.ErrorMessage,
		&rec.ExecutionTimeMs, &rec.TotalTimeMs, &rec.ViolationCount,
		&rec.OutputRedacted, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetExecution fetches one execution by id.
func (db *DB) GetExecution(id string) (*ExecutionRecord, error) {
	rec, err := scanExecution(db.QueryRow(
		"SELECT "+executionColumns+" FROM executions WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListExecutions returns executions newest first. A non-empty userID
// filters to that user.
func (db *DB) ListExecutions(userID string, limit, offset int) ([]*ExecutionRecord, error) {
	query := "SELECT " + executionColumns + " FROM executions"
	args := []any{}

	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	} else if offset > 0 {
		// SQLite rejects OFFSET without LIMIT; -1 means unbounded.
		query += " LIMIT -1"
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountExecutions returns the total number of stored executions.
func (db *DB) CountExecutions() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM executions").Scan(&n)
	return n, err
}

// DeleteExecutionsBefore removes records created before the cutoff,
// returning how many were deleted.
func (db *DB) DeleteExecutionsBefore(cutoff time.Time) (int64, error) {
	res, err := db.Exec("DELETE FROM executions WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package storage

import (
	"errors"
	"testing"
	"time"

	"pybox/internal/pyexec"
)

func sampleRecord(id, userID string) *ExecutionRecord {
	return &ExecutionRecord{
		ID:              id,
		UserID:          userID,
		Code:            "result = 1 + 1",
		Success:         true,
		Stdout:          "",
		ReturnValue:     "2",
		ExecutionTimeMs: 3,
		TotalTimeMs:     5,
		CreatedAt:       time.Now(),
	}
}

func TestSaveAndGetExecution(t *testing.T) {
	db := openTestDB(t)

	rec := sampleRecord("exec-1", "alice")
	if err := db.SaveExecution(rec); err != nil {
		t.Fatalf("SaveExecution failed: %v", err)
	}

	got, err := db.GetExecution("exec-1")
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if got.Code != rec.Code {
		t.Errorf("code = %q, want %q", got.Code, rec.Code)
	}
	if got.UserID != "alice" {
		t.Errorf("user_id = %q", got.UserID)
	}
	if !got.Success {
		t.Error("success flag lost")
	}
	if got.ReturnValue != "2" {
		t.Errorf("return_value = %q", got.ReturnValue)
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.GetExecution("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListExecutionsOrderAndLimit(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		rec := sampleRecord(id, "")
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := db.SaveExecution(rec); err != nil {
			t.Fatalf("SaveExecution failed: %v", err)
		}
	}

	records, err := db.ListExecutions("", 2, 0)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "c" || records[1].ID != "b" {
		t.Errorf("order = %s, %s, want c, b", records[0].ID, records[1].ID)
	}
}

func TestListExecutionsOffsetWithoutLimit(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		rec := sampleRecord(id, "")
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := db.SaveExecution(rec); err != nil {
			t.Fatalf("SaveExecution failed: %v", err)
		}
	}

	records, err := db.ListExecutions("", 0, 1)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "b" || records[1].ID != "a" {
		t.Errorf("order = %s, %s, want b, a", records[0].ID, records[1].ID)
	}
}

func TestListExecutionsByUser(t *testing.T) {
	db := openTestDB(t)

	for _, rec := range []*ExecutionRecord{
		sampleRecord("u1-a", "alice"),
		sampleRecord("u2-a", "bob"),
		sampleRecord("u1-b", "alice"),
	} {
		if err := db.SaveExecution(rec); err != nil {
			t.Fatalf("SaveExecution failed: %v", err)
		}
	}

	records, err := db.ListExecutions("alice", 0, 0)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.UserID != "alice" {
			t.Errorf("leaked record for %q", rec.UserID)
		}
	}
}

func TestCountAndDeleteExecutions(t *testing.T) {
	db := openTestDB(t)

	old := sampleRecord("old", "")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	recent := sampleRecord("recent", "")

	for _, rec := range []*ExecutionRecord{old, recent} {
		if err := db.SaveExecution(rec); err != nil {
			t.Fatalf("SaveExecution failed: %v", err)
		}
	}

	n, err := db.CountExecutions()
	if err != nil || n != 2 {
		t.Fatalf("CountExecutions = %d, %v, want 2", n, err)
	}

	deleted, err := db.DeleteExecutionsBefore(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteExecutionsBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := db.GetExecution("recent"); err != nil {
		t.Errorf("recent record removed: %v", err)
	}
}

func TestNewExecutionRecord(t *testing.T) {
	res := &pyexec.ExecutionResult{
		ID:            "exec-9",
		Success:       true,
		Stdout:        "done\n",
		ReturnValue:   map[string]any{"n": int64(3)},
		ExecutionTime: 12 * time.Millisecond,
		TotalTime:     20 * time.Millisecond,
		ValidationViolations: []pyexec.Violation{
			{Severity: pyexec.SeverityMedium, Type: pyexec.ViolationComplexityExceeded},
		},
		OutputViolations:  []pyexec.Violation{},
		WasOutputRedacted: true,
	}

	rec := NewExecutionRecord("x = 3", "alice", res)

	if rec.ID != "exec-9" || rec.UserID != "alice" || rec.Code != "x = 3" {
		t.Errorf("identity fields wrong: %+v", rec)
	}
	if rec.ReturnValue != `{"n":3}` {
		t.Errorf("return_value = %q", rec.ReturnValue)
	}
	if rec.ExecutionTimeMs != 12 || rec.TotalTimeMs != 20 {
		t.Errorf("timings = %d/%d", rec.ExecutionTimeMs, rec.TotalTimeMs)
	}
	if rec.ViolationCount != 1 {
		t.Errorf("violation_count = %d", rec.ViolationCount)
	}
	if !rec.OutputRedacted {
		t.Error("redaction flag lost")
	}
}

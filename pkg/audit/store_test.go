package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStoreRecordAndQuery(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	call := &Call{
		RunID:   "run-1",
		Caller:  "novelist",
		Purpose: "scene_draft",
		Model:   "gemini-2.5-flash",
		Status:  StatusOK,
		Latency: 1200 * time.Millisecond,
	}
	if err := store.Record(call); err != nil {
		t.Fatalf("record call: %v", err)
	}
	if call.ID == 0 {
		t.Fatal("expected call ID to be set")
	}

	blocked := &Call{
		RunID:          "run-1",
		Caller:         "novelist",
		Purpose:        "scene_draft",
		Model:          "gemini-2.5-flash",
		Status:         StatusSafetyBlock,
		SafetyCategory: "HARM_CATEGORY_DANGEROUS_CONTENT",
		Latency:        800 * time.Millisecond,
	}
	if err := store.Record(blocked); err != nil {
		t.Fatalf("record blocked call: %v", err)
	}

	calls, err := store.CallsForRun("run-1")
	if err != nil {
		t.Fatalf("calls for run: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Purpose != "scene_draft" || calls[0].Latency != 1200*time.Millisecond {
		t.Fatalf("unexpected first call: %+v", calls[0])
	}
	if calls[1].SafetyCategory != "HARM_CATEGORY_DANGEROUS_CONTENT" {
		t.Fatalf("expected safety category on blocked call, got %+v", calls[1])
	}

	n, err := store.CountByStatus(StatusSafetyBlock)
	if err != nil {
		t.Fatalf("count by status: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 blocked call, got %d", n)
	}

	daily, err := store.DailyCallCount()
	if err != nil {
		t.Fatalf("daily count: %v", err)
	}
	if daily < 2 {
		t.Fatalf("expected daily count >= 2, got %d", daily)
	}
}

func TestStoreIsolatesRuns(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	for _, runID := range []string{"run-a", "run-a", "run-b"} {
		if err := store.Record(&Call{
			RunID:   runID,
			Caller:  "reviewer",
			Purpose: "critique",
			Model:   "gemini-2.5-flash",
			Status:  StatusOK,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	calls, err := store.CallsForRun("run-a")
	if err != nil {
		t.Fatalf("calls for run: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls for run-a, got %d", len(calls))
	}
}

package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening log: %v", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("parsing event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestLogger_WritesRunLog(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, "run-1")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Close()

	logger.SetStage("scene-0")
	if err := logger.Info(CategoryPipeline, "scene_start", "starting scene", map[string]any{"index": 0}); err != nil {
		t.Fatalf("Info() error = %v", err)
	}

	events := readEvents(t, filepath.Join(dir, "runs", "run-1.jsonl"))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", ev.RunID)
	}
	if ev.Stage != "scene-0" {
		t.Errorf("Stage = %q, want scene-0", ev.Stage)
	}
	if ev.Category != CategoryPipeline {
		t.Errorf("Category = %q, want pipeline", ev.Category)
	}
}

func TestLogger_ErrorsGoToSharedLog(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, "run-2")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Close()

	logger.Info(CategoryGateway, "call", "fine", nil)
	logger.Error(CategoryGateway, "call_failed", "transport failure", nil)

	errEvents := readEvents(t, filepath.Join(dir, "errors.jsonl"))
	if len(errEvents) != 1 {
		t.Fatalf("got %d error events, want 1", len(errEvents))
	}
	if errEvents[0].EventType != "call_failed" {
		t.Errorf("EventType = %q, want call_failed", errEvents[0].EventType)
	}
}

func TestLogger_MinLevelFilters(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, "run-3")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Close()

	logger.Debug(CategoryPipeline, "noise", "should be dropped", nil)
	logger.Info(CategoryPipeline, "kept", "should be kept", nil)

	events := readEvents(t, filepath.Join(dir, "runs", "run-3.jsonl"))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].EventType != "kept" {
		t.Errorf("EventType = %q, want kept", events[0].EventType)
	}
}

func TestLogger_AuditHelpers(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, "run-4")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Close()

	logger.LogRead("psychologist", "output/characters/mara.json", "retro preparation")
	logger.LogWrite("director", "output/meetings/minutes.json", "save minutes")

	events := readEvents(t, filepath.Join(dir, "runs", "run-4.jsonl"))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Participant != "psychologist" || events[0].EventType != "read" {
		t.Errorf("unexpected read event: %+v", events[0])
	}
	if events[1].Participant != "director" || events[1].EventType != "write" {
		t.Errorf("unexpected write event: %+v", events[1])
	}
}

func TestNop_DoesNotPanic(t *testing.T) {
	logger := Nop()
	if err := logger.Info(CategoryPipeline, "x", "y", nil); err != nil {
		t.Errorf("Nop logger Info() error = %v", err)
	}
	logger.LogRead("a", "b", "c")
}

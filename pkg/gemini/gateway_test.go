package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/scrivener/pkg/audit"
	"github.com/odvcencio/scrivener/pkg/config"
	scrivenererrors "github.com/odvcencio/scrivener/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *audit.Store) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("opening audit store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	client := NewClient(config.GeminiConfig{
		APIKey:      "test-key",
		Model:       "gemini-2.5-flash",
		BaseURL:     server.URL,
		CallTimeout: 5 * time.Second,
	}, ClientOptions{AuditStore: store, RunID: "run-test"})

	return client, store
}

func candidateBody(text, finishReason string) string {
	body := map[string]any{
		"candidates": []map[string]any{
			{
				"content":      map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}},
				"finishReason": finishReason,
			},
		},
	}
	data, _ := json.Marshal(body)
	return string(data)
}

func TestGenerate_Success(t *testing.T) {
	var captured generateContentRequest
	client, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(candidateBody("{\"plot\": \"fine\"}", "STOP")))
	})

	resp, err := client.Generate(context.Background(), GenerateRequest{
		Caller:            "novelist",
		Purpose:           "scene_draft",
		SystemInstruction: "You are a novelist.",
		Prompt:            "Write the next scene.",
		ResponseSchema:    Object(map[string]*Schema{"plot": String("the plot")}),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "{\"plot\": \"fine\"}" {
		t.Errorf("Text = %q", resp.Text)
	}

	// The wire request must carry the structured output settings and
	// the disabled safety thresholds.
	if captured.GenerationConfig == nil {
		t.Fatal("request missing generationConfig")
	}
	if captured.GenerationConfig.ResponseMimeType != "application/json" {
		t.Errorf("responseMimeType = %q", captured.GenerationConfig.ResponseMimeType)
	}
	if captured.GenerationConfig.MaxOutputTokens != 8192 {
		t.Errorf("maxOutputTokens = %d", captured.GenerationConfig.MaxOutputTokens)
	}
	if captured.SystemInstruction == nil {
		t.Error("request missing systemInstruction")
	}
	if len(captured.SafetySettings) != 4 {
		t.Fatalf("got %d safety settings, want 4", len(captured.SafetySettings))
	}
	for _, s := range captured.SafetySettings {
		if s.Threshold != "BLOCK_NONE" {
			t.Errorf("threshold = %q for %s", s.Threshold, s.Category)
		}
	}

	calls, err := store.CallsForRun("run-test")
	if err != nil {
		t.Fatalf("reading audit trail: %v", err)
	}
	if len(calls) != 1 || calls[0].Status != audit.StatusOK {
		t.Fatalf("unexpected audit trail: %+v", calls)
	}
}

func TestGenerate_SafetyFinishReason(t *testing.T) {
	client, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"candidates": []map[string]any{
				{
					"content":      map[string]any{"role": "model", "parts": []map[string]any{}},
					"finishReason": "SAFETY",
					"safetyRatings": []map[string]any{
						{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "probability": "HIGH"},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(body)
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Caller: "novelist", Purpose: "scene_draft", Prompt: "x"})
	if !scrivenererrors.IsCode(err, scrivenererrors.ErrCodeSafetyBlocked) {
		t.Fatalf("expected SAFETY_BLOCKED, got %v", err)
	}
	if scrivenererrors.IsRetryable(err) {
		t.Error("safety blocks must not be retryable")
	}

	calls, _ := store.CallsForRun("run-test")
	if len(calls) != 1 || calls[0].Status != audit.StatusSafetyBlock {
		t.Fatalf("unexpected audit trail: %+v", calls)
	}
	if calls[0].SafetyCategory != "HARM_CATEGORY_DANGEROUS_CONTENT" {
		t.Errorf("SafetyCategory = %q", calls[0].SafetyCategory)
	}
}

func TestGenerate_PromptBlocked(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": [], "promptFeedback": {"blockReason": "SAFETY"}}`))
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	if !scrivenererrors.IsCode(err, scrivenererrors.ErrCodeSafetyBlocked) {
		t.Fatalf("expected SAFETY_BLOCKED, got %v", err)
	}
}

func TestGenerate_ServerErrorIsRetryableTransport(t *testing.T) {
	client, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Caller: "novelist", Purpose: "scene_draft", Prompt: "x"})
	if !scrivenererrors.IsCode(err, scrivenererrors.ErrCodeTransportFailure) {
		t.Fatalf("expected TRANSPORT_FAILURE, got %v", err)
	}
	if !scrivenererrors.IsRetryable(err) {
		t.Error("5xx failures should be retryable")
	}

	calls, _ := store.CallsForRun("run-test")
	if len(calls) != 1 || calls[0].Status != audit.StatusTransport {
		t.Fatalf("unexpected audit trail: %+v", calls)
	}
}

func TestGenerate_BadRequestIsNotRetryable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad schema", http.StatusBadRequest)
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	if !scrivenererrors.IsCode(err, scrivenererrors.ErrCodeTransportFailure) {
		t.Fatalf("expected TRANSPORT_FAILURE, got %v", err)
	}
	if scrivenererrors.IsRetryable(err) {
		t.Error("4xx failures should not be retryable")
	}
}

func TestGenerate_CancellationRecordedAsCancelled(t *testing.T) {
	client, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, GenerateRequest{Caller: "novelist", Purpose: "scene_draft", Prompt: "x"})
	if err == nil {
		t.Fatal("expected the call to fail")
	}

	calls, _ := store.CallsForRun("run-test")
	if len(calls) != 1 || calls[0].Status != audit.StatusCancelled {
		t.Fatalf("unexpected audit trail: %+v", calls)
	}
}

func TestGenerate_EmptyCandidatesIsMalformed(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	if !scrivenererrors.IsCode(err, scrivenererrors.ErrCodeMalformedResponse) {
		t.Fatalf("expected MALFORMED_RESPONSE, got %v", err)
	}
	if !scrivenererrors.IsRetryable(err) {
		t.Error("empty candidates should be retryable")
	}
}

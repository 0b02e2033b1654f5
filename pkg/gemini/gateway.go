// Package gemini talks to the Gemini generateContent REST API. The
// gateway owns transport, rate limiting, safety classification, and
// audit recording; retry policy lives one layer up in the structured
// invoker.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/odvcencio/scrivener/pkg/audit"
	"github.com/odvcencio/scrivener/pkg/config"
	scrivenererrors "github.com/odvcencio/scrivener/pkg/errors"
	"github.com/odvcencio/scrivener/pkg/logging"
)

const (
	defaultTemperature     = 0.8
	defaultTopK            = 1
	defaultTopP            = 1.0
	defaultMaxOutputTokens = 8192

	// Conservative 1 request/second keeps a long run well under the
	// per-minute quota even when retries pile up.
	defaultRateLimit = rate.Limit(1)
	defaultBurstSize = 4
)

// blockNoneCategories are disabled wholesale; the pipeline writes
// fiction and relies on finishReason to surface hard blocks.
var blockNoneCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// GenerateRequest is one call to the model.
type GenerateRequest struct {
	// Caller and Purpose identify the pipeline stage for the audit trail.
	Caller  string
	Purpose string

	SystemInstruction string
	Prompt            string

	// ResponseSchema, when set, switches the call to structured JSON
	// output with the schema enforced server side.
	ResponseSchema *Schema

	// Temperature overrides the default when non-nil.
	Temperature *float64
}

// GenerateResponse is the text of a successful call.
type GenerateResponse struct {
	Text         string
	FinishReason string
}

// Gateway is the surface the rest of the pipeline calls. Tests swap
// in fakes; production uses *Client.
type Gateway interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Client is the production Gateway backed by the Gemini REST API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	auditStore *audit.Store
	logger     *logging.Logger
	runID      string
}

// ClientOptions carries the optional collaborators.
type ClientOptions struct {
	AuditStore *audit.Store
	Logger     *logging.Logger
	RunID      string
}

// NewClient builds a Gemini client from config.
func NewClient(cfg config.GeminiConfig, opts ClientOptions) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.CallTimeout,
		},
		limiter:    rate.NewLimiter(defaultRateLimit, defaultBurstSize),
		auditStore: opts.AuditStore,
		logger:     logger,
		runID:      opts.RunID,
	}
}

type generateContentRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	SafetySettings    []safetySetting   `json:"safetySettings,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopK             int     `json:"topK"`
	TopP             float64 `json:"topP"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
	ResponseSchema   *Schema `json:"responseSchema,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content       content `json:"content"`
		FinishReason  string  `json:"finishReason"`
		SafetyRatings []struct {
			Category    string `json:"category"`
			Probability string `json:"probability"`
		} `json:"safetyRatings"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Generate performs one round trip and records it in the audit trail.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, scrivenererrors.Wrap(err, scrivenererrors.ErrCodeTransportFailure, "rate limiter wait cancelled")
	}

	start := time.Now()
	resp, err := c.doGenerate(ctx, req)
	latency := time.Since(start)

	c.record(req, latency, err)
	return resp, err
}

func (c *Client) doGenerate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	genCfg := &generationConfig{
		Temperature:     temperature,
		TopK:            defaultTopK,
		TopP:            defaultTopP,
		MaxOutputTokens: defaultMaxOutputTokens,
	}
	if req.ResponseSchema != nil {
		genCfg.ResponseMimeType = "application/json"
		genCfg.ResponseSchema = req.ResponseSchema
	}

	payload := generateContentRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: req.Prompt}}},
		},
		GenerationConfig: genCfg,
		SafetySettings:   safetySettings(),
	}
	if req.SystemInstruction != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: req.SystemInstruction}}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, scrivenererrors.Wrap(err, scrivenererrors.ErrCodeInternal, "marshaling request")
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, scrivenererrors.Wrap(err, scrivenererrors.ErrCodeInternal, "building request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, scrivenererrors.Wrap(err, scrivenererrors.ErrCodeTransportFailure, "gemini request failed").
			WithRetryable(true)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, scrivenererrors.New(scrivenererrors.ErrCodeTransportFailure,
			fmt.Sprintf("gemini request failed: %s", httpResp.Status)).
			WithContext("body", string(snippet)).
			WithRetryable(httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests)
	}

	var genResp generateContentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&genResp); err != nil {
		return nil, scrivenererrors.Wrap(err, scrivenererrors.ErrCodeMalformedResponse, "decoding response body").
			WithRetryable(true)
	}

	return classify(&genResp)
}

// classify turns the wire response into text or a tagged error.
func classify(resp *generateContentResponse) (*GenerateResponse, error) {
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback.BlockReason != "" {
			return nil, scrivenererrors.New(scrivenererrors.ErrCodeSafetyBlocked,
				"prompt blocked before generation").
				WithContext("block_reason", resp.PromptFeedback.BlockReason)
		}
		return nil, scrivenererrors.New(scrivenererrors.ErrCodeMalformedResponse,
			"no candidates in response").WithRetryable(true)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == "SAFETY" {
		err := scrivenererrors.New(scrivenererrors.ErrCodeSafetyBlocked, "candidate blocked by safety filter")
		for _, rating := range candidate.SafetyRatings {
			err.WithContext(rating.Category, rating.Probability)
		}
		return nil, err
	}

	var textParts []string
	for _, p := range candidate.Content.Parts {
		if p.Text != "" {
			textParts = append(textParts, p.Text)
		}
	}
	text := strings.Join(textParts, "\n")
	if strings.TrimSpace(text) == "" {
		return nil, scrivenererrors.New(scrivenererrors.ErrCodeMalformedResponse,
			"candidate contained no text").
			WithContext("finish_reason", candidate.FinishReason).
			WithRetryable(true)
	}

	return &GenerateResponse{Text: text, FinishReason: candidate.FinishReason}, nil
}

func safetySettings() []safetySetting {
	settings := make([]safetySetting, 0, len(blockNoneCategories))
	for _, category := range blockNoneCategories {
		settings = append(settings, safetySetting{Category: category, Threshold: "BLOCK_NONE"})
	}
	return settings
}

// record writes the call to the audit store. Audit failures are logged
// and never fail the call itself.
func (c *Client) record(req GenerateRequest, latency time.Duration, callErr error) {
	if c.auditStore == nil {
		return
	}

	status := audit.StatusOK
	safetyCategory := ""
	switch {
	case callErr == nil:
	case scrivenererrors.IsCode(callErr, scrivenererrors.ErrCodeSafetyBlocked):
		status = audit.StatusSafetyBlock
		safetyCategory = firstSafetyCategory(callErr)
	case scrivenererrors.IsCode(callErr, scrivenererrors.ErrCodeMalformedResponse):
		status = audit.StatusMalformed
	case errors.Is(callErr, context.Canceled), errors.Is(callErr, context.DeadlineExceeded):
		status = audit.StatusCancelled
	default:
		status = audit.StatusTransport
	}

	err := c.auditStore.Record(&audit.Call{
		RunID:          c.runID,
		Caller:         req.Caller,
		Purpose:        req.Purpose,
		Model:          c.model,
		Status:         status,
		SafetyCategory: safetyCategory,
		Latency:        latency,
	})
	if err != nil {
		c.logger.Warn(logging.CategoryAudit, "record_failed", "failed to record call", map[string]any{
			"error": err.Error(),
		})
	}
}

func firstSafetyCategory(err error) string {
	serr, ok := err.(*scrivenererrors.Error)
	if !ok {
		return ""
	}
	for key := range serr.Context {
		if strings.HasPrefix(key, "HARM_CATEGORY_") {
			return key
		}
	}
	if reason, ok := serr.Context["block_reason"].(string); ok {
		return reason
	}
	return ""
}

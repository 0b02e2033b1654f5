package gemini

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	scrivenererrors "github.com/odvcencio/scrivener/pkg/errors"
	"github.com/odvcencio/scrivener/pkg/logging"
)

// StructuredInvoker wraps a Gateway with schema validation and bounded
// retries. Parse failures and transport failures are retried; safety
// blocks are returned to the caller untouched.
type StructuredInvoker struct {
	gateway    Gateway
	maxRetries int
	retryDelay time.Duration
	logger     *logging.Logger
}

// NewStructuredInvoker builds an invoker. maxRetries counts total
// attempts, so 3 means the gateway is called at most three times.
func NewStructuredInvoker(gateway Gateway, maxRetries int, retryDelay time.Duration, logger *logging.Logger) *StructuredInvoker {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &StructuredInvoker{
		gateway:    gateway,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Invoke calls the gateway until the response parses into out, the
// retry budget runs out, or a terminal error occurs.
func (s *StructuredInvoker) Invoke(ctx context.Context, req GenerateRequest, out any) error {
	var lastErr error

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx); err != nil {
				return err
			}
		}

		resp, err := s.gateway.Generate(ctx, req)
		if err != nil {
			if scrivenererrors.IsCode(err, scrivenererrors.ErrCodeSafetyBlocked) {
				return err
			}
			if !scrivenererrors.IsRetryable(err) {
				return err
			}
			lastErr = err
			s.logger.Warn(logging.CategoryGateway, "attempt_failed", "call failed, will retry", map[string]any{
				"purpose": req.Purpose,
				"attempt": attempt,
				"error":   err.Error(),
			})
			continue
		}

		payload, ok := ExtractJSON(resp.Text)
		if !ok {
			lastErr = scrivenererrors.New(scrivenererrors.ErrCodeMalformedResponse,
				"no JSON object in response").
				WithContext("purpose", req.Purpose).
				WithRetryable(true)
			s.logger.Warn(logging.CategoryGateway, "extract_failed", "response had no JSON payload", map[string]any{
				"purpose": req.Purpose,
				"attempt": attempt,
			})
			continue
		}

		if err := json.Unmarshal([]byte(payload), out); err != nil {
			lastErr = scrivenererrors.Wrap(err, scrivenererrors.ErrCodeMalformedResponse,
				"response JSON did not match expected shape").
				WithContext("purpose", req.Purpose).
				WithRetryable(true)
			s.logger.Warn(logging.CategoryGateway, "parse_failed", "response JSON did not parse", map[string]any{
				"purpose": req.Purpose,
				"attempt": attempt,
				"error":   err.Error(),
			})
			continue
		}

		return nil
	}

	return scrivenererrors.Wrap(lastErr, scrivenererrors.ErrCodeExhaustedRetries,
		"retry budget exhausted").
		WithContext("purpose", req.Purpose).
		WithContext("attempts", s.maxRetries)
}

func (s *StructuredInvoker) sleep(ctx context.Context) error {
	if s.retryDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(s.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return scrivenererrors.Wrap(ctx.Err(), scrivenererrors.ErrCodeTransportFailure, "retry wait cancelled")
	case <-timer.C:
		return nil
	}
}

// ExtractJSON pulls the outermost JSON value out of model text that
// may be wrapped in prose or markdown fences. Returns false when no
// plausible JSON payload exists.
func ExtractJSON(text string) (string, bool) {
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	start, closer := objStart, "}"
	if objStart < 0 || (arrStart >= 0 && arrStart < objStart) {
		start, closer = arrStart, "]"
	}
	if start < 0 {
		return "", false
	}

	end := strings.LastIndex(text, closer)
	if end <= start {
		return "", false
	}

	return text[start : end+1], true
}

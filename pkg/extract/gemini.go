package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Raos0nu/policy-extract/pkg/dispatch"
)

// GeminiConfig holds the inference client configuration.
type GeminiConfig struct {
	// BaseURL of the generative language API. Defaults to the public one;
	// overridable for tests and proxies.
	BaseURL string

	// Model is the model name used for generateContent.
	Model string

	// Insurer selects the cleaning rules applied to model output.
	Insurer Insurer

	// HTTPTimeout bounds the underlying HTTP client. Per-attempt deadlines
	// come from the dispatcher's context; this is a safety net.
	HTTPTimeout time.Duration
}

// DefaultGeminiConfig returns a default client configuration.
func DefaultGeminiConfig(insurer Insurer) GeminiConfig {
	return GeminiConfig{
		BaseURL:     "https://generativelanguage.googleapis.com",
		Model:       "gemini-2.5-flash",
		Insurer:     insurer,
		HTTPTimeout: 120 * time.Second,
	}
}

// GeminiClient implements dispatch.Inference against the Gemini
// generateContent API. Every failure comes back as a classified error;
// nothing above this client sees provider-specific error shapes.
type GeminiClient struct {
	cfg        GeminiConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewGeminiClient creates an inference client.
func NewGeminiClient(cfg GeminiConfig, logger zerolog.Logger) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 120 * time.Second
	}
	return &GeminiClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger,
	}
}

// generateContent request/response shapes, reduced to what we use.
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Infer calls generateContent with the given credential and returns the
// cleaned, schema-valid payload JSON.
func (c *GeminiClient) Infer(ctx context.Context, prompt string, secret string) ([]byte, error) {
	start := time.Now()

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return nil, dispatch.NewClassifiedError(dispatch.ErrorClassPermanent, 0, "marshal request", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, dispatch.NewClassifiedError(dispatch.ErrorClassPermanent, 0, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, dispatch.NewClassifiedError(dispatch.ErrorClassTransient, 0, "inference call timed out", ctx.Err())
		}
		return nil, dispatch.NewClassifiedError(dispatch.ErrorClassTransient, 0, "inference call failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dispatch.NewClassifiedError(dispatch.ErrorClassTransient, resp.StatusCode, "read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, raw)
	}

	var gr geminiResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, dispatch.NewClassifiedError(dispatch.ErrorClassTransient, resp.StatusCode, "decode response", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return nil, dispatch.NewClassifiedError(dispatch.ErrorClassTransient, resp.StatusCode, "no candidates in response", nil)
	}

	text := gr.Candidates[0].Content.Parts[0].Text

	// Model output may wrap the object in fences or prose; nondeterminism
	// also means a malformed answer can succeed on retry.
	objJSON, err := ExtractJSONObject(text)
	if err != nil {
		return nil, dispatch.NewClassifiedError(dispatch.ErrorClassTransient, resp.StatusCode, "model returned no JSON object", err)
	}
	fields, err := ParsePayload(objJSON)
	if err != nil {
		return nil, dispatch.NewClassifiedError(dispatch.ErrorClassTransient, resp.StatusCode, "model returned invalid JSON", err)
	}

	cleaned := Clean(fields, c.cfg.Insurer)
	payload, err := json.Marshal(cleaned)
	if err != nil {
		return nil, dispatch.NewClassifiedError(dispatch.ErrorClassTransient, resp.StatusCode, "marshal cleaned payload", err)
	}
	if err := ValidatePayload(payload); err != nil {
		return nil, dispatch.NewClassifiedError(dispatch.ErrorClassTransient, resp.StatusCode, "schema validation failed", err)
	}

	c.logger.Debug().
		Str("model", c.cfg.Model).
		Int("prompt_len", len(prompt)).
		Dur("elapsed", time.Since(start)).
		Msg("Inference call succeeded")

	return payload, nil
}

// classifyStatus maps a non-200 Gemini response to a classified error.
// Daily quota and per-minute rate limits both arrive as 429; the body
// distinguishes them.
func classifyStatus(status int, body []byte) *dispatch.ClassifiedError {
	msg := string(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	lower := strings.ToLower(msg)

	switch {
	case status == http.StatusTooManyRequests:
		if strings.Contains(lower, "perday") || strings.Contains(lower, "per day") ||
			strings.Contains(lower, "daily") {
			return dispatch.NewClassifiedError(dispatch.ErrorClassQuotaExhausted, status, msg, nil)
		}
		return dispatch.NewClassifiedError(dispatch.ErrorClassRateLimited, status, msg, nil)

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return dispatch.NewClassifiedError(dispatch.ErrorClassInvalidCredential, status, msg, nil)

	case status == http.StatusBadRequest && strings.Contains(lower, "api_key_invalid"):
		return dispatch.NewClassifiedError(dispatch.ErrorClassInvalidCredential, status, msg, nil)

	case status >= 400 && status < 500:
		return dispatch.NewClassifiedError(dispatch.ErrorClassPermanent, status, msg, nil)

	default:
		return dispatch.NewClassifiedError(dispatch.ErrorClassTransient, status, msg, nil)
	}
}

package reasoning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meridianlabs/pinpoint/internal/circuitbreaker"
	"github.com/meridianlabs/pinpoint/internal/config"
	"github.com/meridianlabs/pinpoint/internal/metrics"
	"github.com/meridianlabs/pinpoint/internal/models"
)

// Default safety categories configured on every call. The threshold is
// uniform; per-category tuning has not been needed.
var safetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// GeminiClient calls a Gemini-style generateContent REST endpoint.
// Construct one at process start and share it; it is stateless apart from
// the rate limiter and circuit breaker, both of which are concurrency-safe.
type GeminiClient struct {
	baseURL    string
	model      string
	apiKey     string
	safety     string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewGeminiClient builds the production client from configuration.
func NewGeminiClient(cfg config.ReasoningConfig, brk config.BreakerConfig, apiKey string, logger *zap.Logger) *GeminiClient {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	bc := circuitbreaker.DefaultConfig()
	if brk.FailureThreshold > 0 {
		bc.FailureThreshold = uint32(brk.FailureThreshold)
	}
	if brk.HalfOpenRequests > 0 {
		bc.HalfOpenRequests = uint32(brk.HalfOpenRequests)
	}
	if brk.ResetTimeoutMs > 0 {
		bc.ResetTimeout = time.Duration(brk.ResetTimeoutMs) * time.Millisecond
	}
	return &GeminiClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     apiKey,
		safety:     cfg.SafetyThreshold,
		maxTokens:  cfg.MaxOutputTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
		breaker:    circuitbreaker.New("reasoning", bc, logger),
		logger:     logger,
	}
}

// Wire-format request types for generateContent.

type generatePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *generateInline `json:"inlineData,omitempty"`
}

type generateInline struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateContent struct {
	Role  string         `json:"role,omitempty"`
	Parts []generatePart `json:"parts"`
}

type generateTool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
	GoogleMaps   *struct{} `json:"googleMaps,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateRequest struct {
	SystemInstruction *generateContent  `json:"systemInstruction,omitempty"`
	Contents          []generateContent `json:"contents"`
	Tools             []generateTool    `json:"tools,omitempty"`
	SafetySettings    []safetySetting   `json:"safetySettings,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason      string `json:"finishReason"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke implements Client. No retries happen here; every failure surfaces
// as one of the typed errors so the retry controller can decide.
func (c *GeminiClient) Invoke(ctx context.Context, req Request) (RawResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return RawResponse{}, fmt.Errorf("reasoning: rate limiter: %w", err)
	}

	start := time.Now()
	var out RawResponse
	var invokeErr error
	brkErr := c.breaker.Execute(func() error {
		out, invokeErr = c.call(ctx, req)
		return invokeErr
	}, countsAgainstBreaker)
	metrics.ReasoningCallDuration.WithLabelValues(outcomeLabel(brkErr)).Observe(time.Since(start).Seconds())

	if brkErr == circuitbreaker.ErrOpen || brkErr == circuitbreaker.ErrTooManyRequests {
		return RawResponse{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, brkErr)
	}
	return out, invokeErr
}

// countsAgainstBreaker treats only availability problems as breaker
// failures. Tool rejections and safety refusals are answers, not outages.
func countsAgainstBreaker(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

func (c *GeminiClient) call(ctx context.Context, req Request) (RawResponse, error) {
	body, err := json.Marshal(c.buildWireRequest(req))
	if err != nil {
		return RawResponse{}, fmt.Errorf("reasoning: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return RawResponse{}, fmt.Errorf("reasoning: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return RawResponse{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return RawResponse{}, fmt.Errorf("%w: read body: %v", ErrServiceUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return RawResponse{}, c.classifyHTTPError(req, resp.StatusCode, payload)
	}

	var decoded generateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return RawResponse{}, fmt.Errorf("%w: undecodable body: %v", ErrServiceUnavailable, err)
	}
	return extractResponse(decoded)
}

func (c *GeminiClient) buildWireRequest(req Request) generateRequest {
	parts := make([]generatePart, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, generatePart{InlineData: &generateInline{
			MimeType: img.MediaType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}
	parts = append(parts, generatePart{Text: req.Prompt})

	var tools []generateTool
	for _, t := range req.Tools {
		switch t {
		case ToolWebSearch:
			tools = append(tools, generateTool{GoogleSearch: &struct{}{}})
		case ToolMapLookup:
			tools = append(tools, generateTool{GoogleMaps: &struct{}{}})
		}
	}

	threshold := req.SafetyThreshold
	if threshold == "" {
		threshold = c.safety
	}
	settings := make([]safetySetting, 0, len(safetyCategories))
	for _, cat := range safetyCategories {
		settings = append(settings, safetySetting{Category: cat, Threshold: threshold})
	}

	wire := generateRequest{
		Contents:         []generateContent{{Role: "user", Parts: parts}},
		Tools:            tools,
		SafetySettings:   settings,
		GenerationConfig: &generationConfig{Temperature: 0.2, MaxOutputTokens: c.maxTokens},
	}
	if req.Instruction != "" {
		wire.SystemInstruction = &generateContent{Parts: []generatePart{{Text: req.Instruction}}}
	}
	return wire
}

// classifyHTTPError maps a non-200 answer onto the typed error set. This
// is the only place vendor error text is inspected; callers never see it.
func (c *GeminiClient) classifyHTTPError(req Request, status int, payload []byte) error {
	var ae apiError
	_ = json.Unmarshal(payload, &ae)

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: http %d: %s", ErrServiceUnavailable, status, ae.Error.Message)
	case status == http.StatusBadRequest && ae.Error.Status == "INVALID_ARGUMENT":
		if tool, ok := rejectedTool(req, ae.Error.Message); ok {
			return &ToolInputRejectedError{Tool: tool, Detail: ae.Error.Message}
		}
	}
	return fmt.Errorf("reasoning: http %d: %s", status, ae.Error.Message)
}

// rejectedTool resolves which enabled tool an INVALID_ARGUMENT answer is
// complaining about. Coordinate and maps wording points at the map tool.
func rejectedTool(req Request, message string) (Tool, bool) {
	m := strings.ToLower(message)
	if req.HasTool(ToolMapLookup) &&
		(strings.Contains(m, "maps") || strings.Contains(m, "coordinate") ||
			strings.Contains(m, "latitude") || strings.Contains(m, "longitude")) {
		return ToolMapLookup, true
	}
	if req.HasTool(ToolWebSearch) && strings.Contains(m, "search") {
		return ToolWebSearch, true
	}
	if strings.Contains(m, "tool") && len(req.Tools) > 0 {
		return req.Tools[0], true
	}
	return "", false
}

func extractResponse(decoded generateResponse) (RawResponse, error) {
	if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
		return RawResponse{}, ErrEmptyResponse
	}
	if len(decoded.Candidates) == 0 {
		return RawResponse{}, ErrEmptyResponse
	}

	cand := decoded.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return RawResponse{}, ErrEmptyResponse
	}

	var sources []models.Source
	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web != nil && chunk.Web.URI != "" {
				sources = append(sources, models.Source{Title: chunk.Web.Title, URI: chunk.Web.URI})
			}
		}
	}
	return RawResponse{Text: text.String(), Sources: sources}, nil
}

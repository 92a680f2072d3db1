package reasoning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianlabs/pinpoint/internal/config"
	"github.com/meridianlabs/pinpoint/internal/models"
)

func testClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Defaults()
	cfg.Reasoning.BaseURL = srv.URL
	cfg.Reasoning.Model = "test-model"
	cfg.Reasoning.RequestsPerMinute = 6000
	cfg.Reasoning.Burst = 100
	return NewGeminiClient(cfg.Reasoning, cfg.Breaker, "test-key", zap.NewNop())
}

func candidateBody(text string) string {
	body, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	})
	return string(body)
}

func sampleRequest() Request {
	return Request{
		Images:      []models.ImagePayload{{Data: []byte("fakejpeg"), MediaType: "image/jpeg"}},
		Instruction: "You analyze photographs.",
		Prompt:      "Where was this taken?",
		Tools:       []Tool{ToolWebSearch, ToolMapLookup},
	}
}

func TestInvokeSuccess(t *testing.T) {
	var got generateRequest
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{
			"candidates": [{
				"content": {"parts": [{"text": "{\"locationName\":\"Porto\"}"}]},
				"groundingMetadata": {"groundingChunks": [
					{"web": {"uri": "https://example.com/porto", "title": "Porto guide"}},
					{"web": null}
				]}
			}]
		}`))
	})

	resp, err := client.Invoke(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "Porto")
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "https://example.com/porto", resp.Sources[0].URI)

	// Wire shape: one user turn carrying the image then the prompt, both
	// tools enabled, system instruction set.
	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 2)
	assert.NotNil(t, got.Contents[0].Parts[0].InlineData)
	assert.Equal(t, "image/jpeg", got.Contents[0].Parts[0].InlineData.MimeType)
	assert.Equal(t, "Where was this taken?", got.Contents[0].Parts[1].Text)
	assert.Len(t, got.Tools, 2)
	require.NotNil(t, got.SystemInstruction)
	assert.NotEmpty(t, got.SafetySettings)
}

func TestInvokeServerErrorIsUnavailable(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":503,"status":"UNAVAILABLE","message":"overloaded"}}`, http.StatusServiceUnavailable)
	})
	_, err := client.Invoke(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestInvokeRateLimitedIsUnavailable(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"quota"}}`, http.StatusTooManyRequests)
	})
	_, err := client.Invoke(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestInvokeNoCandidatesIsEmptyResponse(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	})
	_, err := client.Invoke(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestInvokeBlockedPromptIsEmptyResponse(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"promptFeedback": {"blockReason": "SAFETY"}}`))
	})
	_, err := client.Invoke(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestInvokeBlankTextIsEmptyResponse(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(candidateBody("   \n")))
	})
	_, err := client.Invoke(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestInvokeMapRejection(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"Invalid coordinates supplied to maps grounding"}}`, http.StatusBadRequest)
	})
	_, err := client.Invoke(context.Background(), sampleRequest())
	rej, ok := IsToolRejected(err)
	require.True(t, ok)
	assert.Equal(t, ToolMapLookup, rej.Tool)
	assert.Contains(t, rej.Detail, "coordinates")
}

func TestInvokeMapRejectionIgnoredWhenToolAbsent(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"latitude out of range"}}`, http.StatusBadRequest)
	})
	req := sampleRequest().WithoutTool(ToolMapLookup)
	_, err := client.Invoke(context.Background(), req)
	_, ok := IsToolRejected(err)
	assert.False(t, ok)
	assert.NotErrorIs(t, err, ErrServiceUnavailable)
}

func TestInvokeTextOnlyOmitsInlineData(t *testing.T) {
	var got generateRequest
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(candidateBody("{}")))
	})

	_, err := client.Invoke(context.Background(), sampleRequest().TextOnly())
	require.NoError(t, err)
	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 1)
	assert.Nil(t, got.Contents[0].Parts[0].InlineData)
}

func TestBreakerOpensAfterRepeatedOutages(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":500,"status":"INTERNAL","message":"boom"}}`, http.StatusInternalServerError)
	})

	// Default breaker threshold is 5 consecutive availability failures.
	for i := 0; i < 5; i++ {
		_, err := client.Invoke(context.Background(), sampleRequest())
		assert.ErrorIs(t, err, ErrServiceUnavailable)
	}
	_, err := client.Invoke(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

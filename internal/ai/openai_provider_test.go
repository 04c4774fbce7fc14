package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amishk599/jobpipe/internal/model"
)

func makeTestServer(t *testing.T, statusCode int, body any) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if statusCode == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "12")
		}
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, srv.Client()
}

func okResponse(content string) chatResponse {
	return chatResponse{
		Model:   "gpt-4o-mini-2024-07-18",
		Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: content}}},
		Usage:   chatUsage{PromptTokens: 1200, CompletionTokens: 150},
	}
}

func TestComplete_Success(t *testing.T) {
	srv, client := makeTestServer(t, http.StatusOK, okResponse(`{"job_family":"data"}`))

	provider := NewOpenAIProvider(srv.URL, "test-key", "gpt-4o-mini", client)
	got, err := provider.Complete(context.Background(), Request{Prompt: "classify this"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != `{"job_family":"data"}` {
		t.Errorf("Text = %q", got.Text)
	}
	if got.InputTokens != 1200 || got.OutputTokens != 150 {
		t.Errorf("tokens = %d/%d, want 1200/150", got.InputTokens, got.OutputTokens)
	}
	if got.Model != "gpt-4o-mini-2024-07-18" {
		t.Errorf("Model = %q, want the served model", got.Model)
	}
}

func TestComplete_HTTPErrorIsTyped(t *testing.T) {
	srv, client := makeTestServer(t, http.StatusInternalServerError, map[string]string{"error": "server error"})

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", client)
	_, err := provider.Complete(context.Background(), Request{Prompt: "x"})
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected HTTPError 500, got %v", err)
	}
}

func TestComplete_RateLimitedCarriesRetryAfter(t *testing.T) {
	srv, client := makeTestServer(t, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", client)
	_, err := provider.Complete(context.Background(), Request{Prompt: "x"})
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.RetryAfter != 12*time.Second {
		t.Errorf("RetryAfter = %v, want 12s", httpErr.RetryAfter)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv, client := makeTestServer(t, http.StatusOK, chatResponse{})

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", client)
	if _, err := provider.Complete(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error when LLM returns no choices")
	}
}

func TestComplete_SetsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(okResponse("{}"))
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(srv.URL, "my-secret-key", "test-model", srv.Client())
	_, _ = provider.Complete(context.Background(), Request{Prompt: "hello"})

	if gotAuth != "Bearer my-secret-key" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer my-secret-key")
	}
}

func TestComplete_SendsStructuredOutputFormat(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(okResponse("{}"))
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(srv.URL, "key", "gpt-4o-mini", srv.Client())
	_, _ = provider.Complete(context.Background(), Request{
		System:     systemPrompt,
		Prompt:     "classify this",
		SchemaName: classificationName,
		Schema:     providerSchema(),
	})

	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_schema" {
		t.Fatalf("response_format = %+v, want json_schema", gotReq.ResponseFormat)
	}
	if gotReq.ResponseFormat.JSONSchema.Name != classificationName || !gotReq.ResponseFormat.JSONSchema.Strict {
		t.Errorf("json_schema = %+v", gotReq.ResponseFormat.JSONSchema)
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[0].Content != systemPrompt {
		t.Errorf("system message = %+v", gotReq.Messages[0])
	}
	if gotReq.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", gotReq.Temperature)
	}
}

func TestComplete_WithoutSchemaUsesJSONObjectMode(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(okResponse("{}"))
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(srv.URL, "key", "gpt-4o-mini", srv.Client())
	_, _ = provider.Complete(context.Background(), Request{Prompt: "Return JSON"})

	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" || gotReq.ResponseFormat.JSONSchema != nil {
		t.Errorf("response_format = %+v, want json_object", gotReq.ResponseFormat)
	}
}

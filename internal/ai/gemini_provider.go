package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/amishk599/jobpipe/internal/model"
)

// contentGenerator is the part of *genai.GenerativeModel the provider uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiProvider calls Google Gemini in JSON mode. Gemini has no strict
// schema enforcement here, so the caller validates every response.
type GeminiProvider struct {
	client    *genai.Client
	generator contentGenerator
	model     string
}

// NewGeminiProvider creates a Gemini client for modelName.
func NewGeminiProvider(ctx context.Context, apiKey, modelName string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	gm := client.GenerativeModel(modelName)
	gm.SetTemperature(0.1)
	gm.ResponseMIMEType = "application/json"
	gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	return &GeminiProvider{client: client, generator: gm, model: modelName}, nil
}

func (p *GeminiProvider) Name() string  { return "gemini" }
func (p *GeminiProvider) Model() string { return p.model }

// Complete sends the prompt and returns the joined text parts. The system
// instruction is fixed at construction, so req.System is ignored.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	resp, err := p.generator.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return Completion{}, mapGeminiError(err)
	}

	text, err := extractText(resp)
	if err != nil {
		return Completion{}, err
	}

	out := Completion{Text: cleanJSONBlock(text), Model: p.model}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// mapGeminiError turns gRPC status codes into HTTPErrors so retry decisions
// treat both providers alike.
func mapGeminiError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("gemini generate: %w", err)
	}
	var code int
	switch st.Code() {
	case codes.ResourceExhausted:
		code = http.StatusTooManyRequests
	case codes.Unavailable, codes.Internal, codes.Unknown:
		code = http.StatusServiceUnavailable
	case codes.InvalidArgument, codes.FailedPrecondition:
		code = http.StatusBadRequest
	case codes.Unauthenticated, codes.PermissionDenied:
		code = http.StatusForbidden
	case codes.NotFound:
		code = http.StatusNotFound
	default:
		return fmt.Errorf("gemini generate: %w", err)
	}
	return &model.HTTPError{StatusCode: code, Err: fmt.Errorf("gemini generate: %w", err)}
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini: no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("gemini: no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

// cleanJSONBlock removes markdown code fences some models wrap JSON in.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

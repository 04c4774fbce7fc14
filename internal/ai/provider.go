package ai

import (
	"context"
	"time"
)

// Request is one structured completion call. Schema, when set, is sent to
// providers that can enforce it server-side.
type Request struct {
	System     string
	Prompt     string
	SchemaName string
	Schema     map[string]any
}

// Completion is the raw text a provider returned plus its token usage.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// LLMProvider sends a prompt to an LLM and returns the raw text response.
type LLMProvider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (Completion, error)
}

// Pricing is a provider's list price in USD per million tokens.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost returns the USD cost of a call with the given token counts.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*p.InputPerMTok + float64(outputTokens)*p.OutputPerMTok) / 1_000_000
}

// Backend is a provider together with what it costs and how long a call may take.
type Backend struct {
	Provider LLMProvider
	Pricing  Pricing
	Timeout  time.Duration
}

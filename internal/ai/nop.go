package ai

import "context"

// NopClassifier is used when llm.enabled is false. Records stay pending so a
// later reclassify pass can pick them up.
type NopClassifier struct{}

// NewNopClassifier returns a NopClassifier.
func NewNopClassifier() *NopClassifier {
	return &NopClassifier{}
}

// Classify makes no provider calls and returns an empty Outcome.
func (n *NopClassifier) Classify(_ context.Context, _ Input) (Outcome, error) {
	return Outcome{}, nil
}

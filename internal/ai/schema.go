package ai

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/classification.json
var classificationSchemaRaw []byte

var loadClassificationSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(classificationSchemaRaw))
})

// ValidationError lists every field of an LLM response that broke the
// output contract.
type ValidationError struct {
	Errors []FieldError
}

// FieldError is a single violation at a JSON path.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	parts := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// ParseError means the response was not JSON at all.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("response is not valid JSON: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// ValidateClassification checks raw against the closed classification
// schema. It returns *ParseError for non-JSON and *ValidationError for
// contract violations.
func ValidateClassification(raw []byte) error {
	schema, err := loadClassificationSchema()
	if err != nil {
		return fmt.Errorf("load classification schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &ParseError{Err: err}
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		verr.Errors = append(verr.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return verr
}

// Subfamilies lists the subfamily codes allowed under each job family.
var Subfamilies = map[string][]string{
	"data":         {"data_engineering", "analytics_engineering", "data_analyst", "data_scientist", "ml_engineer", "data_architect", "bi"},
	"product":      {"product_manager", "technical_pm", "product_owner", "growth_pm", "ai_ml_pm"},
	"delivery":     {"delivery_manager", "project_manager", "programme_manager", "scrum_master"},
	"out_of_scope": nil,
}

func nullable(t string) []string { return []string{t, "null"} }

// providerSchema is the flattened form sent to providers that enforce a
// schema server-side. Strict structured outputs cannot express the
// family-conditioned subfamily, so the full check runs locally afterwards.
func providerSchema() map[string]any {
	var subfamilies []any
	for _, family := range []string{"data", "product", "delivery"} {
		for _, s := range Subfamilies[family] {
			subfamilies = append(subfamilies, s)
		}
	}
	subfamilies = append(subfamilies, nil)

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"job_family":          map[string]any{"type": "string", "enum": []string{"data", "product", "delivery", "out_of_scope"}},
			"job_subfamily":       map[string]any{"type": nullable("string"), "enum": subfamilies},
			"seniority":           map[string]any{"type": "string", "enum": []string{"junior", "mid", "senior", "staff_principal", "director_plus", "unknown"}},
			"track":               map[string]any{"type": "string", "enum": []string{"ic", "management", "unknown"}},
			"working_arrangement": map[string]any{"type": "string", "enum": []string{"onsite", "hybrid", "remote", "flexible", "unknown"}},
			"compensation": map[string]any{
				"anyOf": []any{
					map[string]any{"type": "null"},
					map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"properties": map[string]any{
							"min":      map[string]any{"type": nullable("number")},
							"max":      map[string]any{"type": nullable("number")},
							"currency": map[string]any{"type": nullable("string")},
							"period":   map[string]any{"type": nullable("string"), "enum": []any{"annual", "monthly", "daily", "hourly", nil}},
						},
						"required": []string{"min", "max", "currency", "period"},
					},
				},
			},
			"skills":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"summary":           map[string]any{"type": "string"},
			"is_agency":         map[string]any{"type": nullable("boolean")},
			"agency_confidence": map[string]any{"type": nullable("string"), "enum": []any{"high", "medium", "low", nil}},
		},
		"required": []string{
			"job_family", "job_subfamily", "seniority", "track", "working_arrangement",
			"compensation", "skills", "summary", "is_agency", "agency_confidence",
		},
	}
}

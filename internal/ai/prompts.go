package ai

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"
	"unicode/utf8"

	"github.com/amishk599/jobpipe/internal/model"
)

//go:embed prompts/classify.md
var classifyPromptRaw string

//go:embed prompts/classify_simple.md
var classifySimplePromptRaw string

// Parsed once at package init; reused on every call.
var (
	classifyTemplate       = template.Must(template.New("classify").Parse(classifyPromptRaw))
	classifySimpleTemplate = template.Must(template.New("classify_simple").Parse(classifySimplePromptRaw))
)

const (
	systemPrompt       = "You are a precise structured data extractor for job postings. You only report what the text states."
	truncationMarker   = "\n[... description truncated]"
	classificationName = "job_classification"
)

type promptData struct {
	Title       string
	Employer    string
	Location    string
	Description string
	Truncated   bool
}

// truncateDescription caps text at maxChars runes and appends an explicit marker.
func truncateDescription(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChars]) + truncationMarker
}

func renderPrompt(in Input, maxChars int, simple bool) (string, error) {
	tmpl := classifyTemplate
	if simple {
		tmpl = classifySimpleTemplate
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, promptData{
		Title:       in.Title,
		Employer:    in.Employer,
		Location:    in.Location,
		Description: truncateDescription(in.Description, maxChars),
		Truncated:   in.Quality == model.QualityTruncated,
	}); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

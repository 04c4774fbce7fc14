// Package normalize converts source-native payloads into the shared
// NormalizedPosting shape. It never touches the network.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/amishk599/jobpipe/internal/adapter"
	"github.com/amishk599/jobpipe/internal/model"
)

var validate = validator.New()

// Normalize converts one payload variant. Any payload that lacks a title,
// company, or a valid posting URL yields a *model.MalformedSourcePayloadError.
func Normalize(p model.Payload) (model.NormalizedPosting, error) {
	var np model.NormalizedPosting
	switch v := p.(type) {
	case adapter.AdzunaPayload:
		np = fromAdzuna(v)
	case adapter.GreenhousePayload:
		np = fromGreenhouse(v)
	case adapter.LeverPayload:
		np = fromLever(v)
	default:
		src := model.Source("")
		if p != nil {
			src = p.Source()
		}
		return model.NormalizedPosting{}, &model.MalformedSourcePayloadError{
			Source: src,
			Reason: fmt.Sprintf("unsupported payload type %T", p),
		}
	}

	if err := validate.Struct(np); err != nil {
		return model.NormalizedPosting{}, &model.MalformedSourcePayloadError{
			Source: np.Source,
			Reason: describe(np),
			Err:    err,
		}
	}
	return np, nil
}

// Failure is a payload that could not be normalized.
type Failure struct {
	Index int
	Err   error
}

// Batch normalizes every payload. Malformed payloads are reported as
// failures and do not stop the rest of the batch.
func Batch(payloads []model.Payload) ([]model.NormalizedPosting, []Failure) {
	out := make([]model.NormalizedPosting, 0, len(payloads))
	var failures []Failure
	for i, p := range payloads {
		np, err := Normalize(p)
		if err != nil {
			failures = append(failures, Failure{Index: i, Err: err})
			continue
		}
		out = append(out, np)
	}
	return out, failures
}

func fromAdzuna(v adapter.AdzunaPayload) model.NormalizedPosting {
	return model.NormalizedPosting{
		Source:             model.SourceAggregator,
		SourceJobID:        optional(v.ID),
		Title:              clean(v.Title),
		CompanyName:        clean(v.Company.DisplayName),
		LocationText:       clean(v.Location.DisplayName),
		DescriptionText:    adapter.ExtractText(v.Description),
		DescriptionQuality: model.QualityTruncated,
		PostingURL:         strings.TrimSpace(v.RedirectURL),
		PostedAt:           parseTime(v.Created),
	}
}

func fromGreenhouse(v adapter.GreenhousePayload) model.NormalizedPosting {
	posted := parseTime(v.FirstPublished)
	if posted == nil {
		posted = parseTime(v.UpdatedAt)
	}
	var id *string
	if v.ID != 0 {
		id = optional(strconv.FormatInt(v.ID, 10))
	}
	return model.NormalizedPosting{
		Source:             model.SourceATSA,
		SourceJobID:        id,
		Title:              clean(v.Title),
		CompanyName:        clean(v.Company),
		LocationText:       clean(v.Location.Name),
		DescriptionText:    adapter.ExtractText(v.Content),
		DescriptionQuality: model.QualityFull,
		PostingURL:         strings.TrimSpace(v.AbsoluteURL),
		PostedAt:           posted,
	}
}

func fromLever(v adapter.LeverPayload) model.NormalizedPosting {
	location := v.Categories.Location
	if len(v.Categories.AllLocations) > 0 {
		location = strings.Join(v.Categories.AllLocations, ", ")
	}
	if v.WorkplaceType == "remote" && !strings.Contains(strings.ToLower(location), "remote") {
		location = strings.TrimPrefix(location+", Remote", ", ")
	}

	desc := strings.TrimSpace(v.DescriptionPlain)
	if desc == "" {
		desc = adapter.ExtractText(v.Description)
	}
	if extra := strings.TrimSpace(v.Additional); extra != "" {
		desc += "\n\n" + extra
	}

	var posted *time.Time
	if v.CreatedAt > 0 {
		t := time.UnixMilli(v.CreatedAt).UTC()
		posted = &t
	}
	return model.NormalizedPosting{
		Source:             model.SourceATSB,
		SourceJobID:        optional(v.ID),
		Title:              clean(v.Text),
		CompanyName:        clean(v.Company),
		LocationText:       clean(location),
		DescriptionText:    desc,
		DescriptionQuality: model.QualityFull,
		PostingURL:         strings.TrimSpace(v.HostedURL),
		PostedAt:           posted,
	}
}

// describe names the first missing required field for the log line.
func describe(np model.NormalizedPosting) string {
	switch {
	case np.Title == "":
		return "missing title"
	case np.CompanyName == "":
		return "missing company"
	case np.PostingURL == "":
		return "missing posting url"
	}
	return "invalid field"
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

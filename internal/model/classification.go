package model

import "time"

// Skill is a skill explicitly named in a posting. FamilyCode is nil when the
// ontology has no mapping for it yet.
type Skill struct {
	Name       string  `json:"name"`
	FamilyCode *string `json:"family_code"`
}

// Compensation is only set when the posting text states a number.
type Compensation struct {
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
	Currency string   `json:"currency,omitempty"`
	Period   string   `json:"period,omitempty"`
}

// ClassificationResult is the validated LLM output mapped onto the taxonomy.
type ClassificationResult struct {
	JobFamily          string        `json:"job_family"`
	JobSubfamily       *string       `json:"job_subfamily"`
	Seniority          string        `json:"seniority"`
	Track              string        `json:"track"`
	WorkingArrangement string        `json:"working_arrangement"`
	Compensation       *Compensation `json:"compensation"`
	Skills             []Skill       `json:"skills"`
	Summary            string        `json:"summary"`
	IsAgency           *bool         `json:"is_agency"`
	AgencyConfidence   *string       `json:"agency_confidence"`
	Provider           string        `json:"provider"`
	Model              string        `json:"model"`
}

// ClassificationAttempt is one provider call. Attempts are appended to an
// attempt log so cost and provider-health aggregates can be derived later.
type ClassificationAttempt struct {
	JobHash           string
	Provider          string
	Model             string
	Latency           time.Duration
	InputTokens       int
	OutputTokens      int
	Cost              float64
	ParseSuccess      bool
	FallbackTriggered bool
	Error             string
	At                time.Time
}

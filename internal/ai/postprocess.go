package ai

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/amishk599/jobpipe/internal/model"
)

const maxSummaryRunes = 400

// rawClassification is the JSON shape the providers return.
type rawClassification struct {
	JobFamily          string           `json:"job_family"`
	JobSubfamily       *string          `json:"job_subfamily"`
	Seniority          string           `json:"seniority"`
	Track              string           `json:"track"`
	WorkingArrangement string           `json:"working_arrangement"`
	Compensation       *rawCompensation `json:"compensation"`
	Skills             []string         `json:"skills"`
	Summary            string           `json:"summary"`
	IsAgency           *bool            `json:"is_agency"`
	AgencyConfidence   *string          `json:"agency_confidence"`
}

type rawCompensation struct {
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
	Currency *string  `json:"currency"`
	Period   *string  `json:"period"`
}

// salaryFigure matches an explicitly stated pay number: a currency symbol
// or code next to digits, a "k" amount, a per-period rate, or a
// thousands-sized amount shortly after a pay keyword.
var salaryFigure = regexp.MustCompile(`(?i)` +
	`[£$€]\s?\d` +
	`|\b(?:gbp|eur|usd)\s?\d` +
	`|\b\d{2,3}(?:\.\d)?\s?k\b` +
	`|\b\d[\d,.]*\s?(?:per|/|an|a)\s?(?:hour|hr|day|week|month|annum|year)\b` +
	`|\b(?:salary|compensation|pay|rate|ote)\b[^.\n]{0,40}?\b(?:\d{1,3}(?:,\d{3})+|\d{4,})\b`)

// amount matches a number as written in prose: 60000, 60,000, 60.5k.
var amount = regexp.MustCompile(`(?i)(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)(\s?k\b)?`)

// statedAmounts returns every number in text, with "k" amounts scaled.
func statedAmounts(text string) map[float64]bool {
	out := make(map[float64]bool)
	for _, m := range amount.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		if m[2] != "" {
			v *= 1000
		}
		out[v] = true
	}
	return out
}

type titleLevel struct {
	seniority string
	phrases   []string
}

// Checked in order, so "Senior Director" resolves to director_plus.
var titleLevels = []titleLevel{
	{"director_plus", []string{"director", "head of", "vp", "vice president", "chief", "cto", "cdo", "cpo"}},
	{"staff_principal", []string{"staff", "principal"}},
	{"senior", []string{"senior", "sr", "snr", "lead"}},
	{"mid", []string{"mid", "intermediate"}},
	{"junior", []string{"junior", "jr", "jnr", "graduate", "entry level", "trainee"}},
}

// postProcessor enforces the rules the LLM cannot be trusted with.
type postProcessor struct {
	ontology *SkillOntology
	logger   *slog.Logger
}

func (pp *postProcessor) apply(in Input, raw rawClassification) *model.ClassificationResult {
	res := &model.ClassificationResult{
		JobFamily:          raw.JobFamily,
		JobSubfamily:       raw.JobSubfamily,
		Seniority:          raw.Seniority,
		Track:              raw.Track,
		WorkingArrangement: raw.WorkingArrangement,
		Summary:            clipRunes(strings.TrimSpace(raw.Summary), maxSummaryRunes),
		IsAgency:           raw.IsAgency,
		AgencyConfidence:   raw.AgencyConfidence,
	}

	if res.JobFamily == "out_of_scope" {
		res.JobSubfamily = nil
	}
	if level := TitleSeniority(in.Title); level != "" {
		res.Seniority = level
	}
	if res.Seniority == "" {
		res.Seniority = "unknown"
	}
	if res.Track == "" {
		res.Track = "unknown"
	}
	if res.IsAgency == nil {
		res.AgencyConfidence = nil
	}

	res.Compensation = pp.compensation(in, raw.Compensation)

	if in.Quality == model.QualityTruncated {
		res.WorkingArrangement = "unknown"
		res.Skills = []model.Skill{}
		return res
	}
	if res.WorkingArrangement == "" {
		res.WorkingArrangement = "unknown"
	}
	res.Skills = pp.skills(in, raw.Skills)
	return res
}

// compensation keeps the LLM's figure only when the text states a pay
// number and at least one returned bound is among the numbers written there.
func (pp *postProcessor) compensation(in Input, raw *rawCompensation) *model.Compensation {
	if raw == nil || (raw.Min == nil && raw.Max == nil) {
		return nil
	}
	if !HasSalaryFigure(in.Description) {
		pp.logger.Debug("dropping compensation without a stated figure", "job_hash", in.JobHash)
		return nil
	}
	stated := statedAmounts(in.Description)
	if !lo.SomeBy([]*float64{raw.Min, raw.Max}, func(v *float64) bool { return v != nil && stated[*v] }) {
		pp.logger.Debug("dropping compensation not found in the text", "job_hash", in.JobHash)
		return nil
	}
	c := &model.Compensation{Min: raw.Min, Max: raw.Max}
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		c.Min, c.Max = c.Max, c.Min
	}
	if raw.Currency != nil {
		c.Currency = strings.ToUpper(*raw.Currency)
	}
	if raw.Period != nil {
		c.Period = *raw.Period
	}
	return c
}

// skills keeps names that appear in the posting and maps them onto the
// ontology. Unmapped names stay with a nil family code.
func (pp *postProcessor) skills(in Input, names []string) []model.Skill {
	haystack := strings.ToLower(in.Title + "\n" + in.Description)

	named := lo.Filter(names, func(name string, _ int) bool {
		return strings.TrimSpace(name) != "" && mentions(haystack, foldSkill(name))
	})
	named = lo.UniqBy(named, foldSkill)

	out := make([]model.Skill, 0, len(named))
	for _, name := range named {
		skill := model.Skill{Name: strings.TrimSpace(name), FamilyCode: pp.ontology.Lookup(name)}
		if skill.FamilyCode == nil {
			pp.logger.Info("skill ontology candidate", "skill", skill.Name, "job_hash", in.JobHash)
		}
		out = append(out, skill)
	}
	return out
}

// TitleSeniority returns the level a title states outright, or "".
func TitleSeniority(title string) string {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	padded := " " + strings.Join(words, " ") + " "
	for _, lvl := range titleLevels {
		for _, p := range lvl.phrases {
			if strings.Contains(padded, " "+p+" ") {
				return lvl.seniority
			}
		}
	}
	return ""
}

// HasSalaryFigure reports whether text states an explicit pay number.
func HasSalaryFigure(text string) bool {
	return salaryFigure.MatchString(text)
}

// mentions reports whether needle occurs in haystack with no letter or
// digit directly on either side. Both must already be lowercase.
func mentions(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)
		before, _ := utf8.DecodeLastRuneInString(haystack[:start])
		after, _ := utf8.DecodeRuneInString(haystack[end:])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		from = start + 1
	}
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

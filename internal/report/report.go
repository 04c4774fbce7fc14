// Package report renders run summaries for the terminal.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/amishk599/jobpipe/internal/ai"
	"github.com/amishk599/jobpipe/internal/liveness"
	"github.com/amishk599/jobpipe/internal/model"
	"github.com/amishk599/jobpipe/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(24)

	valueStyle = lipgloss.NewStyle().Bold(true)

	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))

	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerCell  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cell        = lipgloss.NewStyle().Padding(0, 1)
)

type row struct {
	label string
	value string
	fail  bool
}

func rows(rs []row) string {
	var b strings.Builder
	for _, r := range rs {
		st := valueStyle
		if r.fail {
			st = failStyle
		}
		b.WriteString(labelStyle.Render(r.label))
		b.WriteString(st.Render(r.value))
		b.WriteByte('\n')
	}
	return b.String()
}

func count(label string, n int, isFailure bool) row {
	return row{label: label, value: fmt.Sprint(n), fail: isFailure && n > 0}
}

func verdict(err error) string {
	if err != nil {
		return failStyle.Render("✗ " + err.Error())
	}
	return okStyle.Render("✓ no failures")
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(r, _ int) lipgloss.Style {
			if r == table.HeaderRow {
				return headerCell
			}
			return cell
		})
}

// Batch renders one ingestion batch.
func Batch(r *pipeline.BatchReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Batch %s (%s) in %s", r.Name, r.Source, r.Duration.Round(1e6))))
	b.WriteByte('\n')
	b.WriteString(rows([]row{
		count("fetched", r.Fetched, false),
		count("malformed", r.Malformed, true),
		count("filtered (title)", r.FilteredTitle, false),
		count("filtered (location)", r.FilteredLocation, false),
		count("filtered (agency)", r.FilteredAgency, false),
		count("new", r.New, false),
		count("repeat", r.Repeat, false),
		count("merged", r.Merged, false),
		count("merged (upgraded)", r.MergedUpgraded, false),
		count("integrity violations", r.IntegrityViolations, true),
		count("classified", r.Classified, false),
		count("classification failed", r.ClassificationFailed, true),
		count("superseded", r.Superseded, false),
		count("store errors", r.StoreErrors, true),
		{label: "llm cost", value: fmt.Sprintf("$%.4f", r.Cost)},
	}))
	b.WriteString(verdict(r.Err()))
	b.WriteByte('\n')
	return b.String()
}

// Validation renders one URL liveness pass.
func Validation(r liveness.ValidationReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("URL validation in %s", r.Duration.Round(1e6))))
	b.WriteByte('\n')
	b.WriteString(rows([]row{
		count("selected", r.Selected, false),
		count("checked", r.Checked, false),
		count("newly closed", r.NewlyClosed, false),
		count("browser escalations", r.Escalated, false),
		count("skipped", r.Skipped, false),
		count("store errors", r.StoreErrors, true),
	}))

	statuses := make([]string, 0, len(r.ByStatus))
	for s := range r.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	if len(statuses) > 0 {
		t := newTable("status", "records")
		for _, s := range statuses {
			t.Row(s, fmt.Sprint(r.ByStatus[model.URLStatus(s)]))
		}
		b.WriteString(t.Render())
		b.WriteByte('\n')
	}
	b.WriteString(verdict(r.Err()))
	b.WriteByte('\n')
	return b.String()
}

// Costs renders the attempt-log cost summary.
func Costs(s ai.CostSummary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("LLM cost"))
	b.WriteByte('\n')
	b.WriteString(rows([]row{
		{label: "total", value: fmt.Sprintf("$%.4f", s.TotalCost)},
		count("attempts", s.Attempts, false),
		count("jobs", s.Jobs, false),
		count("classified jobs", s.ClassifiedJobs, false),
		{label: "cost per job", value: fmt.Sprintf("$%.5f", s.CostPerJob)},
		{label: "cost per classified job", value: fmt.Sprintf("$%.5f", s.CostPerClassifiedJob)},
		{label: "fallback rate", value: fmt.Sprintf("%.1f%%", s.FallbackRate*100)},
	}))
	if len(s.Providers) > 0 {
		t := newTable("provider", "attempts", "parse fail", "tokens in", "tokens out", "avg latency", "cost")
		for _, p := range s.Providers {
			t.Row(
				p.Provider,
				fmt.Sprint(p.Attempts),
				fmt.Sprintf("%.1f%%", p.ParseFailureRate()*100),
				fmt.Sprint(p.InputTokens),
				fmt.Sprint(p.OutputTokens),
				p.AvgLatency.Round(1e6).String(),
				fmt.Sprintf("$%.4f", p.Cost),
			)
		}
		b.WriteString(t.Render())
		b.WriteByte('\n')
	}
	return b.String()
}

// Feed renders active records, newest first as given.
func Feed(recs []model.CanonicalRecord) string {
	if len(recs) == 0 {
		return "no active records\n"
	}
	t := newTable("employer", "title", "scope", "family", "seniority", "url status", "last seen")
	for _, r := range recs {
		family, seniority := "pending", ""
		if c := r.Classification; c != nil {
			family, seniority = c.JobFamily, c.Seniority
		}
		t.Row(
			r.EmployerName,
			r.TitleDisplay,
			string(r.ScopeKind)+":"+r.CityCode,
			family,
			seniority,
			string(r.URLStatus),
			r.LastSeenDate.Format("2006-01-02"),
		)
	}
	return t.Render() + "\n" + fmt.Sprintf("%d records\n", len(recs))
}

// Reviews renders the operator review queue.
func Reviews(items []model.ReviewItem) string {
	if len(items) == 0 {
		return okStyle.Render("review queue is empty") + "\n"
	}
	t := newTable("when", "kind", "job", "detail")
	for _, it := range items {
		job := it.JobHash
		if len(job) > 12 {
			job = job[:12]
		}
		if it.Title != "" {
			job = fmt.Sprintf("%s (%s at %s)", job, it.Title, it.Employer)
		}
		detail := it.Detail
		if len(detail) > 80 {
			detail = detail[:80] + "…"
		}
		t.Row(it.CreatedAt.Format("2006-01-02 15:04"), string(it.Kind), job, detail)
	}
	return t.Render() + "\n"
}
